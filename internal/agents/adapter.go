package agents

import (
	"context"
	"sync"

	"github.com/morphos-dev/morphos/pkg/schema"
)

// Request carries everything an adapter needs to run one agent turn.
// Prompt arrives fully interpolated; adapters never see reference syntax.
type Request struct {
	ExecutionID      string
	NodeID           string
	Model            string
	Prompt           string
	WorkingDirectory string
	Options          map[string]any
}

// EventKind enumerates adapter stream event types.
type EventKind string

const (
	EventStarted     EventKind = "started"
	EventDelta       EventKind = "delta"
	EventCompleted   EventKind = "completed"
	EventInterrupted EventKind = "interrupted"
	EventErrored     EventKind = "errored"
)

// Event is one item on an adapter's output stream. Delta events carry
// incremental text; the completed event carries the final Result.
type Event struct {
	Kind  EventKind
	Delta string
	// Result is the agent's structured output: a map when the agent
	// produced parseable JSON, otherwise {"result": <text>}.
	Result map[string]any
	Err    error
}

// Adapter executes a single agent node. Stream returns immediately; events
// arrive on the channel, which is closed after the terminal event.
type Adapter interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}

// Registry maps provider keys to adapters. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its name. Registering the same name twice
// replaces the earlier adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for the provider key. An empty key selects the
// "default" adapter.
func (r *Registry) Get(provider string) (Adapter, error) {
	if provider == "" {
		provider = "default"
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[provider]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no agent adapter registered for provider %q", provider)
	}
	return a, nil
}
