package streaming

import (
	"context"

	"github.com/morphos-dev/morphos/pkg/schema"
)

// EventFilter specifies which execution events a subscriber wants.
type EventFilter struct {
	WorkflowID  string   `json:"workflow_id,omitempty"`
	ExecutionID string   `json:"execution_id,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time execution events. The scheduler
// publishes every lifecycle event it emits; transports subscribe.
type EventHub interface {
	Publish(ctx context.Context, event schema.ExecutionEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan schema.ExecutionEvent, func(), error)
}
