package engine

import (
	"sync"

	"github.com/morphos-dev/morphos/internal/refs"
	"github.com/morphos-dev/morphos/pkg/schema"
)

// ExecutionContext is the per-run mutable state: node outputs, named
// variables, and per-node statuses. One instance per run, never shared
// across runs. Writes for a given node id come only from that node's own
// task; a single mutex guards the maps.
type ExecutionContext struct {
	ExecutionID string
	WorkflowID  string
	Input       string

	mu          sync.Mutex
	nodeOutputs map[string]any
	variables   map[string]any
	statuses    map[string]schema.NodeStatus
}

// NewExecutionContext creates a context with every node pending.
func NewExecutionContext(executionID string, wf *schema.Workflow, input string) *ExecutionContext {
	ec := &ExecutionContext{
		ExecutionID: executionID,
		WorkflowID:  wf.ID,
		Input:       input,
		nodeOutputs: make(map[string]any, len(wf.Nodes)),
		variables:   make(map[string]any),
		statuses:    make(map[string]schema.NodeStatus, len(wf.Nodes)),
	}
	for _, n := range wf.Nodes {
		ec.statuses[n.ID] = schema.NodeStatusPending
	}
	return ec
}

// Restore overlays persisted run state so scheduling continues from the
// last saved wave. Nodes recorded as running were in flight when the
// process stopped; they restart from pending.
func (ec *ExecutionContext) Restore(outputs map[string]any, statuses map[string]schema.NodeStatus, variables map[string]any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	for id, out := range outputs {
		ec.nodeOutputs[id] = out
	}
	for k, v := range variables {
		ec.variables[k] = v
	}
	for id, st := range statuses {
		if _, known := ec.statuses[id]; !known {
			continue
		}
		if st == schema.NodeStatusRunning {
			st = schema.NodeStatusPending
		}
		ec.statuses[id] = st
	}
}

// Status returns the node's current status.
func (ec *ExecutionContext) Status(nodeID string) schema.NodeStatus {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.statuses[nodeID]
}

// SetStatus transitions a node's status. Transitions out of a terminal
// status are ignored, keeping per-node status monotonic within a run.
func (ec *ExecutionContext) SetStatus(nodeID string, status schema.NodeStatus) bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.statuses[nodeID].Terminal() {
		return false
	}
	ec.statuses[nodeID] = status
	return true
}

// Statuses returns a copy of the status table.
func (ec *ExecutionContext) Statuses() map[string]schema.NodeStatus {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make(map[string]schema.NodeStatus, len(ec.statuses))
	for k, v := range ec.statuses {
		out[k] = v
	}
	return out
}

// SetOutput records a node's produced output.
func (ec *ExecutionContext) SetOutput(nodeID string, output any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.nodeOutputs[nodeID] = output
}

// Output returns a node's output, if any.
func (ec *ExecutionContext) Output(nodeID string) (any, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	v, ok := ec.nodeOutputs[nodeID]
	return v, ok
}

// Outputs returns a copy of the output table.
func (ec *ExecutionContext) Outputs() map[string]any {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make(map[string]any, len(ec.nodeOutputs))
	for k, v := range ec.nodeOutputs {
		out[k] = v
	}
	return out
}

// SetVariable stores a named variable.
func (ec *ExecutionContext) SetVariable(key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.variables[key] = value
}

// Variable returns a named variable, if set.
func (ec *ExecutionContext) Variable(key string) (any, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	v, ok := ec.variables[key]
	return v, ok
}

// Variables returns a copy of the variable table.
func (ec *ExecutionContext) Variables() map[string]any {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make(map[string]any, len(ec.variables))
	for k, v := range ec.variables {
		out[k] = v
	}
	return out
}

// IncrementRunCount bumps the node's run counter, returning the new value.
// References read it through {{Node.runCount}}.
func (ec *ExecutionContext) IncrementRunCount(nodeID string) int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	key := refs.RunCountKey(nodeID)
	count := 0
	if v, ok := ec.variables[key]; ok {
		switch n := v.(type) {
		case int:
			count = n
		case float64:
			count = int(n)
		}
	}
	count++
	ec.variables[key] = count
	return count
}

// SetTranscript stores the node's accumulated streaming text for
// {{Node.transcript}} fallback resolution.
func (ec *ExecutionContext) SetTranscript(nodeID, transcript string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.variables[refs.TranscriptKey(nodeID)] = transcript
}
