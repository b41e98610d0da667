package schema

import (
	"encoding/json"
	"time"
)

// NodeStatus represents the lifecycle state of a node within one run.
// Transitions are monotonic: pending → running → {complete|error}, or
// pending → skipped. A node never returns to pending in the same run.
type NodeStatus string

const (
	NodeStatusPending  NodeStatus = "pending"
	NodeStatusRunning  NodeStatus = "running"
	NodeStatusComplete NodeStatus = "complete"
	NodeStatusError    NodeStatus = "error"
	NodeStatusSkipped  NodeStatus = "skipped"
)

// Terminal reports whether no further transition occurs from this status.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusComplete || s == NodeStatusError || s == NodeStatusSkipped
}

// ExecutionStatus is the terminal outcome of a run.
type ExecutionStatus string

const (
	ExecutionStatusRunning     ExecutionStatus = "running"
	ExecutionStatusComplete    ExecutionStatus = "complete"
	ExecutionStatusFailed      ExecutionStatus = "failed"
	ExecutionStatusInterrupted ExecutionStatus = "interrupted"
)

// Lifecycle event kinds emitted by the scheduler, consumed by transports.
const (
	EventExecutionStart       = "execution-start"
	EventNodeStart            = "node-start"
	EventNodeOutput           = "node-output" // incremental
	EventNodeComplete         = "node-complete"
	EventNodeError            = "node-error"
	EventNodeSkipped          = "node-skipped"
	EventExecutionComplete    = "execution-complete"
	EventExecutionInterrupted = "execution-interrupted"
)

// ExecutionEvent is one entry in the lazy event sequence produced by a run.
// Events for a single node preserve emission order; events of different
// nodes in the same wave may interleave.
type ExecutionEvent struct {
	Type        string          `json:"type"`
	ExecutionID string          `json:"executionId"`
	WorkflowID  string          `json:"workflowId"`
	NodeID      string          `json:"nodeId,omitempty"`
	Status      ExecutionStatus `json:"status,omitempty"` // terminal events only
	Payload     json.RawMessage `json:"payload,omitempty"`
	Error       *Error          `json:"error,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}
