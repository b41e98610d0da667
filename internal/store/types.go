package store

import (
	"time"

	"github.com/morphos-dev/morphos/pkg/schema"
)

// ExecutionRecord is the persisted state of a single workflow run. It is
// upserted on every lifecycle transition so an interrupted run can resume
// from the last saved wave.
type ExecutionRecord struct {
	ID           string                       `json:"id"`
	WorkflowID   string                       `json:"workflow_id"`
	Status       schema.ExecutionStatus       `json:"status"`
	Input        string                       `json:"input,omitempty"`
	NodeOutputs  map[string]any               `json:"node_outputs,omitempty"`
	NodeStatuses map[string]schema.NodeStatus `json:"node_statuses,omitempty"`
	Variables    map[string]any               `json:"variables,omitempty"`
	Error        *schema.Error                `json:"error,omitempty"`
	StartedAt    time.Time                    `json:"started_at"`
	CompletedAt  *time.Time                   `json:"completed_at,omitempty"`
}

// WorkflowFilter narrows ListWorkflows results.
type WorkflowFilter struct {
	// Scheduled selects only workflows with a non-empty cron schedule.
	Scheduled bool
	Limit     int
	Offset    int
}

// ExecutionFilter narrows ListExecutions results.
type ExecutionFilter struct {
	WorkflowID string
	Status     *schema.ExecutionStatus
	Since      *time.Time
	Limit      int
}
