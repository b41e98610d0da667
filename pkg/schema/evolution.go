package schema

import (
	"encoding/json"
	"time"
)

// Mutation operation tags. Unknown tags are ignored by the applier so an
// older engine can skip mutation kinds it does not recognize.
const (
	MutationUpdateNodeConfig      = "update-node-config"
	MutationUpdatePrompt          = "update-prompt"
	MutationUpdateModel           = "update-model"
	MutationAddNode               = "add-node"
	MutationRemoveNode            = "remove-node"
	MutationAddEdge               = "add-edge"
	MutationRemoveEdge            = "remove-edge"
	MutationUpdateWorkflowSetting = "update-workflow-setting"
)

// MutationOp is one atomic, typed edit instruction against a workflow graph.
// Only the fields relevant to Op are set.
type MutationOp struct {
	Op string `json:"op"`

	// Per-node ops: update-node-config, update-prompt, update-model,
	// remove-node.
	NodeID string `json:"nodeId,omitempty"`

	// update-node-config: dot-separated path into the node's data payload;
	// purely numeric segments index arrays.
	Path     string          `json:"path,omitempty"`
	NewValue json.RawMessage `json:"newValue,omitempty"`

	// update-prompt / update-model.
	NewPrompt string `json:"newPrompt,omitempty"`
	NewModel  string `json:"newModel,omitempty"`

	// add-node.
	Node        *WorkflowNode `json:"node,omitempty"`
	ConnectFrom string        `json:"connectFrom,omitempty"`
	ConnectTo   string        `json:"connectTo,omitempty"`

	// add-edge / remove-edge.
	Edge   *WorkflowEdge `json:"edge,omitempty"`
	EdgeID string        `json:"edgeId,omitempty"`

	// update-workflow-setting: one of "name", "description",
	// "workingDirectory".
	Setting      string `json:"setting,omitempty"`
	SettingValue string `json:"value,omitempty"`
}

// WorkflowEvolution is a proposed, not-yet-applied batch of mutations.
type WorkflowEvolution struct {
	Reasoning      string       `json:"reasoning"`
	Mutations      []MutationOp `json:"mutations"`
	ExpectedImpact string       `json:"expectedImpact"`
	RiskAssessment string       `json:"riskAssessment,omitempty"`
	RollbackPlan   string       `json:"rollbackPlan,omitempty"`
}

// WorkflowSnapshot is an immutable point-in-time capture used for diffing.
type WorkflowSnapshot struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Nodes      []WorkflowNode `json:"nodes"`
	Edges      []WorkflowEdge `json:"edges"`
	CapturedAt time.Time      `json:"capturedAt"`
}

// WorkflowDiff summarizes the structural change between two snapshots.
// Edges are compared purely by ID-set membership.
type WorkflowDiff struct {
	AddedNodes   []WorkflowNode `json:"addedNodes"`
	RemovedNodes []WorkflowNode `json:"removedNodes"`
	ChangedNodes []string       `json:"changedNodes"`
	AddedEdges   []WorkflowEdge `json:"addedEdges"`
	RemovedEdges []string       `json:"removedEdges"`
}

// Empty reports whether the diff records no structural change.
func (d *WorkflowDiff) Empty() bool {
	return len(d.AddedNodes) == 0 && len(d.RemovedNodes) == 0 &&
		len(d.ChangedNodes) == 0 && len(d.AddedEdges) == 0 && len(d.RemovedEdges) == 0
}

// EvolutionHistoryRecord is one append-only log entry per evolution attempt.
// Never mutated after creation.
type EvolutionHistoryRecord struct {
	Timestamp        time.Time         `json:"timestamp"`
	WorkflowID       string            `json:"workflowId"`
	ExecutionID      string            `json:"executionId,omitempty"`
	NodeID           string            `json:"nodeId,omitempty"`
	Mode             string            `json:"mode,omitempty"`
	Evolution        WorkflowEvolution `json:"evolution"`
	Applied          bool              `json:"applied"`
	ValidationErrors []string          `json:"validationErrors,omitempty"`
	BeforeSnapshot   *WorkflowSnapshot `json:"beforeSnapshot,omitempty"`
	AfterSnapshot    *WorkflowSnapshot `json:"afterSnapshot,omitempty"`
	Diff             *WorkflowDiff     `json:"diff,omitempty"`
}
