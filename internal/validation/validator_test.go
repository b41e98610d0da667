package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morphos-dev/morphos/pkg/schema"
)

func newValidator(t *testing.T) *WorkflowValidator {
	t.Helper()
	v, err := NewWorkflowValidator()
	require.NoError(t, err)
	return v
}

func validWorkflow() *schema.Workflow {
	return &schema.Workflow{
		ID:   "wf-1",
		Name: "valid",
		Nodes: []schema.WorkflowNode{
			{ID: "in-1", Type: schema.NodeTypeInput,
				Data: json.RawMessage(`{"type":"input","name":"Seed","prompt":"start"}`)},
			{ID: "agent-1", Type: schema.NodeTypeAgent,
				Data: json.RawMessage(`{"type":"agent","name":"Agent1","prompt":"work"}`)},
			{ID: "out-1", Type: schema.NodeTypeOutput,
				Data: json.RawMessage(`{"type":"output","name":"Out"}`)},
		},
		Edges: []schema.WorkflowEdge{
			{ID: "e1", Source: "in-1", Target: "agent-1"},
			{ID: "e2", Source: "agent-1", Target: "out-1"},
		},
	}
}

// --- Pipeline ---

func TestValidate_ValidWorkflow(t *testing.T) {
	result := newValidator(t).Validate(validWorkflow())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidate_NilWorkflow(t *testing.T) {
	result := newValidator(t).Validate(nil)
	require.False(t, result.Valid())
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	wf := validWorkflow()
	wf.Name = ""

	result := newValidator(t).Validate(wf)
	assert.False(t, result.Valid())
}

func TestValidateWorkflow_ReturnsStructuredError(t *testing.T) {
	wf := validWorkflow()
	wf.Nodes[1].Data = json.RawMessage(`{"type":"agent","name":"Agent1"}`) // no prompt

	err := newValidator(t).ValidateWorkflow(wf)
	require.Error(t, err)
	serr, ok := err.(*schema.Error)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, serr.Code)
}

// --- Semantic checks ---

func TestValidate_DuplicateNodeID(t *testing.T) {
	wf := validWorkflow()
	wf.Nodes = append(wf.Nodes, schema.WorkflowNode{
		ID: "in-1", Type: schema.NodeTypeOutput,
		Data: json.RawMessage(`{"type":"output","name":"Dup"}`),
	})

	result := newValidator(t).Validate(wf)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "duplicate node id")
}

func TestValidate_DataTypeMismatch(t *testing.T) {
	wf := validWorkflow()
	wf.Nodes[0].Data = json.RawMessage(`{"type":"agent","name":"Seed","prompt":"start"}`)

	result := newValidator(t).Validate(wf)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "does not match node type")
}

func TestValidate_DanglingEdgeEndpoint(t *testing.T) {
	wf := validWorkflow()
	wf.Edges = append(wf.Edges, schema.WorkflowEdge{ID: "e3", Source: "agent-1", Target: "ghost"})

	result := newValidator(t).Validate(wf)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "unknown target node")
}

func TestValidate_SelfLoop(t *testing.T) {
	wf := validWorkflow()
	wf.Edges = append(wf.Edges, schema.WorkflowEdge{ID: "e3", Source: "agent-1", Target: "agent-1"})

	result := newValidator(t).Validate(wf)
	assert.False(t, result.Valid())
}

func TestValidate_NameCollisionWarns(t *testing.T) {
	wf := validWorkflow()
	wf.Nodes[2].Data = json.RawMessage(`{"type":"output","name":"Agent1"}`)

	result := newValidator(t).Validate(wf)
	assert.True(t, result.Valid(), "name collisions warn, not fail")
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0].Message, "ambiguous")
}

func TestValidate_ConditionRequiresExpression(t *testing.T) {
	wf := validWorkflow()
	wf.Nodes = append(wf.Nodes, schema.WorkflowNode{
		ID: "cond-1", Type: schema.NodeTypeCondition,
		Data: json.RawMessage(`{"type":"condition","name":"Branch"}`),
	})
	wf.Edges = append(wf.Edges, schema.WorkflowEdge{ID: "e3", Source: "out-1", Target: "cond-1"})

	result := newValidator(t).Validate(wf)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "requires an expression")
}

func TestValidate_ConditionRejectsUnknownEngine(t *testing.T) {
	wf := validWorkflow()
	wf.Nodes = append(wf.Nodes, schema.WorkflowNode{
		ID: "cond-1", Type: schema.NodeTypeCondition,
		Data: json.RawMessage(`{"type":"condition","name":"Branch","expression":"true","engine":"lua"}`),
	})
	wf.Edges = append(wf.Edges, schema.WorkflowEdge{ID: "e3", Source: "out-1", Target: "cond-1"})

	result := newValidator(t).Validate(wf)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "unknown engine")
}

func TestValidate_EvolveRequiresSource(t *testing.T) {
	wf := validWorkflow()
	wf.Nodes = append(wf.Nodes, schema.WorkflowNode{
		ID: "ev-1", Type: schema.NodeTypeEvolve,
		Data: json.RawMessage(`{"type":"evolve","name":"Evolver"}`),
	})
	wf.Edges = append(wf.Edges, schema.WorkflowEdge{ID: "e3", Source: "out-1", Target: "ev-1"})

	result := newValidator(t).Validate(wf)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "requires a source reference")
}

// --- Cycle detection ---

func TestValidate_SimpleCycle(t *testing.T) {
	wf := validWorkflow()
	wf.Edges = append(wf.Edges, schema.WorkflowEdge{ID: "e3", Source: "out-1", Target: "in-1"})

	result := newValidator(t).Validate(wf)
	require.False(t, result.Valid())
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeCycleDetected, result.Errors[0].Code)
}

func TestValidate_TwoNodeCycle(t *testing.T) {
	wf := &schema.Workflow{
		ID:   "wf-cycle",
		Name: "cycle",
		Nodes: []schema.WorkflowNode{
			{ID: "a", Type: schema.NodeTypeAgent,
				Data: json.RawMessage(`{"type":"agent","name":"A","prompt":"p"}`)},
			{ID: "b", Type: schema.NodeTypeAgent,
				Data: json.RawMessage(`{"type":"agent","name":"B","prompt":"p"}`)},
		},
		Edges: []schema.WorkflowEdge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "b", Target: "a"},
		},
	}

	result := newValidator(t).Validate(wf)
	require.False(t, result.Valid())
	assert.Equal(t, schema.ErrCodeCycleDetected, result.Errors[0].Code)
}

func TestValidate_DiamondIsNotACycle(t *testing.T) {
	wf := validWorkflow()
	wf.Nodes = append(wf.Nodes, schema.WorkflowNode{
		ID: "agent-2", Type: schema.NodeTypeAgent,
		Data: json.RawMessage(`{"type":"agent","name":"Agent2","prompt":"also work"}`),
	})
	wf.Edges = append(wf.Edges,
		schema.WorkflowEdge{ID: "e3", Source: "in-1", Target: "agent-2"},
		schema.WorkflowEdge{ID: "e4", Source: "agent-2", Target: "out-1"})

	result := newValidator(t).Validate(wf)
	assert.True(t, result.Valid())
}

// --- Reachability ---

func TestValidate_DisconnectedComponentHasItsOwnRoot(t *testing.T) {
	wf := &schema.Workflow{
		ID:   "wf-island",
		Name: "island",
		Nodes: []schema.WorkflowNode{
			{ID: "a", Type: schema.NodeTypeInput,
				Data: json.RawMessage(`{"type":"input","name":"A","prompt":"p"}`)},
			{ID: "b", Type: schema.NodeTypeAgent,
				Data: json.RawMessage(`{"type":"agent","name":"B","prompt":"p"}`)},
			{ID: "island-1", Type: schema.NodeTypeAgent,
				Data: json.RawMessage(`{"type":"agent","name":"C","prompt":"p"}`)},
			{ID: "island-2", Type: schema.NodeTypeAgent,
				Data: json.RawMessage(`{"type":"agent","name":"D","prompt":"p"}`)},
		},
		Edges: []schema.WorkflowEdge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "island-1", Target: "island-2"},
		},
	}

	// island-1 has no predecessors, so the disconnected pair is reachable
	// from its own root and produces no warnings.
	result := newValidator(t).Validate(wf)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}
