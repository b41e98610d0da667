package evolution

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morphos-dev/morphos/pkg/schema"
)

func testWorkflow() *schema.Workflow {
	return &schema.Workflow{
		ID:   "wf-1",
		Name: "test",
		Nodes: []schema.WorkflowNode{
			{ID: "agent-1", Type: schema.NodeTypeAgent,
				Data: json.RawMessage(`{"type":"agent","name":"Agent1","model":"sonnet","prompt":"do work"}`)},
			{ID: "agent-2", Type: schema.NodeTypeAgent,
				Data: json.RawMessage(`{"type":"agent","name":"Agent2","model":"sonnet","prompt":"review"}`)},
			{ID: "out-1", Type: schema.NodeTypeOutput,
				Data: json.RawMessage(`{"type":"output","name":"Out"}`)},
		},
		Edges: []schema.WorkflowEdge{
			{ID: "e1", Source: "agent-1", Target: "agent-2"},
			{ID: "e2", Source: "agent-2", Target: "out-1"},
		},
	}
}

func nodeData(t *testing.T, wf *schema.Workflow, id string) map[string]any {
	t.Helper()
	node := wf.NodeByID(id)
	require.NotNil(t, node)
	var data map[string]any
	require.NoError(t, json.Unmarshal(node.Data, &data))
	return data
}

// --- Per-node updates ---

func TestApplyMutations_UpdateModelChangesOnlyTarget(t *testing.T) {
	wf := testWorkflow()
	before := Snapshot(wf)

	updated, err := ApplyMutations(wf, []schema.MutationOp{
		{Op: schema.MutationUpdateModel, NodeID: "agent-1", NewModel: "opus"},
	})
	require.NoError(t, err)

	assert.Equal(t, "opus", nodeData(t, updated, "agent-1")["model"])
	assert.Equal(t, "sonnet", nodeData(t, updated, "agent-2")["model"])

	diff := Diff(before, Snapshot(updated))
	assert.Equal(t, []string{"agent-1"}, diff.ChangedNodes)
	assert.Empty(t, diff.AddedNodes)
	assert.Empty(t, diff.RemovedNodes)
	assert.Empty(t, diff.AddedEdges)
	assert.Empty(t, diff.RemovedEdges)
}

func TestApplyMutations_UpdatePromptDefaultsPath(t *testing.T) {
	wf := testWorkflow()

	updated, err := ApplyMutations(wf, []schema.MutationOp{
		{Op: schema.MutationUpdatePrompt, NodeID: "agent-1", NewPrompt: "refined prompt"},
	})
	require.NoError(t, err)
	assert.Equal(t, "refined prompt", nodeData(t, updated, "agent-1")["prompt"])
}

func TestApplyMutations_UpdateNodeConfigNestedPath(t *testing.T) {
	wf := testWorkflow()

	updated, err := ApplyMutations(wf, []schema.MutationOp{
		{Op: schema.MutationUpdateNodeConfig, NodeID: "agent-1",
			Path: "options.retries.max", NewValue: json.RawMessage(`3`)},
	})
	require.NoError(t, err)

	data := nodeData(t, updated, "agent-1")
	options := data["options"].(map[string]any)
	retries := options["retries"].(map[string]any)
	assert.Equal(t, float64(3), retries["max"])
}

func TestApplyMutations_NumericSegmentIndexesArray(t *testing.T) {
	wf := testWorkflow()

	updated, err := ApplyMutations(wf, []schema.MutationOp{
		{Op: schema.MutationUpdateNodeConfig, NodeID: "agent-1",
			Path: "options.tags.1", NewValue: json.RawMessage(`"second"`)},
	})
	require.NoError(t, err)

	options := nodeData(t, updated, "agent-1")["options"].(map[string]any)
	tags := options["tags"].([]any)
	require.Len(t, tags, 2)
	assert.Nil(t, tags[0])
	assert.Equal(t, "second", tags[1])
}

func TestApplyMutations_BlacklistedPathRejected(t *testing.T) {
	wf := testWorkflow()

	for _, seg := range []string{"__proto__", "prototype", "constructor"} {
		_, err := ApplyMutations(wf, []schema.MutationOp{
			{Op: schema.MutationUpdateNodeConfig, NodeID: "agent-1",
				Path: "options." + seg, NewValue: json.RawMessage(`"x"`)},
		})
		assert.Error(t, err, "segment %q must be rejected", seg)
	}
}

// --- Structural operations ---

func TestApplyMutations_AddNodeWithConnectFrom(t *testing.T) {
	wf := testWorkflow()

	updated, err := ApplyMutations(wf, []schema.MutationOp{
		{Op: schema.MutationAddNode,
			Node: &schema.WorkflowNode{ID: "agent-3", Type: schema.NodeTypeAgent,
				Data: json.RawMessage(`{"type":"agent","name":"Agent3","prompt":"extra"}`)},
			ConnectFrom: "agent-2"},
	})
	require.NoError(t, err)

	require.NotNil(t, updated.NodeByID("agent-3"))
	var connecting []schema.WorkflowEdge
	for _, e := range updated.Edges {
		if e.Source == "agent-2" && e.Target == "agent-3" {
			connecting = append(connecting, e)
		}
	}
	require.Len(t, connecting, 1)
	assert.NotEmpty(t, connecting[0].ID)
}

func TestApplyMutations_AddDuplicateNodeFails(t *testing.T) {
	wf := testWorkflow()

	_, err := ApplyMutations(wf, []schema.MutationOp{
		{Op: schema.MutationAddNode,
			Node: &schema.WorkflowNode{ID: "agent-1", Type: schema.NodeTypeAgent}},
	})
	assert.Error(t, err)
}

func TestApplyMutations_RemoveNodeRemovesTouchingEdges(t *testing.T) {
	wf := testWorkflow()

	updated, err := ApplyMutations(wf, []schema.MutationOp{
		{Op: schema.MutationRemoveNode, NodeID: "agent-2"},
	})
	require.NoError(t, err)

	assert.Nil(t, updated.NodeByID("agent-2"))
	assert.Empty(t, updated.Edges, "both edges touched agent-2")
}

func TestApplyMutations_AddEdgeGeneratesID(t *testing.T) {
	wf := testWorkflow()

	updated, err := ApplyMutations(wf, []schema.MutationOp{
		{Op: schema.MutationAddEdge,
			Edge: &schema.WorkflowEdge{Source: "agent-1", Target: "out-1"}},
	})
	require.NoError(t, err)

	require.Len(t, updated.Edges, 3)
	assert.NotEmpty(t, updated.Edges[2].ID)
}

func TestApplyMutations_AddEdgeUnknownEndpointFails(t *testing.T) {
	wf := testWorkflow()

	_, err := ApplyMutations(wf, []schema.MutationOp{
		{Op: schema.MutationAddEdge,
			Edge: &schema.WorkflowEdge{Source: "agent-1", Target: "ghost"}},
	})
	assert.Error(t, err)
}

func TestApplyMutations_RemoveMissingEdgeFails(t *testing.T) {
	wf := testWorkflow()

	_, err := ApplyMutations(wf, []schema.MutationOp{
		{Op: schema.MutationRemoveEdge, EdgeID: "no-such-edge"},
	})
	assert.Error(t, err)
}

func TestApplyMutations_UpdateWorkflowSetting(t *testing.T) {
	wf := testWorkflow()

	updated, err := ApplyMutations(wf, []schema.MutationOp{
		{Op: schema.MutationUpdateWorkflowSetting, Setting: "name", SettingValue: "renamed"},
		{Op: schema.MutationUpdateWorkflowSetting, Setting: "schedule", SettingValue: "0 6 * * *"},
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, "0 6 * * *", updated.Schedule)
}

func TestApplyMutations_UnknownSettingFails(t *testing.T) {
	wf := testWorkflow()

	_, err := ApplyMutations(wf, []schema.MutationOp{
		{Op: schema.MutationUpdateWorkflowSetting, Setting: "owner", SettingValue: "x"},
	})
	assert.Error(t, err)
}

// --- Batch semantics ---

func TestApplyMutations_OriginalNeverModified(t *testing.T) {
	wf := testWorkflow()
	originalBytes, err := json.Marshal(wf)
	require.NoError(t, err)

	_, err = ApplyMutations(wf, []schema.MutationOp{
		{Op: schema.MutationUpdateModel, NodeID: "agent-1", NewModel: "opus"},
		{Op: schema.MutationRemoveNode, NodeID: "out-1"},
	})
	require.NoError(t, err)

	afterBytes, err := json.Marshal(wf)
	require.NoError(t, err)
	assert.JSONEq(t, string(originalBytes), string(afterBytes))
}

func TestApplyMutations_MissingTargetFailsWholeBatch(t *testing.T) {
	wf := testWorkflow()
	originalBytes, err := json.Marshal(wf)
	require.NoError(t, err)

	updated, err := ApplyMutations(wf, []schema.MutationOp{
		{Op: schema.MutationUpdateModel, NodeID: "agent-1", NewModel: "opus"},
		{Op: schema.MutationUpdateModel, NodeID: "ghost", NewModel: "opus"},
	})
	require.Error(t, err)
	assert.Nil(t, updated)
	assert.Contains(t, err.Error(), "mutation 1")

	afterBytes, err := json.Marshal(wf)
	require.NoError(t, err)
	assert.JSONEq(t, string(originalBytes), string(afterBytes))
}

func TestApplyMutations_UnknownOpIsNoOp(t *testing.T) {
	wf := testWorkflow()

	updated, err := ApplyMutations(wf, []schema.MutationOp{
		{Op: "teleport-node", NodeID: "agent-1"},
	})
	require.NoError(t, err)

	diff := Diff(Snapshot(wf), Snapshot(updated))
	assert.True(t, diff.Empty())
}

func TestApplyMutations_EmptyBatchReturnsEqualCopy(t *testing.T) {
	wf := testWorkflow()

	updated, err := ApplyMutations(wf, nil)
	require.NoError(t, err)
	assert.True(t, Diff(Snapshot(wf), Snapshot(updated)).Empty())
}
