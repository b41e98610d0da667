package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morphos-dev/morphos/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedWorkflow(t *testing.T, s *LibSQLStore) *schema.Workflow {
	t.Helper()
	wf := &schema.Workflow{
		ID:   uuid.NewString(),
		Name: "seed",
		Nodes: []schema.WorkflowNode{
			{ID: "in-1", Type: schema.NodeTypeInput,
				Data: json.RawMessage(`{"type":"input","name":"Seed","prompt":"start"}`)},
		},
		Edges: []schema.WorkflowEdge{},
	}
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))
	return wf
}

// --- Workflow tests ---

func TestCreateAndGetWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := &schema.Workflow{
		ID:          uuid.NewString(),
		Name:        "review-pipeline",
		Description: "a pipeline",
		Schedule:    "0 6 * * *",
		Nodes: []schema.WorkflowNode{
			{ID: "agent-1", Type: schema.NodeTypeAgent,
				Data: json.RawMessage(`{"type":"agent","name":"Agent1","model":"sonnet","prompt":"work"}`)},
		},
		Edges: []schema.WorkflowEdge{},
	}
	require.NoError(t, s.CreateWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, got.ID)
	assert.Equal(t, "review-pipeline", got.Name)
	assert.Equal(t, "0 6 * * *", got.Schedule)
	require.Len(t, got.Nodes, 1)
	assert.JSONEq(t, string(wf.Nodes[0].Data), string(got.Nodes[0].Data))
}

func TestGetWorkflow_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetWorkflow(context.Background(), "nonexistent")
	require.Error(t, err)
	serr, ok := err.(*schema.Error)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, serr.Code)
}

func TestUpdateWorkflow_ReplacesDefinition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	wf.Name = "renamed"
	wf.Nodes = append(wf.Nodes, schema.WorkflowNode{
		ID: "agent-1", Type: schema.NodeTypeAgent,
		Data: json.RawMessage(`{"type":"agent","name":"Agent1","prompt":"p"}`),
	})
	require.NoError(t, s.UpdateWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Len(t, got.Nodes, 2)
}

func TestUpdateWorkflow_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateWorkflow(context.Background(), &schema.Workflow{ID: "ghost", Name: "x"})
	require.Error(t, err)
}

func TestListWorkflows_ScheduledFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedWorkflow(t, s) // no schedule
	scheduled := &schema.Workflow{
		ID:       uuid.NewString(),
		Name:     "nightly",
		Schedule: "0 2 * * *",
		Nodes:    []schema.WorkflowNode{},
		Edges:    []schema.WorkflowEdge{},
	}
	require.NoError(t, s.CreateWorkflow(ctx, scheduled))

	all, err := s.ListWorkflows(ctx, WorkflowFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	cron, err := s.ListWorkflows(ctx, WorkflowFilter{Scheduled: true})
	require.NoError(t, err)
	require.Len(t, cron, 1)
	assert.Equal(t, scheduled.ID, cron[0].ID)
}

func TestDeleteWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	require.NoError(t, s.DeleteWorkflow(ctx, wf.ID))
	_, err := s.GetWorkflow(ctx, wf.ID)
	require.Error(t, err)

	require.Error(t, s.DeleteWorkflow(ctx, wf.ID))
}

// --- Execution tests ---

func TestSaveAndGetExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	rec := &ExecutionRecord{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		Status:     schema.ExecutionStatusRunning,
		Input:      "start here",
		NodeOutputs: map[string]any{
			"in-1": "start here",
		},
		NodeStatuses: map[string]schema.NodeStatus{
			"in-1": schema.NodeStatusComplete,
		},
		Variables: map[string]any{"node.in-1.runCount": float64(1)},
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveExecution(ctx, rec))

	got, err := s.GetExecution(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, got.WorkflowID)
	assert.Equal(t, schema.ExecutionStatusRunning, got.Status)
	assert.Equal(t, "start here", got.Input)
	assert.Equal(t, "start here", got.NodeOutputs["in-1"])
	assert.Equal(t, schema.NodeStatusComplete, got.NodeStatuses["in-1"])
	assert.Equal(t, float64(1), got.Variables["node.in-1.runCount"])
	assert.Nil(t, got.CompletedAt)
}

func TestSaveExecution_UpsertTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	rec := &ExecutionRecord{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		Status:     schema.ExecutionStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.SaveExecution(ctx, rec))

	done := time.Now().UTC()
	rec.Status = schema.ExecutionStatusComplete
	rec.CompletedAt = &done
	rec.NodeStatuses = map[string]schema.NodeStatus{"in-1": schema.NodeStatusComplete}
	require.NoError(t, s.SaveExecution(ctx, rec))

	got, err := s.GetExecution(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusComplete, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, schema.NodeStatusComplete, got.NodeStatuses["in-1"])
}

func TestSaveExecution_PersistsError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	rec := &ExecutionRecord{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		Status:     schema.ExecutionStatusFailed,
		Error:      schema.NewError(schema.ErrCodeNodeFailed, "agent exploded").WithNode("agent-1"),
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.SaveExecution(ctx, rec))

	got, err := s.GetExecution(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, schema.ErrCodeNodeFailed, got.Error.Code)
	assert.Equal(t, "agent-1", got.Error.NodeID)
}

func TestGetExecution_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetExecution(context.Background(), "nonexistent")
	require.Error(t, err)
	serr, ok := err.(*schema.Error)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, serr.Code)
}

func TestListExecutions_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wfA := seedWorkflow(t, s)
	wfB := seedWorkflow(t, s)

	base := time.Now().UTC().Add(-time.Hour)
	for i, wf := range []*schema.Workflow{wfA, wfA, wfB} {
		status := schema.ExecutionStatusComplete
		if i == 1 {
			status = schema.ExecutionStatusFailed
		}
		require.NoError(t, s.SaveExecution(ctx, &ExecutionRecord{
			ID:         uuid.NewString(),
			WorkflowID: wf.ID,
			Status:     status,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	byWorkflow, err := s.ListExecutions(ctx, ExecutionFilter{WorkflowID: wfA.ID})
	require.NoError(t, err)
	assert.Len(t, byWorkflow, 2)

	failed := schema.ExecutionStatusFailed
	byStatus, err := s.ListExecutions(ctx, ExecutionFilter{Status: &failed})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, wfA.ID, byStatus[0].WorkflowID)

	limited, err := s.ListExecutions(ctx, ExecutionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeleteWorkflow_CascadesExecutions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	rec := &ExecutionRecord{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		Status:     schema.ExecutionStatusComplete,
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.SaveExecution(ctx, rec))
	require.NoError(t, s.DeleteWorkflow(ctx, wf.ID))

	_, err := s.GetExecution(ctx, rec.ID)
	require.Error(t, err)
}
