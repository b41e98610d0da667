package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/morphos-dev/morphos/internal/engine"
	"github.com/morphos-dev/morphos/internal/evolution"
	"github.com/morphos-dev/morphos/pkg/schema"
)

// handleCreate validates and stores a workflow graph.
func (s *MorphosServer) handleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wf, err := parseWorkflow(req, "workflow")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}

	if result := s.validator.Validate(wf); !result.Valid() {
		return marshalResult(map[string]any{"valid": false, "result": result})
	}

	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create workflow: %v", err)), nil
	}

	return marshalResult(map[string]any{"id": wf.ID, "name": wf.Name})
}

// handleRun executes a workflow to its terminal event and returns the
// final execution record.
func (s *MorphosServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	input := req.GetString("input", "")
	executionID := req.GetString("execution_id", "")

	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", err)), nil
	}

	opts := engine.RunOptions{ExecutionID: executionID, Input: input}
	if executionID != "" {
		if rec, err := s.store.GetExecution(ctx, executionID); err == nil {
			opts.Resume = rec
		}
	}

	events, err := s.scheduler.Execute(ctx, wf, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow execution failed: %v", err)), nil
	}

	var terminal schema.ExecutionEvent
	for ev := range events {
		terminal = ev
	}

	rec, err := s.store.GetExecution(ctx, terminal.ExecutionID)
	if err != nil {
		return marshalResult(terminal)
	}
	return marshalResult(rec)
}

// handleStatus returns the persisted state of an execution.
func (s *MorphosServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	rec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", err)), nil
	}
	return marshalResult(rec)
}

// handleEvolve applies a mutation batch through the applier.
func (s *MorphosServer) handleEvolve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	raw := mcp.ParseStringMap(req, "evolution", nil)
	if raw == nil {
		return mcp.NewToolResultError("evolution is required"), nil
	}
	bytes, err := json.Marshal(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid evolution: %v", err)), nil
	}
	var proposal schema.WorkflowEvolution
	if err := json.Unmarshal(bytes, &proposal); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid evolution: %v", err)), nil
	}

	mode := req.GetString("mode", "manual")
	result, err := s.applier.Apply(ctx, workflowID, proposal, evolution.ApplyMeta{Mode: mode})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("evolution failed: %v", err)), nil
	}

	return marshalResult(map[string]any{
		"applied": true,
		"diff":    result.Diff,
	})
}

// handleHistory reads the evolution audit trail for a workflow.
func (s *MorphosServer) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	records, err := s.applier.History(workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("history query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"history": records})
}

// handleValidate runs the validation pipeline without persisting anything.
func (s *MorphosServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wf, err := parseWorkflow(req, "workflow")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := s.validator.Validate(wf)
	return marshalResult(map[string]any{
		"valid":  result.Valid(),
		"result": result,
	})
}

// --- Internal helpers ---

// parseWorkflow extracts and decodes a workflow object argument.
func parseWorkflow(req mcp.CallToolRequest, key string) (*schema.Workflow, error) {
	raw := mcp.ParseStringMap(req, key, nil)
	if raw == nil {
		return nil, fmt.Errorf("%s is required", key)
	}
	bytes, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %v", key, err)
	}
	wf := &schema.Workflow{}
	if err := json.Unmarshal(bytes, wf); err != nil {
		return nil, fmt.Errorf("invalid %s: %v", key, err)
	}
	return wf, nil
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
