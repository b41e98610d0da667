package engine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/morphos-dev/morphos/internal/evolution"
	"github.com/morphos-dev/morphos/pkg/schema"
)

// evolveHandler reads a WorkflowEvolution proposal from the node's source
// reference and hands it to the applier. The mutation applies to the
// persisted workflow, not the running copy; the current run continues on
// the graph it started with.
type evolveHandler struct {
	applier *evolution.Applier
}

func (h evolveHandler) Execute(ctx context.Context, hc HandlerContext) (<-chan HandlerEvent, error) {
	var cfg schema.EvolveConfig
	if err := decodeConfig(hc.Node, &cfg); err != nil {
		return nil, err
	}

	raw := strings.TrimSpace(interpolate(cfg.Source, hc))
	if raw == "" || strings.Contains(raw, "{{") {
		return nil, schema.NewErrorf(schema.ErrCodeEvolution,
			"evolve node %q source %q did not resolve to a proposal", hc.Node.ID, cfg.Source).WithNode(hc.Node.ID)
	}

	var proposal schema.WorkflowEvolution
	if err := json.Unmarshal([]byte(raw), &proposal); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeEvolution,
			"evolve node %q source is not a valid evolution proposal", hc.Node.ID).WithNode(hc.Node.ID).WithCause(err)
	}

	result, err := h.applier.Apply(ctx, hc.Exec.WorkflowID, proposal, evolution.ApplyMeta{
		ExecutionID: hc.Exec.ExecutionID,
		NodeID:      hc.Node.ID,
		Mode:        cfg.Mode,
	})
	if err != nil {
		return nil, err
	}

	return resultStream(map[string]any{
		"applied":      true,
		"reasoning":    proposal.Reasoning,
		"mutations":    len(proposal.Mutations),
		"addedNodes":   len(result.Diff.AddedNodes),
		"removedNodes": len(result.Diff.RemovedNodes),
		"changedNodes": result.Diff.ChangedNodes,
		"addedEdges":   len(result.Diff.AddedEdges),
		"removedEdges": result.Diff.RemovedEdges,
	}, nil), nil
}
