package evolution

import (
	"context"
	"log/slog"
	"time"

	"github.com/morphos-dev/morphos/internal/store"
	"github.com/morphos-dev/morphos/internal/validation"
	"github.com/morphos-dev/morphos/pkg/schema"
)

// ApplyMeta carries provenance for the history record.
type ApplyMeta struct {
	ExecutionID string
	NodeID      string
	Mode        string
}

// ApplyResult is the outcome of a successful evolution.
type ApplyResult struct {
	Workflow *schema.Workflow
	Diff     *schema.WorkflowDiff
	Record   *schema.EvolutionHistoryRecord
}

// Applier executes evolution proposals: clone, mutate, validate, persist,
// diff, record. Failed attempts never touch the persisted workflow but are
// still recorded in history with applied=false.
type Applier struct {
	store     store.Store
	history   *HistoryLog
	validator *validation.WorkflowValidator
	logger    *slog.Logger
}

// NewApplier creates an Applier.
func NewApplier(st store.Store, history *HistoryLog, validator *validation.WorkflowValidator, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{store: st, history: history, validator: validator, logger: logger}
}

// Apply runs the full evolution pipeline against the persisted workflow.
func (a *Applier) Apply(ctx context.Context, workflowID string, ev schema.WorkflowEvolution, meta ApplyMeta) (*ApplyResult, error) {
	wf, err := a.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	before := Snapshot(wf)

	mutated, err := ApplyMutations(wf, ev.Mutations)
	if err != nil {
		a.recordFailure(ctx, workflowID, ev, meta, before, err)
		return nil, err
	}

	if result := a.validator.Validate(mutated); !result.Valid() {
		verr := result.ToError()
		a.recordFailure(ctx, workflowID, ev, meta, before, verr)
		return nil, verr
	}

	if err := a.store.UpdateWorkflow(ctx, mutated); err != nil {
		a.recordFailure(ctx, workflowID, ev, meta, before, err)
		return nil, err
	}

	after := Snapshot(mutated)
	diff := Diff(before, after)

	rec := &schema.EvolutionHistoryRecord{
		Timestamp:      time.Now().UTC(),
		WorkflowID:     workflowID,
		ExecutionID:    meta.ExecutionID,
		NodeID:         meta.NodeID,
		Mode:           meta.Mode,
		Evolution:      ev,
		Applied:        true,
		BeforeSnapshot: before,
		AfterSnapshot:  after,
		Diff:           diff,
	}
	if err := a.history.Append(rec); err != nil {
		// The workflow update already committed; losing the audit line is
		// worth a log entry but not a rollback.
		a.logger.ErrorContext(ctx, "failed to append evolution history",
			"workflow_id", workflowID, "error", err)
	}

	a.logger.InfoContext(ctx, "evolution applied",
		"workflow_id", workflowID,
		"mutations", len(ev.Mutations),
		"added_nodes", len(diff.AddedNodes),
		"removed_nodes", len(diff.RemovedNodes),
		"changed_nodes", len(diff.ChangedNodes))

	return &ApplyResult{Workflow: mutated, Diff: diff, Record: rec}, nil
}

// History returns the recorded evolution attempts for a workflow.
func (a *Applier) History(workflowID string) ([]schema.EvolutionHistoryRecord, error) {
	return a.history.Read(workflowID)
}

func (a *Applier) recordFailure(ctx context.Context, workflowID string, ev schema.WorkflowEvolution, meta ApplyMeta, before *schema.WorkflowSnapshot, cause error) {
	rec := &schema.EvolutionHistoryRecord{
		Timestamp:        time.Now().UTC(),
		WorkflowID:       workflowID,
		ExecutionID:      meta.ExecutionID,
		NodeID:           meta.NodeID,
		Mode:             meta.Mode,
		Evolution:        ev,
		Applied:          false,
		ValidationErrors: []string{cause.Error()},
		BeforeSnapshot:   before,
	}
	if err := a.history.Append(rec); err != nil {
		a.logger.ErrorContext(ctx, "failed to record evolution failure",
			"workflow_id", workflowID, "error", err)
	}
}
