package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/morphos-dev/morphos/internal/store"
)

// WorkflowRunner is the interface the trigger uses to start runs.
// Satisfied by the engine facade (avoids import cycle).
type WorkflowRunner interface {
	RunWorkflow(ctx context.Context, workflowID string) error
}

// CronTrigger polls the store for workflows carrying a cron schedule and
// starts a run whenever one comes due.
type CronTrigger struct {
	store  store.Store
	runner WorkflowRunner
	parser cron.Parser
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	stateMu  sync.Mutex
	nextRun  map[string]time.Time // workflow ID → next due time
	inflight map[string]struct{}  // workflow IDs currently executing (dedup)
}

// NewCronTrigger creates a CronTrigger.
func NewCronTrigger(s store.Store, runner WorkflowRunner, logger *slog.Logger) *CronTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &CronTrigger{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		nextRun:  make(map[string]time.Time),
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background polling loop with a 60s ticker.
func (t *CronTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.done != nil {
		t.mu.Unlock()
		return fmt.Errorf("cron trigger already started")
	}

	trigCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.loop(trigCtx)
	t.logger.Info("cron trigger started")
	return nil
}

func (t *CronTrigger) loop(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	t.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

// tick checks every scheduled workflow and runs those that are due.
func (t *CronTrigger) tick(ctx context.Context) {
	workflows, err := t.store.ListWorkflows(ctx, store.WorkflowFilter{Scheduled: true})
	if err != nil {
		t.logger.Error("failed to list scheduled workflows", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, wf := range workflows {
		schedule, err := t.parser.Parse(wf.Schedule)
		if err != nil {
			t.logger.Error("invalid workflow schedule",
				slog.String("workflow_id", wf.ID),
				slog.String("schedule", wf.Schedule),
				slog.String("error", err.Error()),
			)
			continue
		}

		due, known := t.dueTime(wf.ID)
		if !known {
			// First sighting: arm for the next occurrence, don't fire
			// retroactively.
			t.setDueTime(wf.ID, schedule.Next(now))
			continue
		}
		if due.After(now) {
			continue
		}

		if !t.tryAcquire(wf.ID) {
			continue // previous run still going (dedup)
		}
		t.setDueTime(wf.ID, schedule.Next(now))

		go func(workflowID string) {
			defer t.release(workflowID)
			t.logger.Info("running scheduled workflow", slog.String("workflow_id", workflowID))
			if err := t.runner.RunWorkflow(ctx, workflowID); err != nil {
				t.logger.Error("scheduled run failed",
					slog.String("workflow_id", workflowID),
					slog.String("error", err.Error()),
				)
			}
		}(wf.ID)
	}
}

func (t *CronTrigger) dueTime(workflowID string) (time.Time, bool) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	due, ok := t.nextRun[workflowID]
	return due, ok
}

func (t *CronTrigger) setDueTime(workflowID string, due time.Time) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	t.nextRun[workflowID] = due
}

// tryAcquire returns true and marks the workflow as in-flight if it is not
// already running.
func (t *CronTrigger) tryAcquire(workflowID string) bool {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if _, ok := t.inflight[workflowID]; ok {
		return false
	}
	t.inflight[workflowID] = struct{}{}
	return true
}

func (t *CronTrigger) release(workflowID string) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	delete(t.inflight, workflowID)
}

// NextRun computes the next run time for a cron expression.
func (t *CronTrigger) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := t.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the trigger.
func (t *CronTrigger) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel == nil {
		return nil
	}

	t.cancel()
	<-t.done
	t.cancel = nil
	t.done = nil

	t.logger.Info("cron trigger stopped")
	return nil
}
