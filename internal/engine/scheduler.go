package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/morphos-dev/morphos/internal/agents"
	"github.com/morphos-dev/morphos/internal/evolution"
	"github.com/morphos-dev/morphos/internal/expressions"
	"github.com/morphos-dev/morphos/internal/logging"
	"github.com/morphos-dev/morphos/internal/store"
	"github.com/morphos-dev/morphos/internal/streaming"
	"github.com/morphos-dev/morphos/internal/validation"
	"github.com/morphos-dev/morphos/pkg/schema"
)

// SchedulerConfig wires the scheduler's collaborators.
type SchedulerConfig struct {
	Validator *validation.WorkflowValidator
	Store     store.Store
	Hub       streaming.EventHub
	Registry  *agents.Registry
	Applier   *evolution.Applier
	CEL       *expressions.CELEngine
	Expr      *expressions.ExprEngine
	JQ        *expressions.GoJQEngine
	Logger    *slog.Logger
	// MaxConcurrent caps per-wave fan-out. Zero means unbounded; agent
	// adapters are I/O-bound so unbounded fan-out within one workflow is
	// acceptable.
	MaxConcurrent int
}

// RunOptions parameterizes one execution.
type RunOptions struct {
	// ExecutionID is generated when empty.
	ExecutionID string
	// Input seeds the run's input nodes.
	Input string
	// Resume continues from persisted execution state: completed nodes
	// keep their outputs, nodes recorded as running restart from pending.
	Resume *store.ExecutionRecord
}

// Scheduler drives workflow runs: it computes ready sets from the graph,
// executes each wave concurrently through per-type handlers, folds outputs
// into the ExecutionContext, and emits lifecycle events.
type Scheduler struct {
	cfg SchedulerConfig
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{cfg: cfg}
}

// Execute validates the workflow and starts a run. The returned channel
// carries the run's lifecycle events and closes after the terminal event;
// callers must drain it. Cancelling ctx interrupts the run cooperatively.
func (s *Scheduler) Execute(ctx context.Context, wf *schema.Workflow, opts RunOptions) (<-chan schema.ExecutionEvent, error) {
	if result := s.cfg.Validator.Validate(wf); !result.Valid() {
		return nil, result.ToError()
	}

	executionID := opts.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	input := opts.Input
	if input == "" && opts.Resume != nil {
		input = opts.Resume.Input
	}

	ec := NewExecutionContext(executionID, wf, input)
	if opts.Resume != nil {
		ec.Restore(opts.Resume.NodeOutputs, opts.Resume.NodeStatuses, opts.Resume.Variables)
	}

	g := buildGraph(wf)
	handlers := s.buildHandlers(wf)
	events := make(chan schema.ExecutionEvent, 64)

	runCtx := logging.WithIDs(ctx, wf.ID, executionID, "")
	go s.run(runCtx, wf, g, ec, handlers, events)

	return events, nil
}

func (s *Scheduler) buildHandlers(wf *schema.Workflow) map[schema.NodeType]Handler {
	return map[schema.NodeType]Handler{
		schema.NodeTypeInput:     inputHandler{},
		schema.NodeTypeAgent:     agentHandler{registry: s.cfg.Registry, workingDirectory: wf.WorkingDirectory},
		schema.NodeTypeCondition: conditionHandler{cel: s.cfg.CEL, expr: s.cfg.Expr},
		schema.NodeTypeMerge:     mergeHandler{},
		schema.NodeTypeTransform: transformHandler{jq: s.cfg.JQ},
		schema.NodeTypeOutput:    outputHandler{},
		schema.NodeTypeEvolve:    evolveHandler{applier: s.cfg.Applier},
	}
}

func (s *Scheduler) run(ctx context.Context, wf *schema.Workflow, g *graph, ec *ExecutionContext, handlers map[schema.NodeType]Handler, events chan<- schema.ExecutionEvent) {
	defer close(events)

	s.emit(ctx, events, schema.ExecutionEvent{
		Type:        schema.EventExecutionStart,
		ExecutionID: ec.ExecutionID,
		WorkflowID:  wf.ID,
		Status:      schema.ExecutionStatusRunning,
	})
	s.persist(ec, schema.ExecutionStatusRunning, nil, nil)

	for {
		if ctx.Err() != nil {
			s.finishInterrupted(ctx, wf, ec, events)
			return
		}

		ready, skip := s.nextWave(g, ec)

		if len(skip) > 0 {
			for _, id := range skip {
				ec.SetStatus(id, schema.NodeStatusSkipped)
				s.emit(ctx, events, schema.ExecutionEvent{
					Type:        schema.EventNodeSkipped,
					ExecutionID: ec.ExecutionID,
					WorkflowID:  wf.ID,
					NodeID:      id,
				})
			}
			// Skips change readiness downstream; recompute before running.
			continue
		}

		if len(ready) == 0 {
			if countPending(ec) > 0 {
				stuck := schema.NewError(schema.ErrCodeStuck,
					"no node is ready but pending nodes remain").
					WithDetails(map[string]any{"statuses": ec.Statuses()})
				s.cfg.Logger.ErrorContext(ctx, "run is stuck", "error", stuck)
				s.finish(ctx, wf, ec, events, schema.ExecutionStatusFailed, stuck)
				return
			}
			break
		}

		grp, waveCtx := errgroup.WithContext(ctx)
		if s.cfg.MaxConcurrent > 0 {
			grp.SetLimit(s.cfg.MaxConcurrent)
		}
		for _, id := range ready {
			node := g.nodes[id]
			grp.Go(func() error {
				s.runNode(waveCtx, wf, g, ec, handlers, node, events)
				// Node errors are isolated to the node; they never abort
				// the wave.
				return nil
			})
		}
		_ = grp.Wait()

		s.persist(ec, schema.ExecutionStatusRunning, nil, nil)
	}

	status := schema.ExecutionStatusComplete
	var runErr *schema.Error
	for id, st := range ec.Statuses() {
		if st == schema.NodeStatusError {
			status = schema.ExecutionStatusFailed
			runErr = schema.NewError(schema.ErrCodeNodeFailed, "one or more nodes failed").WithNode(id)
			break
		}
	}
	s.finish(ctx, wf, ec, events, status, runErr)
}

// nextWave computes the ready set and the nodes to skip. A node is ready
// when every predecessor is terminal. Merge nodes skip only when all
// predecessors skipped; other nodes skip when any predecessor errored or
// every predecessor skipped.
func (s *Scheduler) nextWave(g *graph, ec *ExecutionContext) (ready, skip []string) {
	statuses := ec.Statuses()
	for id, st := range statuses {
		if st != schema.NodeStatusPending {
			continue
		}
		preds := g.preds[id]

		allTerminal := true
		allSkipped := len(preds) > 0
		anyError := false
		for _, p := range preds {
			ps := statuses[p]
			if !ps.Terminal() {
				allTerminal = false
				break
			}
			if ps != schema.NodeStatusSkipped {
				allSkipped = false
			}
			if ps == schema.NodeStatusError {
				anyError = true
			}
		}
		if !allTerminal {
			continue
		}

		isMerge := g.nodes[id].Type == schema.NodeTypeMerge
		switch {
		case allSkipped:
			skip = append(skip, id)
		case anyError && !isMerge:
			skip = append(skip, id)
		default:
			ready = append(ready, id)
		}
	}
	return ready, skip
}

func (s *Scheduler) runNode(ctx context.Context, wf *schema.Workflow, g *graph, ec *ExecutionContext, handlers map[schema.NodeType]Handler, node *schema.WorkflowNode, events chan<- schema.ExecutionEvent) {
	if !ec.SetStatus(node.ID, schema.NodeStatusRunning) {
		return
	}
	ec.IncrementRunCount(node.ID)

	nodeCtx := logging.WithNodeID(ctx, node.ID)
	s.emit(nodeCtx, events, schema.ExecutionEvent{
		Type:        schema.EventNodeStart,
		ExecutionID: ec.ExecutionID,
		WorkflowID:  wf.ID,
		NodeID:      node.ID,
	})

	fail := func(err error) {
		ec.SetStatus(node.ID, schema.NodeStatusError)
		s.cfg.Logger.ErrorContext(nodeCtx, "node failed", "node_type", node.Type, "error", err)
		s.emit(nodeCtx, events, schema.ExecutionEvent{
			Type:        schema.EventNodeError,
			ExecutionID: ec.ExecutionID,
			WorkflowID:  wf.ID,
			NodeID:      node.ID,
			Error:       asSchemaError(err, node.ID),
		})
	}

	handler, ok := handlers[node.Type]
	if !ok {
		fail(schema.NewErrorf(schema.ErrCodeValidation, "no handler for node type %q", node.Type))
		return
	}

	hc := HandlerContext{
		Node:     node,
		Exec:     ec,
		Preds:    g.preds[node.ID],
		NameToID: g.nameToID,
	}

	stream, err := handler.Execute(nodeCtx, hc)
	if err != nil {
		fail(err)
		return
	}

	for ev := range stream {
		switch ev.Kind {
		case HandlerProgress:
			payload, _ := json.Marshal(map[string]any{"delta": ev.Delta})
			s.emit(nodeCtx, events, schema.ExecutionEvent{
				Type:        schema.EventNodeOutput,
				ExecutionID: ec.ExecutionID,
				WorkflowID:  wf.ID,
				NodeID:      node.ID,
				Payload:     payload,
			})
		case HandlerComplete:
			ec.SetOutput(node.ID, ev.Output)
			ec.SetStatus(node.ID, schema.NodeStatusComplete)
			payload, _ := json.Marshal(ev.Output)
			s.emit(nodeCtx, events, schema.ExecutionEvent{
				Type:        schema.EventNodeComplete,
				ExecutionID: ec.ExecutionID,
				WorkflowID:  wf.ID,
				NodeID:      node.ID,
				Payload:     payload,
			})
			if node.Type == schema.NodeTypeCondition {
				s.routeCondition(nodeCtx, wf, g, ec, node, ev.Output, events)
			}
		case HandlerError:
			fail(ev.Err)
		case HandlerInterrupted:
			// The node stays running; a later resume restarts it from
			// pending. The run-level interrupted event covers reporting.
			s.cfg.Logger.InfoContext(nodeCtx, "node interrupted", "node_type", node.Type)
		}
	}
}

// routeCondition marks the non-taken direct successors of a completed
// condition node as skipped. Downstream closure follows from the readiness
// rules, so a node fed by both branches survives when its taken-branch
// predecessor completes.
func (s *Scheduler) routeCondition(ctx context.Context, wf *schema.Workflow, g *graph, ec *ExecutionContext, node *schema.WorkflowNode, output any, events chan<- schema.ExecutionEvent) {
	result := false
	if m, ok := output.(map[string]any); ok {
		if b, ok := m["result"].(bool); ok {
			result = b
		}
	}

	var cfg schema.ConditionConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return
	}
	trueTargets, falseTargets := g.conditionBranches(node, &cfg)

	notTaken := falseTargets
	if !result {
		notTaken = trueTargets
	}
	for _, target := range notTaken {
		if ec.Status(target) != schema.NodeStatusPending {
			continue
		}
		ec.SetStatus(target, schema.NodeStatusSkipped)
		s.emit(ctx, events, schema.ExecutionEvent{
			Type:        schema.EventNodeSkipped,
			ExecutionID: ec.ExecutionID,
			WorkflowID:  wf.ID,
			NodeID:      target,
		})
	}
}

func (s *Scheduler) finish(ctx context.Context, wf *schema.Workflow, ec *ExecutionContext, events chan<- schema.ExecutionEvent, status schema.ExecutionStatus, runErr *schema.Error) {
	now := time.Now().UTC()
	s.persist(ec, status, runErr, &now)
	s.emit(ctx, events, schema.ExecutionEvent{
		Type:        schema.EventExecutionComplete,
		ExecutionID: ec.ExecutionID,
		WorkflowID:  wf.ID,
		Status:      status,
		Error:       runErr,
	})
	s.cfg.Logger.InfoContext(ctx, "run finished", "status", status)
}

func (s *Scheduler) finishInterrupted(ctx context.Context, wf *schema.Workflow, ec *ExecutionContext, events chan<- schema.ExecutionEvent) {
	now := time.Now().UTC()
	s.persist(ec, schema.ExecutionStatusInterrupted, nil, &now)
	s.emit(ctx, events, schema.ExecutionEvent{
		Type:        schema.EventExecutionInterrupted,
		ExecutionID: ec.ExecutionID,
		WorkflowID:  wf.ID,
		Status:      schema.ExecutionStatusInterrupted,
	})
	s.cfg.Logger.InfoContext(ctx, "run interrupted")
}

// emit delivers an event to the run's channel and the hub. The run context
// may already be cancelled when terminal events go out, so hub publishing
// never depends on it.
func (s *Scheduler) emit(ctx context.Context, events chan<- schema.ExecutionEvent, ev schema.ExecutionEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	events <- ev
	if s.cfg.Hub != nil {
		if err := s.cfg.Hub.Publish(context.WithoutCancel(ctx), ev); err != nil {
			s.cfg.Logger.WarnContext(ctx, "event publish failed", "event_type", ev.Type, "error", err)
		}
	}
}

// persist upserts the execution record. The run context may be cancelled
// at the point of final persistence, so a short independent deadline is
// used instead.
func (s *Scheduler) persist(ec *ExecutionContext, status schema.ExecutionStatus, runErr *schema.Error, completedAt *time.Time) {
	if s.cfg.Store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := &store.ExecutionRecord{
		ID:           ec.ExecutionID,
		WorkflowID:   ec.WorkflowID,
		Status:       status,
		Input:        ec.Input,
		NodeOutputs:  ec.Outputs(),
		NodeStatuses: ec.Statuses(),
		Variables:    ec.Variables(),
		Error:        runErr,
		StartedAt:    time.Now().UTC(),
		CompletedAt:  completedAt,
	}
	if err := s.cfg.Store.SaveExecution(saveCtx, rec); err != nil {
		s.cfg.Logger.Warn("execution persist failed",
			"execution_id", ec.ExecutionID, "error", err)
	}
}

func countPending(ec *ExecutionContext) int {
	n := 0
	for _, st := range ec.Statuses() {
		if st == schema.NodeStatusPending {
			n++
		}
	}
	return n
}

func asSchemaError(err error, nodeID string) *schema.Error {
	if serr, ok := err.(*schema.Error); ok {
		if serr.NodeID == "" {
			return serr.WithNode(nodeID)
		}
		return serr
	}
	return schema.NewError(schema.ErrCodeNodeFailed, err.Error()).WithNode(nodeID)
}
