package engine

import (
	"context"
	"encoding/json"

	"github.com/morphos-dev/morphos/internal/expressions"
	"github.com/morphos-dev/morphos/internal/refs"
	"github.com/morphos-dev/morphos/pkg/schema"
)

// HandlerEventKind enumerates handler stream event types.
type HandlerEventKind string

const (
	HandlerProgress    HandlerEventKind = "progress"
	HandlerComplete    HandlerEventKind = "complete"
	HandlerError       HandlerEventKind = "error"
	HandlerInterrupted HandlerEventKind = "interrupted"
)

// HandlerEvent is one item on a handler's output stream.
type HandlerEvent struct {
	Kind   HandlerEventKind
	Delta  string
	Output any
	Err    error
}

// HandlerContext gives a handler its node, the run state, and the graph
// views it needs. Prompt-bearing configs arrive uninterpolated; handlers
// resolve references themselves via the context's tables.
type HandlerContext struct {
	Node     *schema.WorkflowNode
	Exec     *ExecutionContext
	Preds    []string
	NameToID map[string]string
}

// Handler executes one node type. Execute returns immediately; events
// arrive on the channel, which is closed after a terminal event.
type Handler interface {
	Execute(ctx context.Context, hc HandlerContext) (<-chan HandlerEvent, error)
}

// resultStream wraps a synchronous outcome in the streaming contract.
func resultStream(output any, err error) <-chan HandlerEvent {
	ch := make(chan HandlerEvent, 1)
	if err != nil {
		ch <- HandlerEvent{Kind: HandlerError, Err: err}
	} else {
		ch <- HandlerEvent{Kind: HandlerComplete, Output: output}
	}
	close(ch)
	return ch
}

// interpolate resolves references in text against the run's current state.
func interpolate(text string, hc HandlerContext) string {
	return refs.Interpolate(text, hc.Exec.Outputs(), hc.NameToID, hc.Exec.Variables())
}

// expressionData builds the evaluation environment shared by condition and
// transform nodes: node outputs keyed by display name, the variable table,
// and the run's initial input.
func expressionData(hc HandlerContext) map[string]any {
	outputs := hc.Exec.Outputs()
	nodes := make(map[string]any, len(outputs))
	for name, id := range hc.NameToID {
		if out, ok := outputs[id]; ok {
			nodes[name] = out
		}
	}
	return map[string]any{
		"nodes":     nodes,
		"variables": hc.Exec.Variables(),
		"input":     hc.Exec.Input,
	}
}

func decodeConfig(node *schema.WorkflowNode, dst any) error {
	if len(node.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(node.Data, dst); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"node %q has malformed config", node.ID).WithNode(node.ID).WithCause(err)
	}
	return nil
}

// --- input ---

// inputHandler seeds the run. The execution's initial input wins; otherwise
// the configured prompt, interpolated, becomes the output. The output is a
// primitive string so {{Name.prompt}} and {{Name.result}} both resolve to it.
type inputHandler struct{}

func (inputHandler) Execute(ctx context.Context, hc HandlerContext) (<-chan HandlerEvent, error) {
	var cfg schema.InputConfig
	if err := decodeConfig(hc.Node, &cfg); err != nil {
		return nil, err
	}
	text := hc.Exec.Input
	if text == "" {
		text = interpolate(cfg.Prompt, hc)
	}
	return resultStream(text, nil), nil
}

// --- condition ---

// conditionHandler evaluates a boolean branch expression. The output is
// {"result": bool}; the scheduler routes successors from it.
type conditionHandler struct {
	cel  *expressions.CELEngine
	expr *expressions.ExprEngine
}

func (h conditionHandler) Execute(ctx context.Context, hc HandlerContext) (<-chan HandlerEvent, error) {
	var cfg schema.ConditionConfig
	if err := decodeConfig(hc.Node, &cfg); err != nil {
		return nil, err
	}

	var engine expressions.Engine
	switch cfg.Engine {
	case "", "cel":
		engine = h.cel
	case "expr":
		engine = h.expr
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"condition node %q has unknown engine %q", hc.Node.ID, cfg.Engine).WithNode(hc.Node.ID)
	}

	expression := interpolate(cfg.Expression, hc)
	val, err := engine.Evaluate(ctx, expression, expressionData(hc))
	if err != nil {
		return nil, err
	}

	result, ok := toBool(val)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"condition node %q expression produced %T, want bool", hc.Node.ID, val).WithNode(hc.Node.ID)
	}
	return resultStream(map[string]any{"result": result}, nil), nil
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	default:
		return false, false
	}
}

// --- merge ---

// mergeHandler joins parallel branches. Object mode keys each completed
// predecessor's output by display name; array mode collects them in edge
// order. Skipped and errored predecessors contribute nothing.
type mergeHandler struct{}

func (mergeHandler) Execute(ctx context.Context, hc HandlerContext) (<-chan HandlerEvent, error) {
	var cfg schema.MergeConfig
	if err := decodeConfig(hc.Node, &cfg); err != nil {
		return nil, err
	}

	idToName := make(map[string]string, len(hc.NameToID))
	for name, id := range hc.NameToID {
		idToName[id] = name
	}

	switch cfg.Mode {
	case "array":
		out := []any{}
		for _, pred := range hc.Preds {
			if v, ok := hc.Exec.Output(pred); ok {
				out = append(out, v)
			}
		}
		return resultStream(map[string]any{"result": out}, nil), nil
	case "", "object":
		out := map[string]any{}
		for _, pred := range hc.Preds {
			if v, ok := hc.Exec.Output(pred); ok {
				name := idToName[pred]
				if name == "" {
					name = pred
				}
				out[name] = v
			}
		}
		return resultStream(out, nil), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"merge node %q has unknown mode %q", hc.Node.ID, cfg.Mode).WithNode(hc.Node.ID)
	}
}

// --- transform ---

// transformHandler reshapes upstream outputs with a jq expression.
type transformHandler struct {
	jq *expressions.GoJQEngine
}

func (h transformHandler) Execute(ctx context.Context, hc HandlerContext) (<-chan HandlerEvent, error) {
	var cfg schema.TransformConfig
	if err := decodeConfig(hc.Node, &cfg); err != nil {
		return nil, err
	}

	val, err := h.jq.Evaluate(ctx, cfg.Expression, expressionData(hc))
	if err != nil {
		return nil, err
	}
	if m, ok := val.(map[string]any); ok {
		return resultStream(m, nil), nil
	}
	return resultStream(map[string]any{"result": val}, nil), nil
}

// --- output ---

// outputHandler renders the run's final text. With no template it passes
// the sole predecessor's output through unchanged.
type outputHandler struct{}

func (outputHandler) Execute(ctx context.Context, hc HandlerContext) (<-chan HandlerEvent, error) {
	var cfg schema.OutputConfig
	if err := decodeConfig(hc.Node, &cfg); err != nil {
		return nil, err
	}

	if cfg.Template != "" {
		return resultStream(interpolate(cfg.Template, hc), nil), nil
	}
	for _, pred := range hc.Preds {
		if v, ok := hc.Exec.Output(pred); ok {
			return resultStream(v, nil), nil
		}
	}
	return resultStream("", nil), nil
}
