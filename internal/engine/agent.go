package engine

import (
	"context"
	"strings"

	"github.com/morphos-dev/morphos/internal/agents"
	"github.com/morphos-dev/morphos/pkg/schema"
)

// agentHandler delegates to an external agent adapter. Adapter deltas pass
// through as progress events; the accumulated delta text is stored as the
// node's transcript so {{Name.transcript}} resolves while and after the
// agent runs.
type agentHandler struct {
	registry         *agents.Registry
	workingDirectory string
}

func (h agentHandler) Execute(ctx context.Context, hc HandlerContext) (<-chan HandlerEvent, error) {
	var cfg schema.AgentConfig
	if err := decodeConfig(hc.Node, &cfg); err != nil {
		return nil, err
	}

	adapter, err := h.registry.Get(cfg.Provider)
	if err != nil {
		return nil, err
	}

	req := agents.Request{
		ExecutionID:      hc.Exec.ExecutionID,
		NodeID:           hc.Node.ID,
		Model:            cfg.Model,
		Prompt:           interpolate(cfg.Prompt, hc),
		WorkingDirectory: h.workingDirectory,
		Options:          cfg.Options,
	}

	stream, err := adapter.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan HandlerEvent, 16)
	go func() {
		defer close(out)

		var transcript strings.Builder
		for ev := range stream {
			switch ev.Kind {
			case agents.EventStarted:
				// The scheduler already emitted node-start.
			case agents.EventDelta:
				transcript.WriteString(ev.Delta)
				transcript.WriteByte('\n')
				hc.Exec.SetTranscript(hc.Node.ID, transcript.String())
				out <- HandlerEvent{Kind: HandlerProgress, Delta: ev.Delta}
			case agents.EventCompleted:
				out <- HandlerEvent{Kind: HandlerComplete, Output: ev.Result}
				return
			case agents.EventInterrupted:
				out <- HandlerEvent{Kind: HandlerInterrupted, Err: ev.Err}
				return
			case agents.EventErrored:
				out <- HandlerEvent{Kind: HandlerError, Err: ev.Err}
				return
			}
		}
		// Stream closed without a terminal event.
		out <- HandlerEvent{Kind: HandlerError, Err: schema.NewErrorf(schema.ErrCodeExecution,
			"agent adapter closed stream without terminal event").WithNode(hc.Node.ID)}
	}()

	return out, nil
}
