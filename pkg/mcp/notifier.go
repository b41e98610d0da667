package mcp

import (
	"context"

	"github.com/morphos-dev/morphos/internal/streaming"
	"github.com/morphos-dev/morphos/pkg/schema"
)

// StartEventBridge subscribes to the hub and forwards execution events to
// all connected MCP clients as notifications. Best-effort: delivery
// failures are logged, never retried. Returns when ctx is cancelled.
func (s *MorphosServer) StartEventBridge(ctx context.Context) error {
	if s.hub == nil {
		return nil
	}

	events, cancel, err := s.hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.mcpServer.SendNotificationToAllClients("notifications/message", notificationPayload(ev))
		}
	}
}

func notificationPayload(ev schema.ExecutionEvent) map[string]any {
	payload := map[string]any{
		"type":        ev.Type,
		"executionId": ev.ExecutionID,
		"workflowId":  ev.WorkflowID,
		"timestamp":   ev.Timestamp,
	}
	if ev.NodeID != "" {
		payload["nodeId"] = ev.NodeID
	}
	if ev.Status != "" {
		payload["status"] = string(ev.Status)
	}
	if len(ev.Payload) > 0 {
		payload["payload"] = ev.Payload
	}
	if ev.Error != nil {
		payload["error"] = ev.Error.Message
	}
	return payload
}
