package gateway

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// handleDashboard implements GET /admin/dashboard: a WebSocket endpoint
// broadcasting the same bus.Events an SSE client sees, for the operator
// TUI (spec.md §4.5 supplement, additive — it does not replace the SSE
// contract). Adapted from the teacher's gateway/gateway.go handleWS, swapped
// from a bidirectional JSON-RPC socket to a read-only broadcast.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Bus == nil {
		http.Error(w, "dashboard unavailable: event bus not configured", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	sub := s.cfg.Bus.Subscribe("")
	defer s.cfg.Bus.Unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				s.logger.Debug("gateway: dashboard write failed", "error", err)
				return
			}
		}
	}
}
