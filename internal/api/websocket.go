package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/identity"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

const wsWriteTimeout = 10 * time.Second

// wsMessage is a client frame on the turn channel.
type wsMessage struct {
	Type    string           `json:"type"`
	Content string           `json:"content,omitempty"`
	Subject string           `json:"subject,omitempty"`
	Name    string           `json:"name,omitempty"`
	History []domain.Message `json:"history,omitempty"`
}

// wsReply is a server frame on the turn channel.
type wsReply struct {
	Type   string         `json:"type"`
	Result *domain.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// WebSocketHandler serves GET /ws/sessions/{sessionID}: each "turn" frame
// runs one turn and is answered with a "result" frame.
type WebSocketHandler struct {
	*Handler
	originPatterns []string
}

// NewWebSocketHandler creates a websocket handler sharing h's engine,
// limiter and connection registry.
func NewWebSocketHandler(h *Handler, originPatterns []string) *WebSocketHandler {
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	return &WebSocketHandler{Handler: h, originPatterns: originPatterns}
}

// RegisterRoutes registers the websocket route.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.With(identity.Middleware).Get("/ws/sessions/{"+identity.SessionParam+"}", h.ServeHTTP)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	h.logger.Info("WebSocket connection request", "session_id", sessionID, "ip", identity.IPFromRequest(r))

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	ws.SetReadLimit(h.maxBodySize)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.conns.Register(sessionID, ws)
	defer h.conns.Unregister(sessionID, ws)

	h.readLoop(r.Context(), ws, sessionID)
	h.logger.Info("Turn channel ended", "session_id", sessionID)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "session_id", sessionID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(ctx, ws, wsReply{Type: "error", Error: "invalid frame"})
			continue
		}

		switch msg.Type {
		case "turn":
			h.handleTurnFrame(ctx, ws, sessionID, msg)
		case "ping":
			h.reply(ctx, ws, wsReply{Type: "pong"})
		case "end":
			h.engine.EndSession(sessionID)
			h.reply(ctx, ws, wsReply{Type: "ended"})
			return
		default:
			h.reply(ctx, ws, wsReply{Type: "error", Error: "unknown frame type"})
		}
	}
}

func (h *WebSocketHandler) handleTurnFrame(ctx context.Context, ws *websocket.Conn, sessionID string, msg wsMessage) {
	if !h.allow(sessionID) {
		h.reply(ctx, ws, wsReply{Type: "error", Error: "rate limit exceeded"})
		return
	}

	result, err := h.engine.RunTurn(ctx, msg.Content, domain.SessionDescriptor{
		ID:      sessionID,
		Subject: msg.Subject,
		Name:    msg.Name,
	}, msg.History)
	if err != nil {
		h.reply(ctx, ws, wsReply{Type: "error", Error: err.Error()})
		return
	}
	h.reply(ctx, ws, wsReply{Type: "result", Result: &result})
}

func (h *WebSocketHandler) reply(ctx context.Context, ws *websocket.Conn, v wsReply) {
	if err := writeJSON(ctx, ws, v); err != nil {
		slog.Debug("Failed to write websocket frame", "type", v.Type, "error", err)
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
