// Package api provides HTTP handlers for the tutoring API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// TurnEngine is the workflow surface used by the handlers.
type TurnEngine interface {
	RunTurn(ctx context.Context, userText string, desc domain.SessionDescriptor, prior []domain.Message) (domain.Result, error)
	EndSession(sessionID string) bool
	History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
	State(ctx context.Context, sessionID, checkpointID string) (*domain.State, error)
	Checkpoints(ctx context.Context, sessionID string, limit int) ([]domain.CheckpointInfo, error)
	Persistent() bool
	ActiveSessions() int
}

// Options configures a Handler.
type Options struct {
	MaxRequestBodySize int64
	HistoryLimit       int
	RateLimiter        *RateLimiter
	Connections        *Connections
	Logger             *slog.Logger
}

// Handler serves the session and turn endpoints.
type Handler struct {
	engine       TurnEngine
	limiter      *RateLimiter
	conns        *Connections
	maxBodySize  int64
	historyLimit int
	logger       *slog.Logger
}

// NewHandler creates a Handler. A nil rate limiter disables throttling.
func NewHandler(engine TurnEngine, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxRequestBodySize <= 0 {
		opts.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if opts.Connections == nil {
		opts.Connections = NewConnections()
	}
	return &Handler{
		engine:       engine,
		limiter:      opts.RateLimiter,
		conns:        opts.Connections,
		maxBodySize:  opts.MaxRequestBodySize,
		historyLimit: opts.HistoryLimit,
		logger:       opts.Logger,
	}
}

// Connections returns the live websocket registry.
func (h *Handler) Connections() *Connections {
	return h.conns
}

func (h *Handler) allow(sessionID string) bool {
	return h.limiter == nil || h.limiter.Allow(sessionID)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
