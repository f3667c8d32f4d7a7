package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/identity"
	"github.com/ashureev/shsh-tutor/internal/store"
	"github.com/ashureev/shsh-tutor/internal/workflow"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const maxListLimit = 500

// TurnRequest is the body of POST /api/sessions/{sessionID}/turns.
type TurnRequest struct {
	Message string           `json:"message"`
	Subject string           `json:"subject,omitempty"`
	Name    string           `json:"name,omitempty"`
	History []domain.Message `json:"history,omitempty"`
}

// RegisterRoutes registers the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions/{"+identity.SessionParam+"}", func(r chi.Router) {
		r.Use(identity.Middleware)
		r.Post("/turns", h.HandleTurn)
		r.Delete("/", h.HandleEndSession)
		r.Get("/messages", h.HandleMessages)
		r.Get("/state", h.HandleState)
		r.Get("/checkpoints", h.HandleCheckpoints)
	})
}

// HandleTurn runs one turn and returns its Result. Pipeline failures still
// answer 200 with the Result's error field set.
func (h *Handler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())

	if !h.allow(sessionID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.logger.Info("Turn request",
		"session_id", sessionID,
		"message_length", len(req.Message),
		"history_length", len(req.History),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	result, err := h.engine.RunTurn(r.Context(), req.Message, domain.SessionDescriptor{
		ID:      sessionID,
		Subject: req.Subject,
		Name:    req.Name,
	}, req.History)
	if err != nil {
		h.writeTurnError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

func (h *Handler) writeTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrEmptyMessage), errors.Is(err, workflow.ErrMissingSession):
		Error(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("Turn failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

// HandleEndSession drops the session's workflow and closes its turn channels.
// Stored history is kept.
func (h *Handler) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	ended := h.engine.EndSession(sessionID)
	h.conns.CloseSession(sessionID)
	JSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"ended":      ended,
	})
}

// HandleMessages returns the session's message log.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	limit, ok := h.parseLimit(w, r, h.historyLimit)
	if !ok {
		return
	}

	msgs, err := h.engine.History(r.Context(), sessionID, limit)
	if err != nil {
		h.writeStoreError(w, sessionID, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	JSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   msgs,
	})
}

// HandleState returns the latest checkpoint, or the one named by checkpoint_id.
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	checkpointID := strings.TrimSpace(r.URL.Query().Get("checkpoint_id"))

	st, err := h.engine.State(r.Context(), sessionID, checkpointID)
	if err != nil {
		h.writeStoreError(w, sessionID, err)
		return
	}
	if st == nil {
		Error(w, http.StatusNotFound, "checkpoint not found")
		return
	}
	JSON(w, http.StatusOK, st)
}

// HandleCheckpoints lists checkpoint metadata, newest first.
func (h *Handler) HandleCheckpoints(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	limit, ok := h.parseLimit(w, r, 0)
	if !ok {
		return
	}

	infos, err := h.engine.Checkpoints(r.Context(), sessionID, limit)
	if err != nil {
		h.writeStoreError(w, sessionID, err)
		return
	}
	if infos == nil {
		infos = []domain.CheckpointInfo{}
	}
	JSON(w, http.StatusOK, map[string]any{
		"session_id":  sessionID,
		"checkpoints": infos,
	})
}

func (h *Handler) parseLimit(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, store.ErrStoreUnavailable):
		Error(w, http.StatusServiceUnavailable, "persistence unavailable")
	case errors.Is(err, store.ErrInvalidSessionID):
		Error(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("Store read failed", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
