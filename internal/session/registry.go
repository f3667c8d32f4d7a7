// Package session tracks live per-session workflow handles.
package session

import (
	"log/slog"
	"sync"
)

// Registry maps session IDs to live handles. Handles are created lazily and
// live until Remove or process exit; they are never persisted.
type Registry[H any] struct {
	mu      sync.RWMutex
	handles map[string]H
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry[H any](logger *slog.Logger) *Registry[H] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry[H]{
		handles: make(map[string]H),
		logger:  logger,
	}
}

// Get returns the handle for sessionID, if any.
func (r *Registry[H]) Get(sessionID string) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[sessionID]
	return h, ok
}

// GetOrCreate returns the existing handle for sessionID or stores the one
// built by create. create runs under the registry lock, so concurrent callers
// for the same session always observe a single handle. The boolean reports
// whether a new handle was created.
func (r *Registry[H]) GetOrCreate(sessionID string, create func() H) (H, bool) {
	if h, ok := r.Get(sessionID); ok {
		return h, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[sessionID]; ok {
		return h, false
	}
	h := create()
	r.handles[sessionID] = h
	r.logger.Debug("Session handle registered", "session_id", sessionID)
	return h, true
}

// Remove drops the handle for sessionID and reports whether one existed.
func (r *Registry[H]) Remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[sessionID]; !ok {
		return false
	}
	delete(r.handles, sessionID)
	r.logger.Debug("Session handle removed", "session_id", sessionID)
	return true
}

// Len returns the number of live handles.
func (r *Registry[H]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Range calls fn for a snapshot of the live handles until fn returns false.
// fn runs without the registry lock held, so it may call Remove.
func (r *Registry[H]) Range(fn func(sessionID string, h H) bool) {
	r.mu.RLock()
	snapshot := make(map[string]H, len(r.handles))
	for id, h := range r.handles {
		snapshot[id] = h
	}
	r.mu.RUnlock()

	for id, h := range snapshot {
		if !fn(id, h) {
			return
		}
	}
}

// RemoveIf drops the handle for sessionID when keep returns false for it.
// keep runs under the registry lock. It reports whether the handle was removed.
func (r *Registry[H]) RemoveIf(sessionID string, keep func(h H) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[sessionID]
	if !ok || keep(h) {
		return false
	}
	delete(r.handles, sessionID)
	r.logger.Debug("Session handle removed", "session_id", sessionID)
	return true
}
