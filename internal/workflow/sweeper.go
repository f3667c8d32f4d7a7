package workflow

import (
	"context"
	"log/slog"
	"time"
)

const defaultSweepInterval = time.Minute

// SweepIdle ends sessions whose workflow has not started a turn within ttl
// and is not running one now. onEnd is called for every ended session.
func (e *Engine) SweepIdle(ttl time.Duration, onEnd func(sessionID string)) int {
	var ended []string
	e.sessions.Range(func(sessionID string, _ *Workflow) bool {
		removed := e.sessions.RemoveIf(sessionID, func(wf *Workflow) bool {
			return wf.IdleFor() < ttl || e.turns.busy(sessionID)
		})
		if removed {
			ended = append(ended, sessionID)
		}
		return true
	})

	for _, sessionID := range ended {
		e.logger.Info("Idle workflow ended", "session_id", sessionID, "ttl", ttl)
		if onEnd != nil {
			onEnd(sessionID)
		}
	}
	return len(ended)
}

// StartIdleSweeper runs SweepIdle every interval until ctx is done. A
// non-positive ttl disables the sweeper.
func StartIdleSweeper(ctx context.Context, e *Engine, ttl, interval time.Duration, onEnd func(sessionID string)) {
	if ttl <= 0 {
		slog.Info("Idle session sweeper disabled")
		return
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Idle session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				if n := e.SweepIdle(ttl, onEnd); n > 0 {
					slog.Info("Idle session sweep complete", "ended", n, "active", e.ActiveSessions())
				}
			case <-ctx.Done():
				slog.Info("Idle session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
