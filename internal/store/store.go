// Package store provides checkpoint and message persistence for tutoring sessions.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

var (
	// ErrStoreUnavailable is returned when the durable medium cannot be opened
	// or initialized. Callers may keep serving without persistence.
	ErrStoreUnavailable = errors.New("checkpoint store unavailable")

	// ErrInvalidSessionID is returned for operations without a session ID.
	ErrInvalidSessionID = errors.New("session id is required")
)

// LatestCheckpoint is the cache alias for a session's newest checkpoint.
const LatestCheckpoint = "latest"

// CheckpointStore persists per-session state snapshots and message logs.
type CheckpointStore interface {
	// Initialize prepares tables and seeds schema defaults. Safe to call repeatedly.
	Initialize(ctx context.Context) error

	// SaveCheckpoint stores state under (sessionID, checkpointID), generating an
	// ID when checkpointID is empty. An existing row with the same key is replaced.
	SaveCheckpoint(ctx context.Context, sessionID string, state domain.State, checkpointID string) (string, error)

	// LoadCheckpoint returns the checkpoint with the given ID, or the most recent
	// one when checkpointID is empty. It returns nil, nil when none exists.
	LoadCheckpoint(ctx context.Context, sessionID, checkpointID string) (*domain.State, error)

	// ListCheckpoints returns checkpoint metadata, newest first.
	ListCheckpoints(ctx context.Context, sessionID string, limit int) ([]domain.CheckpointInfo, error)

	// SaveMessage appends msg, or replaces role and content when msg.ID already exists.
	SaveMessage(ctx context.Context, sessionID string, msg domain.Message) error

	// GetMessages returns up to limit of the most recent messages in ascending
	// timestamp order. A non-positive limit returns the full log.
	GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)

	// GetDefaultSchema returns persisted state defaults, falling back to
	// FallbackSchema when they cannot be read.
	GetDefaultSchema(ctx context.Context) map[string]any

	// ClearCache discards all cached checkpoints.
	ClearCache()

	// Close releases the underlying connection. Safe to call more than once.
	Close() error
}

// DefaultSchemaEntries are seeded into an empty schema table.
func DefaultSchemaEntries() []domain.SchemaEntry {
	return []domain.SchemaEntry{
		{Key: "subject", DefaultValue: "test-subject", ValueType: domain.ValueTypeString},
		{Key: "name", DefaultValue: "Erica", ValueType: domain.ValueTypeString},
		{Key: "messages", DefaultValue: []any{}, ValueType: domain.ValueTypeArray},
	}
}

// FallbackSchema is the minimal schema used when the schema table is unreadable.
func FallbackSchema() map[string]any {
	out := make(map[string]any)
	for _, e := range DefaultSchemaEntries() {
		out[e.Key] = e.DefaultValue
	}
	return out
}

func checkpointCacheKey(sessionID, checkpointID string) string {
	if checkpointID == "" {
		checkpointID = LatestCheckpoint
	}
	return sessionID + ":" + checkpointID
}
