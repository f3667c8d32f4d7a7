package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

type memCheckpoint struct {
	state     domain.State
	createdAt time.Time
	seq       uint64
}

type memMessage struct {
	msg domain.Message
	seq uint64
}

// MemoryStore is a non-durable CheckpointStore. It keeps everything in
// process memory and is used in tests and when STORE_DRIVER=memory.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]map[string]*memCheckpoint
	messages    map[string]map[string]*memMessage
	schema      map[string]any
	seq         uint64
	now         func() time.Time
}

// NewMemory returns an initialized in-memory store.
func NewMemory() *MemoryStore {
	s := &MemoryStore{
		checkpoints: make(map[string]map[string]*memCheckpoint),
		messages:    make(map[string]map[string]*memMessage),
		now:         time.Now,
	}
	_ = s.Initialize(context.Background())
	return s
}

// Initialize seeds schema defaults once.
func (s *MemoryStore) Initialize(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schema == nil {
		s.schema = FallbackSchema()
	}
	return nil
}

func (s *MemoryStore) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// SaveCheckpoint stores a copy of state.
func (s *MemoryStore) SaveCheckpoint(_ context.Context, sessionID string, state domain.State, checkpointID string) (string, error) {
	if sessionID == "" {
		return "", ErrInvalidSessionID
	}
	if checkpointID == "" {
		checkpointID = NewCheckpointID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpoints[sessionID] == nil {
		s.checkpoints[sessionID] = make(map[string]*memCheckpoint)
	}
	seq := s.nextSeq()
	if existing, ok := s.checkpoints[sessionID][checkpointID]; ok {
		// Keep insertion order for ties, like a SQLite rowid on upsert.
		seq = existing.seq
	}
	s.checkpoints[sessionID][checkpointID] = &memCheckpoint{
		state:     state.Clone(),
		createdAt: s.now(),
		seq:       seq,
	}
	return checkpointID, nil
}

// LoadCheckpoint returns a copy of the requested or latest checkpoint.
func (s *MemoryStore) LoadCheckpoint(_ context.Context, sessionID, checkpointID string) (*domain.State, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := s.checkpoints[sessionID]
	if checkpointID != "" {
		cp, ok := byID[checkpointID]
		if !ok {
			return nil, nil
		}
		st := cp.state.Clone()
		return &st, nil
	}

	var latest *memCheckpoint
	for _, cp := range byID {
		if latest == nil || newer(cp, latest) {
			latest = cp
		}
	}
	if latest == nil {
		return nil, nil
	}
	st := latest.state.Clone()
	return &st, nil
}

func newer(a, b *memCheckpoint) bool {
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.After(b.createdAt)
	}
	return a.seq > b.seq
}

// ListCheckpoints returns checkpoint metadata, newest first.
func (s *MemoryStore) ListCheckpoints(_ context.Context, sessionID string, limit int) ([]domain.CheckpointInfo, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}

	s.mu.RLock()
	cps := make([]*memCheckpoint, 0, len(s.checkpoints[sessionID]))
	ids := make(map[*memCheckpoint]string, len(s.checkpoints[sessionID]))
	for id, cp := range s.checkpoints[sessionID] {
		cps = append(cps, cp)
		ids[cp] = id
	}
	s.mu.RUnlock()

	sort.Slice(cps, func(i, j int) bool { return newer(cps[i], cps[j]) })
	if limit > 0 && len(cps) > limit {
		cps = cps[:limit]
	}

	out := make([]domain.CheckpointInfo, 0, len(cps))
	for _, cp := range cps {
		out = append(out, domain.CheckpointInfo{
			SessionID:    sessionID,
			CheckpointID: ids[cp],
			CreatedAt:    cp.createdAt,
		})
	}
	return out, nil
}

// SaveMessage upserts msg; a re-save keeps the original timestamp.
func (s *MemoryStore) SaveMessage(_ context.Context, sessionID string, msg domain.Message) error {
	if sessionID == "" {
		return ErrInvalidSessionID
	}
	if msg.ID == "" {
		return fmt.Errorf("message id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messages[sessionID] == nil {
		s.messages[sessionID] = make(map[string]*memMessage)
	}
	if existing, ok := s.messages[sessionID][msg.ID]; ok {
		existing.msg.Role = msg.Role
		existing.msg.Content = msg.Content
		return nil
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	s.messages[sessionID][msg.ID] = &memMessage{msg: msg, seq: s.nextSeq()}
	return nil
}

// GetMessages returns the most recent limit messages in ascending order.
func (s *MemoryStore) GetMessages(_ context.Context, sessionID string, limit int) ([]domain.Message, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}

	s.mu.RLock()
	entries := make([]memMessage, 0, len(s.messages[sessionID]))
	for _, m := range s.messages[sessionID] {
		entries = append(entries, *m)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].msg.Timestamp.Equal(entries[j].msg.Timestamp) {
			return entries[i].msg.Timestamp.Before(entries[j].msg.Timestamp)
		}
		return entries[i].seq < entries[j].seq
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	out := make([]domain.Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.msg)
	}
	return out, nil
}

// GetDefaultSchema returns a copy of the seeded defaults.
func (s *MemoryStore) GetDefaultSchema(context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.schema) == 0 {
		return FallbackSchema()
	}
	out := make(map[string]any, len(s.schema))
	for k, v := range s.schema {
		out[k] = v
	}
	return out
}

// ClearCache is a no-op; MemoryStore has no separate cache.
func (s *MemoryStore) ClearCache() {}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var _ CheckpointStore = (*MemoryStore)(nil)
