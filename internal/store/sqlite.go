package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/shared"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements CheckpointStore using SQLite, fronted by a bounded cache.
type SQLiteStore struct {
	db     *sql.DB
	cache  *checkpointCache
	loads  singleflight.Group
	retry  shared.RetryPolicy
	logger *slog.Logger

	// saves counts committed checkpoints per session. A load only fills the
	// cache when no save for its session committed while it was querying.
	genMu sync.Mutex
	saves map[string]uint64

	// afterQuery runs between a load's query and its cache fill. Tests only.
	afterQuery func()

	mu     sync.Mutex
	closed bool
}

// Option configures a SQLiteStore.
type Option func(*options)

type options struct {
	cache   CacheConfig
	metrics *Metrics
	logger  *slog.Logger
	retry   shared.RetryPolicy
}

// WithCache overrides the checkpoint cache bounds.
func WithCache(cfg CacheConfig) Option {
	return func(o *options) { o.cache = cfg }
}

// WithMetrics reports cache activity to m instead of the global registry.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRetryPolicy sets how busy writes are retried.
func WithRetryPolicy(p shared.RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

func buildOptions(opts []Option) options {
	o := options{
		cache: DefaultCacheConfig(),
		retry: shared.DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = DefaultMetrics()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// NewSQLite opens the database at dbPath and initializes its schema.
// Failures wrap ErrStoreUnavailable.
func NewSQLite(ctx context.Context, dbPath string, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: create database directory: %w", ErrStoreUnavailable, err)
	}

	// WAL lets readers proceed while a turn is writing its checkpoint.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", ErrStoreUnavailable, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping database: %w", ErrStoreUnavailable, err)
	}

	s := &SQLiteStore{
		db:     db,
		cache:  newCheckpointCache(o.cache, o.metrics),
		saves:  make(map[string]uint64),
		retry:  o.retry,
		logger: o.logger,
	}
	if err := s.Initialize(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Initialize creates tables if absent and seeds schema defaults into an empty
// schema table.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		session_id TEXT NOT NULL,
		checkpoint_id TEXT NOT NULL,
		state_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, checkpoint_id)
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_created ON checkpoints(session_id, created_at);

	CREATE TABLE IF NOT EXISTS messages (
		session_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		PRIMARY KEY (session_id, message_id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(session_id, timestamp);

	CREATE TABLE IF NOT EXISTS schema_defaults (
		key TEXT PRIMARY KEY,
		default_json TEXT NOT NULL,
		value_type TEXT NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("%w: create schema: %w", ErrStoreUnavailable, err)
	}
	if err := s.seedSchema(ctx); err != nil {
		return fmt.Errorf("%w: seed schema defaults: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) seedSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_defaults`).Scan(&count); err != nil {
		return fmt.Errorf("count schema defaults: %w", err)
	}
	if count > 0 {
		return nil
	}

	for _, entry := range DefaultSchemaEntries() {
		raw, err := json.Marshal(entry.DefaultValue)
		if err != nil {
			return fmt.Errorf("encode default %q: %w", entry.Key, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO schema_defaults (key, default_json, value_type) VALUES (?, ?, ?)`,
			entry.Key, string(raw), string(entry.ValueType),
		); err != nil {
			return fmt.Errorf("insert default %q: %w", entry.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	s.logger.Info("Seeded schema defaults", "count", len(DefaultSchemaEntries()))
	return nil
}

// SaveCheckpoint stores state and returns its checkpoint ID.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, sessionID string, state domain.State, checkpointID string) (string, error) {
	if sessionID == "" {
		return "", ErrInvalidSessionID
	}
	if checkpointID == "" {
		checkpointID = NewCheckpointID()
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encode checkpoint state: %w", err)
	}

	query := `
	INSERT INTO checkpoints (session_id, checkpoint_id, state_json, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(session_id, checkpoint_id) DO UPDATE SET
		state_json = excluded.state_json,
		created_at = excluded.created_at`

	err = shared.RetryOnConflict(ctx, s.retry, "save_checkpoint", func() error {
		_, execErr := s.db.ExecContext(ctx, query, sessionID, checkpointID, string(raw), time.Now().UnixNano())
		return execErr
	})
	if err != nil {
		return "", fmt.Errorf("upsert checkpoint: %w", err)
	}

	s.recordSave(sessionID, checkpointID, state)
	return checkpointID, nil
}

// recordSave publishes a committed checkpoint to the cache and detaches
// in-flight loads of the session's latest so later callers query again.
func (s *SQLiteStore) recordSave(sessionID, checkpointID string, st domain.State) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.saves[sessionID]++
	s.cache.putSaved(sessionID, checkpointID, st)
	s.loads.Forget(checkpointCacheKey(sessionID, LatestCheckpoint))
	s.loads.Forget(checkpointCacheKey(sessionID, checkpointID))
}

func (s *SQLiteStore) saveGeneration(sessionID string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.saves[sessionID]
}

// fillCache caches a loaded checkpoint unless a save committed since gen.
func (s *SQLiteStore) fillCache(sessionID, key string, gen uint64, st domain.State) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.saves[sessionID] != gen {
		return
	}
	s.cache.put(key, st)
}

// LoadCheckpoint returns a stored checkpoint, consulting the cache first.
func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, sessionID, checkpointID string) (*domain.State, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}

	key := checkpointCacheKey(sessionID, checkpointID)
	if st, ok := s.cache.get(key); ok {
		return &st, nil
	}

	v, err, _ := s.loads.Do(key, func() (any, error) {
		gen := s.saveGeneration(sessionID)
		st, err := s.queryCheckpoint(ctx, sessionID, checkpointID)
		if s.afterQuery != nil {
			s.afterQuery()
		}
		if err != nil || st == nil {
			return st, err
		}
		s.fillCache(sessionID, key, gen, *st)
		return st, nil
	})
	if err != nil {
		return nil, err
	}

	st, _ := v.(*domain.State)
	if st == nil {
		return nil, nil
	}
	out := st.Clone()
	return &out, nil
}

func (s *SQLiteStore) queryCheckpoint(ctx context.Context, sessionID, checkpointID string) (*domain.State, error) {
	var row *sql.Row
	if checkpointID != "" {
		row = s.db.QueryRowContext(ctx,
			`SELECT state_json FROM checkpoints WHERE session_id = ? AND checkpoint_id = ?`,
			sessionID, checkpointID)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT state_json FROM checkpoints WHERE session_id = ?
			 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
			sessionID)
	}

	var raw string
	err := row.Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}

	var st domain.State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint state: %w", err)
	}
	return &st, nil
}

// ListCheckpoints returns checkpoint metadata for a session, newest first.
func (s *SQLiteStore) ListCheckpoints(ctx context.Context, sessionID string, limit int) ([]domain.CheckpointInfo, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT checkpoint_id, created_at FROM checkpoints
		WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close checkpoint rows", "error", closeErr)
		}
	}()

	var out []domain.CheckpointInfo
	for rows.Next() {
		var info domain.CheckpointInfo
		var createdAt int64
		if err := rows.Scan(&info.CheckpointID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		info.SessionID = sessionID
		info.CreatedAt = time.Unix(0, createdAt)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

// SaveMessage upserts a message keyed by (sessionID, msg.ID). A re-save keeps
// the original timestamp so log order is stable across retries.
func (s *SQLiteStore) SaveMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	if sessionID == "" {
		return ErrInvalidSessionID
	}
	if msg.ID == "" {
		return fmt.Errorf("message id is required")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	query := `
	INSERT INTO messages (session_id, message_id, role, content, timestamp)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(session_id, message_id) DO UPDATE SET
		role = excluded.role,
		content = excluded.content`

	err := shared.RetryOnConflict(ctx, s.retry, "save_message", func() error {
		_, execErr := s.db.ExecContext(ctx, query,
			sessionID, msg.ID, string(msg.Role), msg.Content, msg.Timestamp.UnixNano())
		return execErr
	})
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// GetMessages returns the most recent messages of a session in ascending order.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, role, content, timestamp FROM (
			SELECT message_id, role, content, timestamp, rowid AS rid
			FROM messages WHERE session_id = ?
			ORDER BY timestamp DESC, rowid DESC LIMIT ?
		) ORDER BY timestamp ASC, rid ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var out []domain.Message
	for rows.Next() {
		var msg domain.Message
		var role string
		var ts int64
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.Role(role)
		msg.Timestamp = time.Unix(0, ts)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// GetDefaultSchema reads persisted defaults. Read failures are logged and
// answered with FallbackSchema, since they only affect new sessions.
func (s *SQLiteStore) GetDefaultSchema(ctx context.Context) map[string]any {
	out, err := s.readSchema(ctx)
	if err != nil {
		s.logger.Warn("Failed to read schema defaults, using fallback", "error", err)
		return FallbackSchema()
	}
	if len(out) == 0 {
		return FallbackSchema()
	}
	return out
}

func (s *SQLiteStore) readSchema(ctx context.Context) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, default_json, value_type FROM schema_defaults`)
	if err != nil {
		return nil, fmt.Errorf("query schema defaults: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close schema rows", "error", closeErr)
		}
	}()

	out := make(map[string]any)
	for rows.Next() {
		var key, raw, valueType string
		if err := rows.Scan(&key, &raw, &valueType); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}
		value, err := decodeDefault(domain.ValueType(valueType), raw)
		if err != nil {
			s.logger.Warn("Skipping malformed schema default", "key", key, "error", err)
			continue
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema defaults: %w", err)
	}
	return out, nil
}

func decodeDefault(valueType domain.ValueType, raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode default: %w", err)
	}
	if v == nil {
		return nil, nil
	}

	var ok bool
	switch valueType {
	case domain.ValueTypeString:
		_, ok = v.(string)
	case domain.ValueTypeNumber:
		_, ok = v.(float64)
	case domain.ValueTypeBoolean:
		_, ok = v.(bool)
	case domain.ValueTypeArray:
		_, ok = v.([]any)
	default:
		return nil, fmt.Errorf("unknown value type %q", valueType)
	}
	if !ok {
		return nil, fmt.Errorf("value %v is not a %s", v, valueType)
	}
	return v, nil
}

// ClearCache discards all cached checkpoints.
func (s *SQLiteStore) ClearCache() {
	s.cache.clear()
}

// Close discards the cache and closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cache.clear()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var _ CheckpointStore = (*SQLiteStore)(nil)
