package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/shsh-tutor/internal/agent"
	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/schema"
	"github.com/ashureev/shsh-tutor/internal/session"
	"github.com/ashureev/shsh-tutor/internal/store"
	"github.com/google/uuid"
)

// DefaultSubject is used when a new session does not name one.
const DefaultSubject = "various subjects"

var (
	// ErrEmptyMessage is returned when a turn carries no user text.
	ErrEmptyMessage = errors.New("message is required")
	// ErrMissingSession is returned when a turn has no session ID.
	ErrMissingSession = errors.New("session id is required")
)

// Engine runs tutoring turns. It owns one Workflow per live session.
type Engine struct {
	store     store.CheckpointStore
	generator agent.TextGenerator
	schemas   *schema.Registry
	sessions  *session.Registry[*Workflow]
	turns     *turnLocks
	cfg       PipelineConfig
	logger    *slog.Logger
}

// NewEngine wires an engine. st may be nil, in which case turns run without
// persistence. sessions may be nil for a private registry.
func NewEngine(st store.CheckpointStore, generator agent.TextGenerator, sessions *session.Registry[*Workflow], cfg PipelineConfig) *Engine {
	cfg = cfg.withDefaults()
	if sessions == nil {
		sessions = session.NewRegistry[*Workflow](cfg.Logger)
	}
	var source schema.DefaultsSource
	if st != nil {
		source = st
	}
	return &Engine{
		store:     st,
		generator: generator,
		schemas:   schema.NewRegistry(source, cfg.Logger),
		sessions:  sessions,
		turns:     newTurnLocks(),
		cfg:       cfg,
		logger:    cfg.Logger,
	}
}

// Persistent reports whether turns are written to a checkpoint store.
func (e *Engine) Persistent() bool {
	return e.store != nil
}

// GetOrCreateWorkflow returns the session's workflow, creating it on first use.
func (e *Engine) GetOrCreateWorkflow(sessionID string) *Workflow {
	wf, created := e.sessions.GetOrCreate(sessionID, func() *Workflow {
		return CreatePipeline(e.store, e.generator, e.cfg)
	})
	if created {
		e.logger.Info("Workflow created", "session_id", sessionID)
	}
	return wf
}

// EndSession drops the session's workflow. Checkpoints and messages are kept.
// A turn already running finishes, and later turns still wait for it.
func (e *Engine) EndSession(sessionID string) bool {
	removed := e.sessions.Remove(sessionID)
	if removed {
		e.logger.Info("Workflow ended", "session_id", sessionID)
	}
	return removed
}

// RunTurn executes one turn for desc.ID. prior seeds a session that has no
// checkpoint yet and is ignored otherwise. Only input validation errors are
// returned; every other failure is reflected in the Result.
func (e *Engine) RunTurn(ctx context.Context, userText string, desc domain.SessionDescriptor, prior []domain.Message) (domain.Result, error) {
	if strings.TrimSpace(userText) == "" {
		return domain.Result{}, ErrEmptyMessage
	}
	if strings.TrimSpace(desc.ID) == "" {
		return domain.Result{}, ErrMissingSession
	}

	unlock := e.turns.lock(desc.ID)
	defer unlock()
	wf := e.GetOrCreateWorkflow(desc.ID)
	wf.touch()

	state := e.loadState(ctx, desc, prior)

	userMsg := domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Content:   userText,
		Timestamp: e.cfg.Now().UTC(),
	}
	if e.store != nil {
		if err := e.store.SaveMessage(context.WithoutCancel(ctx), desc.ID, userMsg); err != nil {
			e.logger.Warn("Failed to save user message", "session_id", desc.ID, "error", err)
		}
	}

	result := wf.Execute(ctx, state, Input{SessionID: desc.ID, UserMessage: userMsg})
	e.logger.Info("Turn completed",
		"session_id", desc.ID,
		"checkpoint_id", result.AgentState.CheckpointID,
		"persisted", result.Persistence.OK(),
		"failed", result.Error != "",
	)
	return result, nil
}

func (e *Engine) loadState(ctx context.Context, desc domain.SessionDescriptor, prior []domain.Message) domain.State {
	if e.store != nil {
		st, err := e.store.LoadCheckpoint(ctx, desc.ID, "")
		switch {
		case err != nil:
			e.logger.Warn("Failed to load checkpoint, starting fresh", "session_id", desc.ID, "error", err)
		case st != nil:
			loaded := st.Clone()
			loaded.SessionID = desc.ID
			return loaded
		}
	}
	return e.freshState(ctx, desc, prior)
}

func (e *Engine) freshState(ctx context.Context, desc domain.SessionDescriptor, prior []domain.Message) domain.State {
	subject := desc.Subject
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject
	}
	overrides := schema.Values{
		schema.KeySubject:   subject,
		schema.KeySessionID: desc.ID,
	}
	if desc.Name != "" {
		overrides[schema.KeyName] = desc.Name
	}

	mgr := e.schemas.NewStateManager(ctx, overrides)
	if msgs := normalizePrior(prior, e.cfg.Now()); len(msgs) > 0 {
		mgr.SetState(schema.Values{schema.KeyMessages: msgs})
	}
	return schema.StateFromValues(mgr.GetState())
}

// normalizePrior copies prior, assigning IDs and timestamps where missing.
func normalizePrior(prior []domain.Message, now time.Time) []domain.Message {
	out := make([]domain.Message, 0, len(prior))
	seen := make(map[string]struct{}, len(prior))
	for _, m := range prior {
		if m.ID == "" {
			m.ID = store.NewLegacyMessageID(now)
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		if m.Timestamp.IsZero() {
			m.Timestamp = now.UTC()
		}
		if !m.Role.Valid() {
			m.Role = domain.RoleUser
		}
		out = append(out, m)
	}
	return out
}

// History returns up to limit of the session's most recent messages.
func (e *Engine) History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	if e.store == nil {
		return nil, store.ErrStoreUnavailable
	}
	return e.store.GetMessages(ctx, sessionID, limit)
}

// State returns a stored checkpoint, or the latest one when checkpointID is
// empty. It returns nil, nil when none exists.
func (e *Engine) State(ctx context.Context, sessionID, checkpointID string) (*domain.State, error) {
	if e.store == nil {
		return nil, store.ErrStoreUnavailable
	}
	return e.store.LoadCheckpoint(ctx, sessionID, checkpointID)
}

// Checkpoints lists the session's checkpoints, newest first.
func (e *Engine) Checkpoints(ctx context.Context, sessionID string, limit int) ([]domain.CheckpointInfo, error) {
	if e.store == nil {
		return nil, store.ErrStoreUnavailable
	}
	return e.store.ListCheckpoints(ctx, sessionID, limit)
}

// ActiveSessions returns the number of live workflows.
func (e *Engine) ActiveSessions() int {
	return e.sessions.Len()
}
