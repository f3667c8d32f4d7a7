package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/shsh-tutor/internal/agent"
	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/store"
	"github.com/google/uuid"
)

// FallbackResponse replaces the generated reply when the text generator fails.
const FallbackResponse = "I'm sorry, I'm having trouble coming up with an answer right now. Please try asking again in a moment."

// timestampLayout is ISO-8601 with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

var errNoUserMessage = errors.New("turn has no user message")

type startStage struct {
	prompts *Prompts
}

func (startStage) Name() string { return StageStart }

func (s startStage) Run(_ context.Context, t *Turn) error {
	if t.Input.UserMessage.Content == "" {
		return errNoUserMessage
	}
	prompt, err := s.prompts.Render(t.State.AgentName, t.State.Subject)
	if err != nil {
		return err
	}
	t.State.SystemPrompt = prompt
	t.State.GeneratedResponse = ""
	if !t.State.HasMessage(t.Input.UserMessage.ID) {
		t.State = t.State.AppendMessage(t.Input.UserMessage)
	}
	return nil
}

type agentStage struct {
	generator agent.TextGenerator
	timeout   time.Duration
	logger    *slog.Logger
}

func (agentStage) Name() string { return StageAgent }

func (s agentStage) Run(ctx context.Context, t *Turn) error {
	history := make([]domain.HistoryEntry, 0, len(t.State.Messages)+1)
	history = append(history, domain.HistoryEntry{Role: domain.RoleSystem, Content: t.State.SystemPrompt})
	for _, m := range t.State.Messages {
		if m.ID == t.Input.UserMessage.ID {
			continue
		}
		history = append(history, domain.HistoryEntry{Role: m.Role, Content: m.Content})
	}

	if s.generator == nil {
		s.logger.Warn("No text generator configured, using fallback", "session_id", t.Input.SessionID)
		t.State.GeneratedResponse = FallbackResponse
		return nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	text, err := s.generator.Generate(ctx, agent.GenerateRequest{
		SessionID:   t.Input.SessionID,
		Prompt:      t.Input.UserMessage.Content,
		SubjectHint: t.State.Subject,
		History:     history,
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("%w: empty reply", agent.ErrGenerationUnavailable)
	}
	if err != nil {
		s.logger.Warn("Text generation failed, using fallback", "session_id", t.Input.SessionID, "error", err)
		text = FallbackResponse
	}
	t.State.GeneratedResponse = text
	return nil
}

type memoryStage struct {
	store  store.CheckpointStore
	now    func() time.Time
	logger *slog.Logger
}

func (memoryStage) Name() string { return StageMemory }

func (s memoryStage) Run(ctx context.Context, t *Turn) error {
	reply := domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleAssistant,
		Content:   t.State.GeneratedResponse,
		Timestamp: s.now().UTC(),
	}
	t.State = t.State.AppendMessage(reply)
	t.State.CheckpointID = ""

	if s.store == nil {
		t.Persistence = domain.Degraded("store unavailable")
		return nil
	}

	// Writes outlive a cancelled caller so a finished turn is not lost.
	ctx = context.WithoutCancel(ctx)

	if err := s.store.SaveMessage(ctx, t.Input.SessionID, reply); err != nil {
		s.logger.Warn("Failed to save assistant message", "session_id", t.Input.SessionID, "error", err)
	}

	id := store.NewCheckpointID()
	snapshot := t.State.Clone()
	snapshot.CheckpointID = id
	saved, err := s.store.SaveCheckpoint(ctx, t.Input.SessionID, snapshot, id)
	if err != nil {
		s.logger.Warn("Failed to save checkpoint, continuing unpersisted", "session_id", t.Input.SessionID, "error", err)
		t.Persistence = domain.Degraded(err.Error())
		return nil
	}
	t.State = snapshot
	t.State.CheckpointID = saved
	t.Persistence = domain.Persisted(saved)
	return nil
}

type endStage struct {
	now func() time.Time
}

func (endStage) Name() string { return StageEnd }

func (s endStage) Run(_ context.Context, t *Turn) error {
	t.Result = &domain.Result{
		Content: t.State.GeneratedResponse,
		AgentState: domain.AgentState{
			Subject:      t.State.Subject,
			Name:         t.State.AgentName,
			CheckpointID: t.State.CheckpointID,
		},
		Timestamp:   s.now().UTC().Format(timestampLayout),
		Persistence: t.Persistence,
	}
	return nil
}
