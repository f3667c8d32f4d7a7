package agent

import (
	"context"
	"log/slog"
	"time"
)

// Service wraps a TextGenerator and records each exchange in the
// conversation log.
type Service struct {
	generator TextGenerator
	log       ConversationLogger
	channel   string
}

// NewService creates a service. A nil conversation logger disables
// transcript logging.
func NewService(generator TextGenerator, conversationLogger ConversationLogger) *Service {
	if conversationLogger == nil {
		conversationLogger = noopConversationLogger{}
	}
	return &Service{
		generator: generator,
		log:       conversationLogger,
		channel:   "turn",
	}
}

// Generate forwards req to the wrapped generator.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	s.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		SessionID:  req.SessionID,
		Channel:    s.channel,
		Direction:  "outbound",
		EventType:  "turn_user_message",
		ContentRaw: req.Prompt,
		Meta: map[string]any{
			"subject_hint":  req.SubjectHint,
			"history_count": len(req.History),
		},
	})

	start := time.Now()
	text, err := s.generator.Generate(ctx, req)
	meta := map[string]any{"duration_ms": time.Since(start).Milliseconds()}
	if err != nil {
		meta["error"] = err.Error()
		slog.Warn("Text generation failed", "session_id", req.SessionID, "error", err)
	}

	s.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		SessionID:  req.SessionID,
		Channel:    s.channel,
		Direction:  "inbound",
		EventType:  "turn_assistant_message",
		ContentRaw: text,
		Meta:       meta,
	})
	return text, err
}

// Close flushes the conversation log.
func (s *Service) Close() error {
	return s.log.Close()
}
