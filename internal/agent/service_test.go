package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type stubGenerator struct {
	text string
	err  error
	got  GenerateRequest
}

func (s *stubGenerator) Generate(_ context.Context, req GenerateRequest) (string, error) {
	s.got = req
	return s.text, s.err
}

type recordingLogger struct {
	mu     sync.Mutex
	events []ConversationLogEvent
}

func (r *recordingLogger) Log(e ConversationLogEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingLogger) Close() error { return nil }

func TestServiceLogsBothDirections(t *testing.T) {
	gen := &stubGenerator{text: "Inertia is resistance to change in motion."}
	rec := &recordingLogger{}
	svc := NewService(gen, rec)

	got, err := svc.Generate(context.Background(), GenerateRequest{SessionID: "s1", Prompt: "What is inertia?", SubjectHint: "physics"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != gen.text {
		t.Fatalf("unexpected text %q", got)
	}
	if gen.got.SubjectHint != "physics" {
		t.Fatalf("request not forwarded: %+v", gen.got)
	}
	if len(rec.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(rec.events))
	}
	if rec.events[0].EventType != "turn_user_message" || rec.events[1].EventType != "turn_assistant_message" {
		t.Fatalf("unexpected event types: %q, %q", rec.events[0].EventType, rec.events[1].EventType)
	}
}

func TestServicePropagatesErrors(t *testing.T) {
	gen := &stubGenerator{err: ErrGenerationUnavailable}
	rec := &recordingLogger{}
	svc := NewService(gen, rec)

	_, err := svc.Generate(context.Background(), GenerateRequest{SessionID: "s1", Prompt: "hi"})
	if !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("expected ErrGenerationUnavailable, got %v", err)
	}
	if rec.events[1].Meta["error"] == nil {
		t.Fatal("expected error recorded in meta")
	}
}
