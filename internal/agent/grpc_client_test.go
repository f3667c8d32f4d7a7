package agent

import (
	"testing"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestEncodeGenerateRequest(t *testing.T) {
	in, err := encodeGenerateRequest(GenerateRequest{
		SessionID:   "s1",
		Prompt:      "What is inertia?",
		SubjectHint: "physics",
		History: []domain.HistoryEntry{
			{Role: domain.RoleSystem, Content: "You are Erica."},
			{Role: domain.RoleUser, Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	fields := in.GetFields()
	if fields["subject_hint"].GetStringValue() != "physics" {
		t.Fatalf("unexpected subject hint: %v", fields["subject_hint"])
	}
	history := fields["history"].GetListValue().GetValues()
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if role := history[0].GetStructValue().GetFields()["role"].GetStringValue(); role != "system" {
		t.Fatalf("unexpected first role %q", role)
	}
}

func TestDecodeGenerateResponse(t *testing.T) {
	ok, _ := structpb.NewStruct(map[string]any{"text": "hello"})
	if got, err := decodeGenerateResponse(ok); err != nil || got != "hello" {
		t.Fatalf("got %q, %v", got, err)
	}

	empty, _ := structpb.NewStruct(map[string]any{})
	if _, err := decodeGenerateResponse(empty); err == nil {
		t.Fatal("expected error for empty response")
	}

	failed, _ := structpb.NewStruct(map[string]any{"error": "quota exceeded", "text": "ignored"})
	if _, err := decodeGenerateResponse(failed); err == nil {
		t.Fatal("expected error for error field")
	}
}
