package schema

import (
	"context"
	"testing"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource map[string]any

func (s staticSource) GetDefaultSchema(context.Context) map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func TestNewStateManagerPrecedence(t *testing.T) {
	reg := NewRegistry(staticSource{"subject": "persisted-subject", "level": "beginner"}, nil)

	m := reg.NewStateManager(context.Background(), Values{"subject": "physics"})
	got := m.GetState()

	assert.Equal(t, "physics", got[KeySubject], "overrides win over persisted defaults")
	assert.Equal(t, "beginner", got["level"], "persisted-only keys are kept")
	assert.Equal(t, "Erica", got[KeyName], "compile-time defaults fill the rest")
	assert.Nil(t, got[KeySessionID])
}

func TestNewStateManagerWithoutSource(t *testing.T) {
	m := NewRegistry(nil, nil).NewStateManager(context.Background(), nil)
	assert.Equal(t, DefaultSchema(), m.GetState())
}

func TestStateManagerSetStateAppendsMessages(t *testing.T) {
	m := NewRegistry(nil, nil).NewStateManager(context.Background(), nil)

	first := domain.Message{ID: "1", Role: domain.RoleUser, Content: "hi"}
	second := domain.Message{ID: "2", Role: domain.RoleAssistant, Content: "hello"}

	m.SetState(Values{KeyMessages: []domain.Message{first}})
	got := m.SetState(Values{KeyMessages: []domain.Message{second}, KeySubject: "math"})

	assert.Equal(t, []domain.Message{first, second}, got[KeyMessages])
	assert.Equal(t, "math", got[KeySubject])
}

func TestUpdateStateIsPure(t *testing.T) {
	nested := map[string]any{"a": 1}
	current := Values{
		KeyMessages: []domain.Message{{ID: "1"}},
		"meta":      nested,
	}

	next := UpdateState(current, Values{
		KeyMessages: []domain.Message{{ID: "2"}},
		"meta":      map[string]any{"b": 2},
	})

	assert.Len(t, current[KeyMessages], 1, "input must not be mutated")
	assert.Equal(t, map[string]any{"a": 1}, current["meta"])
	assert.Len(t, next[KeyMessages], 2)
	assert.Equal(t, map[string]any{"b": 2}, next["meta"], "nested objects are replaced, not merged")

	// The result shares no memory with the input.
	next["meta"].(map[string]any)["c"] = 3
	assert.NotContains(t, current["meta"], "c")
}

func TestUpdateStateReplacesNonSequenceMessages(t *testing.T) {
	next := UpdateState(Values{KeyMessages: "broken"}, Values{KeyMessages: []domain.Message{{ID: "1"}}})
	assert.Equal(t, []domain.Message{{ID: "1"}}, next[KeyMessages])
}

func TestUpdateStateMixedSequences(t *testing.T) {
	next := UpdateState(Values{KeyMessages: []any{map[string]any{"id": "0"}}}, Values{KeyMessages: []domain.Message{{ID: "1"}}})
	seq, ok := next[KeyMessages].([]any)
	require.True(t, ok)
	assert.Len(t, seq, 2)

	msgs := Messages(next)
	require.Len(t, msgs, 2)
	assert.Equal(t, "0", msgs[0].ID)
	assert.Equal(t, "1", msgs[1].ID)
}

func TestStateFromValues(t *testing.T) {
	st := StateFromValues(Values{
		KeySubject:   "physics",
		KeyName:      "Erica",
		KeySessionID: "s1",
		KeyMessages:  []any{},
	})
	assert.Equal(t, "physics", st.Subject)
	assert.Equal(t, "Erica", st.AgentName)
	assert.Equal(t, "s1", st.SessionID)
	assert.NotNil(t, st.Messages)
	assert.Empty(t, st.Messages)
}
