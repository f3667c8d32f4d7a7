// Package schema holds the default-state schema of new tutoring sessions and
// the merge rules used to evolve state values.
package schema

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

// Values is a loosely typed state snapshot keyed by schema field.
type Values map[string]any

// Schema field names.
const (
	KeySubject   = "subject"
	KeyName      = "name"
	KeyMessages  = "messages"
	KeySessionID = "sessionId"
)

// DefaultSchema returns the compile-time defaults of a fresh session.
func DefaultSchema() Values {
	return Values{
		KeySubject:   "test-subject",
		KeyName:      "Erica",
		KeyMessages:  []any{},
		KeySessionID: nil,
	}
}

// DefaultsSource supplies persisted schema defaults.
type DefaultsSource interface {
	GetDefaultSchema(ctx context.Context) map[string]any
}

// Registry merges compile-time and persisted defaults into state managers.
type Registry struct {
	source DefaultsSource
	logger *slog.Logger
}

// NewRegistry creates a registry. A nil source means only compile-time
// defaults are used.
func NewRegistry(source DefaultsSource, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{source: source, logger: logger}
}

// NewStateManager builds a state manager over compile-time defaults,
// persisted defaults and overrides, in that order of precedence (later wins).
func (r *Registry) NewStateManager(ctx context.Context, overrides Values) *StateManager {
	merged := DefaultSchema()
	if r.source != nil {
		for k, v := range r.source.GetDefaultSchema(ctx) {
			merged[k] = v
		}
	} else {
		r.logger.Debug("No schema source, using compile-time defaults")
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return &StateManager{values: deepCopy(merged)}
}

// StateManager holds a mutable state value. It is safe for concurrent use.
type StateManager struct {
	mu     sync.RWMutex
	values Values
}

// GetState returns a copy of the current values.
func (m *StateManager) GetState() Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return deepCopy(m.values)
}

// SetState applies patch with UpdateState semantics and returns the result.
func (m *StateManager) SetState(patch Values) Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = UpdateState(m.values, patch)
	return deepCopy(m.values)
}

// UpdateState returns a new value: a deep copy of current with updates applied.
// The messages field is concatenated when both sides hold sequences; every
// other field, nested maps included, is replaced wholesale.
func UpdateState(current, updates Values) Values {
	out := deepCopy(current)
	for k, v := range updates {
		if k == KeyMessages {
			if joined, ok := concatSequences(out[k], v); ok {
				out[k] = joined
				continue
			}
		}
		out[k] = deepCopyValue(v)
	}
	return out
}

func concatSequences(a, b any) (any, bool) {
	am, aTyped := a.([]domain.Message)
	bm, bTyped := b.([]domain.Message)
	if aTyped && bTyped {
		out := make([]domain.Message, 0, len(am)+len(bm))
		out = append(out, am...)
		return append(out, bm...), true
	}

	as, aok := toAnySlice(a)
	bs, bok := toAnySlice(b)
	if !aok || !bok {
		return nil, false
	}
	// Keep the typed form when one side is an empty untyped default.
	if len(as) == 0 && bTyped {
		return deepCopyValue(b), true
	}
	if len(bs) == 0 && aTyped {
		return deepCopyValue(a), true
	}
	out := make([]any, 0, len(as)+len(bs))
	out = append(out, as...)
	return append(out, bs...), true
}

func toAnySlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []domain.Message:
		out := make([]any, len(s))
		for i, m := range s {
			out[i] = m
		}
		return out, true
	default:
		return nil, false
	}
}

func deepCopy(v Values) Values {
	if v == nil {
		return Values{}
	}
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = deepCopyValue(val)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case Values:
		return deepCopy(t)
	case map[string]any:
		return map[string]any(deepCopy(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	case []domain.Message:
		out := make([]domain.Message, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

// StateFromValues projects merged defaults onto a typed State. Fields with an
// unexpected type keep their zero value.
func StateFromValues(v Values) domain.State {
	st := domain.State{Messages: []domain.Message{}}
	st.Subject, _ = v[KeySubject].(string)
	st.AgentName, _ = v[KeyName].(string)
	st.SessionID, _ = v[KeySessionID].(string)
	st.Messages = append(st.Messages, Messages(v)...)
	return st
}

// Messages extracts the messages field as typed messages. Untyped entries
// (for example decoded JSON objects) are converted through JSON.
func Messages(v Values) []domain.Message {
	switch t := v[KeyMessages].(type) {
	case []domain.Message:
		out := make([]domain.Message, len(t))
		copy(out, t)
		return out
	case []any:
		out := make([]domain.Message, 0, len(t))
		for _, e := range t {
			switch m := e.(type) {
			case domain.Message:
				out = append(out, m)
			default:
				raw, err := json.Marshal(m)
				if err != nil {
					continue
				}
				var msg domain.Message
				if err := json.Unmarshal(raw, &msg); err != nil {
					continue
				}
				out = append(out, msg)
			}
		}
		return out
	default:
		return nil
	}
}
