package domain

// State is the work-in-progress value passed between pipeline stages and
// persisted as a checkpoint.
type State struct {
	Subject           string    `json:"subject"`
	AgentName         string    `json:"agentName"`
	SessionID         string    `json:"sessionId"`
	Messages          []Message `json:"messages"`
	SystemPrompt      string    `json:"systemPrompt,omitempty"`
	GeneratedResponse string    `json:"generatedResponse,omitempty"`
	CheckpointID      string    `json:"checkpointId,omitempty"`
}

// Clone returns a copy of s that shares no mutable memory with it.
func (s State) Clone() State {
	out := s
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		copy(out.Messages, s.Messages)
	}
	return out
}

// AppendMessage appends m and returns the resulting state. Earlier messages
// are never reordered or removed.
func (s State) AppendMessage(m Message) State {
	out := s.Clone()
	out.Messages = append(out.Messages, m)
	return out
}

// HasMessage reports whether a message with the given ID is already present.
func (s State) HasMessage(id string) bool {
	for _, m := range s.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}
