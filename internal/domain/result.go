package domain

// SessionDescriptor identifies the session a turn belongs to.
type SessionDescriptor struct {
	ID      string `json:"id"`
	Subject string `json:"subject,omitempty"`
	Name    string `json:"name,omitempty"`
}

// AgentState is the public projection of State returned to callers.
type AgentState struct {
	Subject      string `json:"subject"`
	Name         string `json:"name"`
	CheckpointID string `json:"checkpointId,omitempty"`
}

// Persistence records whether a turn's checkpoint reached durable storage.
type Persistence struct {
	CheckpointID string
	Reason       string
}

// Persisted returns the outcome of a successful checkpoint write.
func Persisted(checkpointID string) Persistence {
	return Persistence{CheckpointID: checkpointID}
}

// Degraded returns the outcome of a turn that ran without persistence.
func Degraded(reason string) Persistence {
	return Persistence{Reason: reason}
}

// OK reports whether the checkpoint was written.
func (p Persistence) OK() bool {
	return p.CheckpointID != "" && p.Reason == ""
}

// Result is the caller-facing outcome of one turn.
type Result struct {
	Content     string      `json:"content"`
	AgentState  AgentState  `json:"agentState"`
	Timestamp   string      `json:"timestamp"`
	Error       string      `json:"error,omitempty"`
	Persistence Persistence `json:"-"`
}
