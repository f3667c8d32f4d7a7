// Package domain contains core domain types for the tutoring turn executor.
package domain

import (
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	// RoleSystem marks the tutor system prompt.
	RoleSystem Role = "system"
	// RoleUser marks learner input.
	RoleUser Role = "user"
	// RoleAssistant marks generated tutor replies.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message is a single entry in a session's conversation log.
// Messages are immutable once stored; re-saving the same ID replaces content.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryEntry is the role/content pair handed to the text generator.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
