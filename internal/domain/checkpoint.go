package domain

import "time"

// CheckpointInfo describes a stored checkpoint without its state payload.
type CheckpointInfo struct {
	SessionID    string    `json:"session_id"`
	CheckpointID string    `json:"checkpoint_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// ValueType is the declared type of a schema default.
type ValueType string

const (
	ValueTypeString  ValueType = "string"
	ValueTypeNumber  ValueType = "number"
	ValueTypeBoolean ValueType = "boolean"
	ValueTypeArray   ValueType = "array"
)

// SchemaEntry is one persisted default of a fresh session's state.
type SchemaEntry struct {
	Key          string
	DefaultValue any
	ValueType    ValueType
}
