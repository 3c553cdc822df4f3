package models

import "time"

// LogLevel grades a workflow log entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogEntry is an append-only observability record keyed to a workflow and,
// optionally, one of its executions. The engine never updates or deletes
// entries; retention pruning is an operator concern.
type LogEntry struct {
	ID          string         `json:"id"`
	WorkflowID  *string        `json:"workflow_id,omitempty"`
	ExecutionID *string        `json:"execution_id,omitempty"`
	Level       LogLevel       `json:"level"`
	Event       string         `json:"event" validate:"required"`
	Message     string         `json:"message,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
