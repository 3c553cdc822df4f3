package models

import "time"

// ExecutionStatus represents the state of one workflow run.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// StepExecutionStatus represents the state of one visited step.
type StepExecutionStatus string

const (
	StepExecutionStatusPending   StepExecutionStatus = "pending"
	StepExecutionStatusRunning   StepExecutionStatus = "running"
	StepExecutionStatusSucceeded StepExecutionStatus = "succeeded"
	StepExecutionStatusFailed    StepExecutionStatus = "failed"
	StepExecutionStatusSkipped   StepExecutionStatus = "skipped"
)

// Execution is one concrete run of a workflow's step graph for one dispatch.
// TriggerData is snapshotted from the dispatch at creation so later queue
// mutations cannot rewrite history; ContextData accumulates step outputs.
type Execution struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	Status         ExecutionStatus `json:"status"`
	TriggerData    map[string]any  `json:"trigger_data,omitempty"`
	ContextData    map[string]any  `json:"context_data,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	StepsCompleted int             `json:"steps_completed"`
}

// StepExecution records one visit to one step. Cyclic graphs produce multiple
// rows per step id; StepID is nulled if the step is later deleted so the
// trace survives graph edits.
type StepExecution struct {
	ID           string              `json:"id"`
	ExecutionID  string              `json:"execution_id"`
	StepID       *string             `json:"step_id,omitempty"`
	Status       StepExecutionStatus `json:"status"`
	InputData    map[string]any      `json:"input_data,omitempty"`
	OutputData   map[string]any      `json:"output_data,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	DurationMS   int64               `json:"duration_ms"`
	CreatedAt    time.Time           `json:"created_at"`
}
