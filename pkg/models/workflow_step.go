package models

import "time"

// StepType classifies a node in the workflow graph.
type StepType string

const (
	StepTypeTrigger   StepType = "trigger"   // Entry marker, exactly one per workflow
	StepTypeAction    StepType = "action"    // Invokes a registered action handler
	StepTypeCondition StepType = "condition" // Routes to the true or false branch
)

// WorkflowStep is a node in a workflow's directed graph. Successor fields are
// plain id references resolved at graph-load time; the graph may contain
// cycles, which the executor bounds with a visit budget.
type WorkflowStep struct {
	ID                string         `json:"id"`
	WorkflowID        string         `json:"workflow_id"           validate:"required"`
	Type              StepType       `json:"step_type"             validate:"required,oneof=trigger action condition"`
	ActionType        string         `json:"action_type,omitempty"`
	Config            map[string]any `json:"config,omitempty"`
	Label             string         `json:"label,omitempty"`
	Position          int            `json:"position"` // UI ordering hint only
	NextStepID        *string        `json:"next_step_id,omitempty"`
	TrueBranchStepID  *string        `json:"true_branch_step_id,omitempty"`
	FalseBranchStepID *string        `json:"false_branch_step_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}
