// Package models defines the core domain models for workflow dispatch and execution.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not dispatchable
	WorkflowStatusActive   WorkflowStatus = "active"   // Trigger events create dispatches
	WorkflowStatusPaused   WorkflowStatus = "paused"   // No new dispatches; queued ones drain
	WorkflowStatusArchived WorkflowStatus = "archived" // Historical, not dispatchable
)

// Workflow is a persisted automation definition. Its step graph lives in
// WorkflowStep rows owned by the workflow.
type Workflow struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"           validate:"required,min=3"`
	Description   string         `json:"description"`
	Status        WorkflowStatus `json:"status"         validate:"required,oneof=draft active paused archived"`
	TriggerType   string         `json:"trigger_type"`
	TriggerConfig map[string]any `json:"trigger_config,omitempty"`
	LocationID    string         `json:"location_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// IsActive reports whether trigger events may enqueue dispatches for the
// workflow. Paused and archived workflows keep draining already-queued
// dispatches but accept no new ones.
func (w *Workflow) IsActive() bool {
	return w.Status == WorkflowStatusActive
}
