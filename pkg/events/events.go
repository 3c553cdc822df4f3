// Package events defines event types for dispatch and execution lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const Topic = "flowq.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Dispatch lifecycle events.
	DispatchEnqueuedEvent  EventType = "dispatch.enqueued"
	DispatchExhaustedEvent EventType = "dispatch.exhausted"

	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionSucceededEvent EventType = "execution.succeeded"
	ExecutionFailedEvent    EventType = "execution.failed"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
	WorkerID   string    `json:"worker_id,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// DispatchEnqueued is published when a trigger event lands in the queue.
type DispatchEnqueued struct {
	BaseEvent

	DispatchID  string         `json:"dispatch_id"`
	TriggerType string         `json:"trigger_type"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

func (e DispatchEnqueued) GetType() EventType {
	return DispatchEnqueuedEvent
}

// DispatchExhausted is published when a dispatch fails its final attempt.
type DispatchExhausted struct {
	BaseEvent

	DispatchID   string `json:"dispatch_id"`
	Attempts     int    `json:"attempts"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (e DispatchExhausted) GetType() EventType {
	return DispatchExhaustedEvent
}

// ExecutionStarted is published when a claimed dispatch begins executing.
type ExecutionStarted struct {
	BaseEvent

	DispatchID  string `json:"dispatch_id"`
	ExecutionID string `json:"execution_id"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

// ExecutionSucceeded is published when an execution reaches a terminal edge.
type ExecutionSucceeded struct {
	BaseEvent

	DispatchID     string `json:"dispatch_id"`
	ExecutionID    string `json:"execution_id"`
	StepsCompleted int    `json:"steps_completed"`
}

func (e ExecutionSucceeded) GetType() EventType {
	return ExecutionSucceededEvent
}

// ExecutionFailed is published when an execution finalizes as failed.
type ExecutionFailed struct {
	BaseEvent

	DispatchID   string `json:"dispatch_id"`
	ExecutionID  string `json:"execution_id"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}
