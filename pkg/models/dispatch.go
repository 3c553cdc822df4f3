package models

import "time"

// DispatchStatus represents the queue state of a dispatch row.
type DispatchStatus string

const (
	DispatchStatusPending   DispatchStatus = "pending"
	DispatchStatusClaimed   DispatchStatus = "claimed"
	DispatchStatusSucceeded DispatchStatus = "succeeded"
	DispatchStatusFailed    DispatchStatus = "failed"
	DispatchStatusCancelled DispatchStatus = "cancelled"
)

// DefaultMaxAttempts is the number of delivery attempts a dispatch gets
// before it is marked failed for good.
const DefaultMaxAttempts = 3

const (
	retryBackoffBase = 30 * time.Second
	retryBackoffCap  = 1 * time.Hour
)

// Dispatch is a queued request to run a workflow once. Rows are claimed by
// exactly one worker at a time; WorkerID records the current lease holder.
type Dispatch struct {
	ID           string         `json:"id"`
	WorkflowID   string         `json:"workflow_id" validate:"required"`
	Status       DispatchStatus `json:"status"`
	TriggerData  map[string]any `json:"trigger_data,omitempty"`
	AvailableAt  time.Time      `json:"available_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	Attempts     int            `json:"attempts"`
	MaxAttempts  int            `json:"max_attempts" validate:"gte=1"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ExecutionID  *string        `json:"execution_id,omitempty"`
	WorkerID     string         `json:"worker_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// RetryDelay returns the backoff before a failed dispatch becomes eligible
// again: base * 2^attempts, capped.
func RetryDelay(attempts int) time.Duration {
	delay := retryBackoffBase
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= retryBackoffCap {
			return retryBackoffCap
		}
	}

	return delay
}
