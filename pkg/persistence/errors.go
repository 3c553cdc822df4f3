// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowNotActive indicates a dispatch was enqueued for a workflow
	// that is not in active status.
	ErrWorkflowNotActive = errors.New("workflow not active")

	// ErrStepNotFound indicates a workflow step was not found by the given identifier.
	ErrStepNotFound = errors.New("workflow step not found")

	// ErrDispatchNotFound indicates a dispatch was not found by the given identifier.
	ErrDispatchNotFound = errors.New("dispatch not found")

	// ErrDispatchNotPending indicates an operation that requires a pending
	// dispatch hit a row in another status.
	ErrDispatchNotPending = errors.New("dispatch not pending")

	// ErrDispatchNotClaimed indicates Complete or Fail was called on a row
	// that is not currently claimed.
	ErrDispatchNotClaimed = errors.New("dispatch not claimed")

	// ErrExecutionNotFound indicates an execution was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrStepExecutionNotFound indicates a step execution row was not found.
	ErrStepExecutionNotFound = errors.New("step execution not found")
)

// DispatchError wraps queue-related errors with operation context.
type DispatchError struct {
	Op         string // Operation being performed (e.g. "Claim", "Complete")
	DispatchID string // Dispatch ID if applicable
	WorkerID   string // Claiming worker if applicable
	Err        error  // Underlying error
}

func (e *DispatchError) Error() string {
	if e.WorkerID != "" {
		return fmt.Sprintf("%s operation failed for dispatch %s (worker %s): %v", e.Op, e.DispatchID, e.WorkerID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for dispatch %s: %v", e.Op, e.DispatchID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

func (e *DispatchError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewDispatchError creates a new dispatch error with context.
func NewDispatchError(op, dispatchID string, err error) *DispatchError {
	return &DispatchError{
		Op:         op,
		DispatchID: dispatchID,
		Err:        err,
	}
}

// WorkflowError wraps workflow-related errors with operation context.
type WorkflowError struct {
	Op         string
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsDispatchNotFound checks if an error indicates a dispatch was not found.
func IsDispatchNotFound(err error) bool {
	return errors.Is(err, ErrDispatchNotFound)
}
