// Package persistence provides the data storage abstraction for workflows,
// the dispatch queue, and execution traces.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/flowq/pkg/models"
)

// WorkflowRepository is the graph store: workflow and step CRUD. The engine
// itself only reads; writes exist for the surrounding CRUD collaborators and
// for tests.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	// GetActiveByTriggerType returns active workflows whose trigger_type
	// matches; locationID narrows the match when non-empty.
	GetActiveByTriggerType(ctx context.Context, triggerType, locationID string) ([]*models.Workflow, error)
	Delete(ctx context.Context, id string) error

	SaveStep(ctx context.Context, step *models.WorkflowStep) error
	StepsByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowStep, error)
	// DeleteStep removes a step and nulls any successor reference pointing at
	// it, preserving graph integrity for the remaining steps.
	DeleteStep(ctx context.Context, stepID string) error
}

// DispatchRepository is the durable job queue. Claim is the one operation
// whose atomicity against concurrent callers is load-bearing: no two workers
// may ever receive the same row.
//
// Executions are not serialized per workflow: two dispatches for the same
// workflow may be claimed and run concurrently by different workers.
type DispatchRepository interface {
	// Enqueue inserts a pending row. Fails with ErrWorkflowNotActive unless
	// the workflow status is active.
	Enqueue(ctx context.Context, dispatch *models.Dispatch) error
	GetByID(ctx context.Context, id string) (*models.Dispatch, error)
	// Claim atomically selects up to batchSize pending rows whose
	// available_at has passed, oldest-due first (id tiebreak), marks them
	// claimed for workerID and increments attempts.
	Claim(ctx context.Context, workerID string, batchSize int) ([]*models.Dispatch, error)
	// Complete marks a claimed dispatch succeeded. Idempotent: completing an
	// already-succeeded dispatch is a no-op.
	Complete(ctx context.Context, dispatchID, executionID string) error
	// Fail either reschedules the dispatch with backoff (attempts left) or
	// marks it terminally failed. executionID is recorded either way for the
	// audit trail.
	Fail(ctx context.Context, dispatchID, executionID, errorMessage string) error
	// Cancel transitions a pending dispatch to cancelled. Claimed or finished
	// rows fail with ErrDispatchNotPending.
	Cancel(ctx context.Context, dispatchID string) error
	// RequeueStaleClaims reverts claimed rows whose lease (started_at) is
	// older than leaseTimeout back to pending. Crash recovery for workers
	// that claimed and never finished.
	RequeueStaleClaims(ctx context.Context, leaseTimeout time.Duration) (int, error)
}

// ExecutionRepository persists executions and their per-step trace rows.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	Update(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)

	CreateStepExecution(ctx context.Context, stepExecution *models.StepExecution) error
	UpdateStepExecution(ctx context.Context, stepExecution *models.StepExecution) error
	StepExecutions(ctx context.Context, executionID string) ([]*models.StepExecution, error)
}

// LogRepository is the append-only structured log sink. No query surface is
// part of the core; external tooling reads the table directly.
type LogRepository interface {
	Append(ctx context.Context, entry *models.LogEntry) error
}

type Persistence interface {
	Workflows() WorkflowRepository
	Dispatches() DispatchRepository
	Executions() ExecutionRepository
	Logs() LogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
