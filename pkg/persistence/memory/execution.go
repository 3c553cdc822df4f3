package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/flowq/pkg/models"
	"github.com/dukex/flowq/pkg/persistence"
)

type executionRepo Persistence

func (r *executionRepo) Create(_ context.Context, execution *models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}

	if execution.StartedAt.IsZero() {
		execution.StartedAt = time.Now().UTC()
	}

	clone := *execution
	clone.TriggerData = deepCopy(execution.TriggerData)
	clone.ContextData = deepCopy(execution.ContextData)
	r.executions[execution.ID] = &clone

	return nil
}

func (r *executionRepo) Update(_ context.Context, execution *models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.executions[execution.ID]
	if !ok {
		return persistence.ErrExecutionNotFound
	}

	stored.Status = execution.Status
	stored.ContextData = deepCopy(execution.ContextData)
	stored.CompletedAt = execution.CompletedAt
	stored.ErrorMessage = execution.ErrorMessage
	stored.StepsCompleted = execution.StepsCompleted

	return nil
}

func (r *executionRepo) GetByID(_ context.Context, id string) (*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[id]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	clone := *execution
	clone.TriggerData = deepCopy(execution.TriggerData)
	clone.ContextData = deepCopy(execution.ContextData)

	return &clone, nil
}

func (r *executionRepo) CreateStepExecution(_ context.Context, stepExecution *models.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stepExecution.ID == "" {
		stepExecution.ID = uuid.New().String()
	}

	if stepExecution.CreatedAt.IsZero() {
		stepExecution.CreatedAt = time.Now().UTC()
	}

	clone := *stepExecution
	clone.InputData = deepCopy(stepExecution.InputData)
	clone.OutputData = deepCopy(stepExecution.OutputData)
	r.stepExecutions[stepExecution.ID] = &clone
	(*Persistence)(r).next(stepExecution.ID)

	return nil
}

func (r *executionRepo) UpdateStepExecution(_ context.Context, stepExecution *models.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.stepExecutions[stepExecution.ID]
	if !ok {
		return persistence.ErrStepExecutionNotFound
	}

	stored.Status = stepExecution.Status
	stored.OutputData = deepCopy(stepExecution.OutputData)
	stored.ErrorMessage = stepExecution.ErrorMessage
	stored.DurationMS = stepExecution.DurationMS

	return nil
}

func (r *executionRepo) StepExecutions(_ context.Context, executionID string) ([]*models.StepExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stepExecutions := make([]*models.StepExecution, 0)

	for _, stepExecution := range r.stepExecutions {
		if stepExecution.ExecutionID != executionID {
			continue
		}

		clone := *stepExecution
		clone.InputData = deepCopy(stepExecution.InputData)
		clone.OutputData = deepCopy(stepExecution.OutputData)
		stepExecutions = append(stepExecutions, &clone)
	}

	// Visit order: insertion sequence, not wall clock, so sub-millisecond
	// visits keep a stable order.
	sort.Slice(stepExecutions, func(i, j int) bool {
		return r.ord[stepExecutions[i].ID] < r.ord[stepExecutions[j].ID]
	})

	return stepExecutions, nil
}

type logRepo Persistence

func (r *logRepo) Append(_ context.Context, entry *models.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	if entry.Level == "" {
		entry.Level = models.LogLevelInfo
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	clone := *entry
	clone.Data = deepCopy(entry.Data)
	r.logs = append(r.logs, &clone)

	return nil
}
