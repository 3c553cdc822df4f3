package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/flowq/pkg/models"
	"github.com/dukex/flowq/pkg/persistence"
)

// ExecutionRepository persists executions and their step trace rows.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Create inserts a new execution row.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}

	if execution.StartedAt.IsZero() {
		execution.StartedAt = time.Now().UTC()
	}

	triggerData, err := marshalJSON(execution.TriggerData)
	if err != nil {
		return fmt.Errorf("failed to create execution %s: %w", execution.ID, err)
	}

	contextData, err := marshalJSON(execution.ContextData)
	if err != nil {
		return fmt.Errorf("failed to create execution %s: %w", execution.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, status, trigger_data, context_data, started_at, steps_completed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		execution.ID,
		execution.WorkflowID,
		execution.Status,
		triggerData,
		contextData,
		execution.StartedAt,
		execution.StepsCompleted,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution %s: %w", execution.ID, err)
	}

	return nil
}

// Update persists the mutable fields of an execution.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution) error {
	contextData, err := marshalJSON(execution.ContextData)
	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE executions
		SET status = $2,
			context_data = $3,
			completed_at = $4,
			error_message = NULLIF($5, ''),
			steps_completed = $6
		WHERE id = $1
	`,
		execution.ID,
		execution.Status,
		contextData,
		execution.CompletedAt,
		execution.ErrorMessage,
		execution.StepsCompleted,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
	}

	if affected == 0 {
		return fmt.Errorf("failed to update execution %s: %w", execution.ID, persistence.ErrExecutionNotFound)
	}

	return nil
}

// GetByID returns an execution by its ID.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			id
		  , workflow_id
		  , status
		  , trigger_data
		  , context_data
		  , started_at
		  , completed_at
		  , error_message
		  , steps_completed
		FROM executions
		WHERE id = $1
	`, id)

	var (
		execution    models.Execution
		triggerData  []byte
		contextData  []byte
		completedAt  sql.NullTime
		errorMessage sql.NullString
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.Status,
		&triggerData,
		&contextData,
		&execution.StartedAt,
		&completedAt,
		&errorMessage,
		&execution.StepsCompleted,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("execution %s: %w", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}

	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}

	execution.ErrorMessage = errorMessage.String

	execution.TriggerData, err = unmarshalJSON(triggerData)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}

	execution.ContextData, err = unmarshalJSON(contextData)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}

	return &execution, nil
}

// CreateStepExecution inserts a step trace row.
func (r *ExecutionRepository) CreateStepExecution(ctx context.Context, stepExecution *models.StepExecution) error {
	if stepExecution.ID == "" {
		stepExecution.ID = uuid.New().String()
	}

	if stepExecution.CreatedAt.IsZero() {
		stepExecution.CreatedAt = time.Now().UTC()
	}

	inputData, err := marshalJSON(stepExecution.InputData)
	if err != nil {
		return fmt.Errorf("failed to create step execution %s: %w", stepExecution.ID, err)
	}

	outputData, err := marshalJSON(stepExecution.OutputData)
	if err != nil {
		return fmt.Errorf("failed to create step execution %s: %w", stepExecution.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO step_executions (id, execution_id, step_id, status, input_data, output_data, error_message, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)
	`,
		stepExecution.ID,
		stepExecution.ExecutionID,
		stepExecution.StepID,
		stepExecution.Status,
		inputData,
		outputData,
		stepExecution.ErrorMessage,
		stepExecution.DurationMS,
		stepExecution.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create step execution %s: %w", stepExecution.ID, err)
	}

	return nil
}

// UpdateStepExecution persists the outcome fields of a step trace row.
func (r *ExecutionRepository) UpdateStepExecution(ctx context.Context, stepExecution *models.StepExecution) error {
	outputData, err := marshalJSON(stepExecution.OutputData)
	if err != nil {
		return fmt.Errorf("failed to update step execution %s: %w", stepExecution.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE step_executions
		SET status = $2,
			output_data = $3,
			error_message = NULLIF($4, ''),
			duration_ms = $5
		WHERE id = $1
	`,
		stepExecution.ID,
		stepExecution.Status,
		outputData,
		stepExecution.ErrorMessage,
		stepExecution.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to update step execution %s: %w", stepExecution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update step execution %s: %w", stepExecution.ID, err)
	}

	if affected == 0 {
		return fmt.Errorf("failed to update step execution %s: %w", stepExecution.ID, persistence.ErrStepExecutionNotFound)
	}

	return nil
}

// StepExecutions returns the visited-step trace of an execution in visit
// order.
func (r *ExecutionRepository) StepExecutions(ctx context.Context, executionID string) ([]*models.StepExecution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id
		  , execution_id
		  , step_id
		  , status
		  , input_data
		  , output_data
		  , error_message
		  , duration_ms
		  , created_at
		FROM step_executions
		WHERE execution_id = $1
		ORDER BY created_at, id
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step executions: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	stepExecutions := make([]*models.StepExecution, 0)

	for rows.Next() {
		var (
			stepExecution models.StepExecution
			inputData     []byte
			outputData    []byte
			errorMessage  sql.NullString
		)

		err = rows.Scan(
			&stepExecution.ID,
			&stepExecution.ExecutionID,
			&stepExecution.StepID,
			&stepExecution.Status,
			&inputData,
			&outputData,
			&errorMessage,
			&stepExecution.DurationMS,
			&stepExecution.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}

		stepExecution.ErrorMessage = errorMessage.String

		stepExecution.InputData, err = unmarshalJSON(inputData)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}

		stepExecution.OutputData, err = unmarshalJSON(outputData)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}

		stepExecutions = append(stepExecutions, &stepExecution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating step executions: %w", err)
	}

	return stepExecutions, nil
}
