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

// WorkflowRepository handles workflow and step graph database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const workflowColumns = `
	id
  , name
  , description
  , status
  , trigger_type
  , trigger_config
  , location_id
  , created_at
  , updated_at
`

// Save inserts or updates a workflow.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusDraft
	}

	if err := workflow.Validate(); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	triggerConfig, err := marshalJSON(workflow.TriggerConfig)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	query := `
		INSERT INTO workflows (id, name, description, status, trigger_type, trigger_config, location_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			trigger_type = EXCLUDED.trigger_type,
			trigger_config = EXCLUDED.trigger_config,
			location_id = EXCLUDED.location_id,
			updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		workflow.Status,
		workflow.TriggerType,
		triggerConfig,
		workflow.LocationID,
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// GetByID returns a workflow by its ID.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return workflow, nil
}

// GetAll returns all workflows, newest first.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	return r.collectWorkflows(ctx, rows)
}

// GetActiveByTriggerType returns active workflows matching a trigger type,
// optionally narrowed to one location.
func (r *WorkflowRepository) GetActiveByTriggerType(ctx context.Context, triggerType, locationID string) ([]*models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE status = 'active'
		  AND trigger_type = $1
		  AND ($2 = '' OR location_id = $2)
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, triggerType, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active workflows: %w", err)
	}

	return r.collectWorkflows(ctx, rows)
}

// Delete removes a workflow; its steps, executions and dispatches cascade.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// SaveStep inserts or updates a workflow step.
func (r *WorkflowRepository) SaveStep(ctx context.Context, step *models.WorkflowStep) error {
	if step.ID == "" {
		step.ID = uuid.New().String()
	}

	if err := step.Validate(); err != nil {
		return persistence.NewWorkflowError("SaveStep", step.WorkflowID, err)
	}

	config, err := marshalJSON(step.Config)
	if err != nil {
		return fmt.Errorf("failed to save step %s: %w", step.ID, err)
	}

	query := `
		INSERT INTO workflow_steps (id, workflow_id, step_type, action_type, config, label, position, next_step_id, true_branch_step_id, false_branch_step_id, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8, $9, $10, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			step_type = EXCLUDED.step_type,
			action_type = EXCLUDED.action_type,
			config = EXCLUDED.config,
			label = EXCLUDED.label,
			position = EXCLUDED.position,
			next_step_id = EXCLUDED.next_step_id,
			true_branch_step_id = EXCLUDED.true_branch_step_id,
			false_branch_step_id = EXCLUDED.false_branch_step_id,
			updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query,
		step.ID,
		step.WorkflowID,
		step.Type,
		step.ActionType,
		config,
		step.Label,
		step.Position,
		step.NextStepID,
		step.TrueBranchStepID,
		step.FalseBranchStepID,
	)
	if err != nil {
		return fmt.Errorf("failed to save step %s: %w", step.ID, err)
	}

	return nil
}

// StepsByWorkflow returns all steps of a workflow ordered by position.
func (r *WorkflowRepository) StepsByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowStep, error) {
	query := `
		SELECT
			id
		  , workflow_id
		  , step_type
		  , action_type
		  , config
		  , label
		  , position
		  , next_step_id
		  , true_branch_step_id
		  , false_branch_step_id
		  , created_at
		  , updated_at
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY position, created_at
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow steps: %w", err)
	}

	defer r.closeRows(ctx, rows)

	steps := make([]*models.WorkflowStep, 0)

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		steps = append(steps, step)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

// DeleteStep removes a step. Successor references pointing at it are nulled
// by the schema's ON DELETE SET NULL constraints, so the rest of the graph
// stays intact.
func (r *WorkflowRepository) DeleteStep(ctx context.Context, stepID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflow_steps WHERE id = $1`, stepID)
	if err != nil {
		return fmt.Errorf("failed to delete step %s: %w", stepID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete step %s: %w", stepID, err)
	}

	if affected == 0 {
		return fmt.Errorf("failed to delete step %s: %w", stepID, persistence.ErrStepNotFound)
	}

	return nil
}

func (r *WorkflowRepository) collectWorkflows(ctx context.Context, rows *sql.Rows) ([]*models.Workflow, error) {
	defer r.closeRows(ctx, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow      models.Workflow
		triggerType   sql.NullString
		triggerConfig []byte
		locationID    sql.NullString
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Status,
		&triggerType,
		&triggerConfig,
		&locationID,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.TriggerType = triggerType.String
	workflow.LocationID = locationID.String

	workflow.TriggerConfig, err = unmarshalJSON(triggerConfig)
	if err != nil {
		return nil, err
	}

	return &workflow, nil
}

func scanStep(row rowScanner) (*models.WorkflowStep, error) {
	var (
		step       models.WorkflowStep
		actionType sql.NullString
		config     []byte
		label      sql.NullString
		createdAt  time.Time
		updatedAt  time.Time
	)

	err := row.Scan(
		&step.ID,
		&step.WorkflowID,
		&step.Type,
		&actionType,
		&config,
		&label,
		&step.Position,
		&step.NextStepID,
		&step.TrueBranchStepID,
		&step.FalseBranchStepID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	step.ActionType = actionType.String
	step.Label = label.String
	step.CreatedAt = createdAt
	step.UpdatedAt = updatedAt

	step.Config, err = unmarshalJSON(config)
	if err != nil {
		return nil, err
	}

	return &step, nil
}
