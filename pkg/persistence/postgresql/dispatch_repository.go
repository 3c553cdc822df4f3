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

// DispatchRepository implements the durable dispatch queue on PostgreSQL.
// Claim relies on FOR UPDATE SKIP LOCKED so concurrent workers partition
// eligible rows without ever receiving the same one.
type DispatchRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDispatchRepository creates a new dispatch repository.
func NewDispatchRepository(db *sql.DB, logger *slog.Logger) *DispatchRepository {
	return &DispatchRepository{db: db, logger: logger}
}

const dispatchColumns = `
	id
  , workflow_id
  , status
  , trigger_data
  , available_at
  , started_at
  , finished_at
  , attempts
  , max_attempts
  , error_message
  , execution_id
  , worker_id
  , created_at
`

// Enqueue inserts a pending dispatch. The owning workflow must be active;
// the status check and the insert share one transaction so a concurrent
// pause cannot slip a row in.
func (r *DispatchRepository) Enqueue(ctx context.Context, dispatch *models.Dispatch) error {
	if dispatch.ID == "" {
		dispatch.ID = uuid.New().String()
	}

	if dispatch.MaxAttempts <= 0 {
		dispatch.MaxAttempts = models.DefaultMaxAttempts
	}

	if dispatch.AvailableAt.IsZero() {
		dispatch.AvailableAt = time.Now().UTC()
	}

	dispatch.Status = models.DispatchStatusPending

	if err := dispatch.Validate(); err != nil {
		return persistence.NewDispatchError("Enqueue", dispatch.ID, err)
	}

	triggerData, err := marshalJSON(dispatch.TriggerData)
	if err != nil {
		return persistence.NewDispatchError("Enqueue", dispatch.ID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewDispatchError("Enqueue", dispatch.ID, err)
	}

	defer r.rollback(ctx, tx)

	var status models.WorkflowStatus

	err = tx.QueryRowContext(ctx, `SELECT status FROM workflows WHERE id = $1`, dispatch.WorkflowID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewWorkflowError("Enqueue", dispatch.WorkflowID, persistence.ErrWorkflowNotFound)
		}

		return persistence.NewDispatchError("Enqueue", dispatch.ID, err)
	}

	if status != models.WorkflowStatusActive {
		return persistence.NewWorkflowError("Enqueue", dispatch.WorkflowID, persistence.ErrWorkflowNotActive)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dispatches (id, workflow_id, status, trigger_data, available_at, max_attempts, created_at)
		VALUES ($1, $2, 'pending', $3, $4, $5, NOW())
	`,
		dispatch.ID,
		dispatch.WorkflowID,
		triggerData,
		dispatch.AvailableAt,
		dispatch.MaxAttempts,
	)
	if err != nil {
		return persistence.NewDispatchError("Enqueue", dispatch.ID, err)
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewDispatchError("Enqueue", dispatch.ID, err)
	}

	return nil
}

// GetByID returns a dispatch by its ID.
func (r *DispatchRepository) GetByID(ctx context.Context, id string) (*models.Dispatch, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+dispatchColumns+` FROM dispatches WHERE id = $1`, id)

	dispatch, err := scanDispatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewDispatchError("GetByID", id, persistence.ErrDispatchNotFound)
		}

		return nil, persistence.NewDispatchError("GetByID", id, err)
	}

	return dispatch, nil
}

// Claim atomically takes up to batchSize due pending rows for workerID.
// Rows locked by a concurrent claimer are skipped rather than waited on, so
// callers never block each other and never share a row.
func (r *DispatchRepository) Claim(ctx context.Context, workerID string, batchSize int) ([]*models.Dispatch, error) {
	query := `
		WITH claimable AS (
			SELECT id
			FROM dispatches
			WHERE status = 'pending' AND available_at <= NOW()
			ORDER BY available_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE dispatches d
		SET status = 'claimed',
			attempts = d.attempts + 1,
			started_at = NOW(),
			worker_id = $1
		FROM claimable
		WHERE d.id = claimable.id
		RETURNING ` + dispatchColumnsQualified

	rows, err := r.db.QueryContext(ctx, query, workerID, batchSize)
	if err != nil {
		return nil, &persistence.DispatchError{Op: "Claim", WorkerID: workerID, Err: err}
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	claimed := make([]*models.Dispatch, 0, batchSize)

	for rows.Next() {
		dispatch, err := scanDispatch(rows)
		if err != nil {
			return nil, &persistence.DispatchError{Op: "Claim", WorkerID: workerID, Err: err}
		}

		claimed = append(claimed, dispatch)
	}

	err = rows.Err()
	if err != nil {
		return nil, &persistence.DispatchError{Op: "Claim", WorkerID: workerID, Err: err}
	}

	return claimed, nil
}

// Complete marks a claimed dispatch succeeded. Completing an already
// succeeded dispatch is a no-op.
func (r *DispatchRepository) Complete(ctx context.Context, dispatchID, executionID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE dispatches
		SET status = 'succeeded', finished_at = NOW(), execution_id = $2
		WHERE id = $1 AND status = 'claimed'
	`, dispatchID, executionID)
	if err != nil {
		return persistence.NewDispatchError("Complete", dispatchID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewDispatchError("Complete", dispatchID, err)
	}

	if affected > 0 {
		return nil
	}

	status, err := r.currentStatus(ctx, dispatchID)
	if err != nil {
		return persistence.NewDispatchError("Complete", dispatchID, err)
	}

	if status == models.DispatchStatusSucceeded {
		return nil
	}

	return persistence.NewDispatchError("Complete", dispatchID, persistence.ErrDispatchNotClaimed)
}

// Fail reschedules the dispatch with backoff while attempts remain, else
// marks it terminally failed. The failed execution id is kept either way so
// the audit trail survives retries.
func (r *DispatchRepository) Fail(ctx context.Context, dispatchID, executionID, errorMessage string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewDispatchError("Fail", dispatchID, err)
	}

	defer r.rollback(ctx, tx)

	var (
		status      models.DispatchStatus
		attempts    int
		maxAttempts int
	)

	err = tx.QueryRowContext(ctx, `
		SELECT status, attempts, max_attempts FROM dispatches WHERE id = $1 FOR UPDATE
	`, dispatchID).Scan(&status, &attempts, &maxAttempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewDispatchError("Fail", dispatchID, persistence.ErrDispatchNotFound)
		}

		return persistence.NewDispatchError("Fail", dispatchID, err)
	}

	if status != models.DispatchStatusClaimed {
		return persistence.NewDispatchError("Fail", dispatchID, persistence.ErrDispatchNotClaimed)
	}

	if attempts < maxAttempts {
		availableAt := time.Now().UTC().Add(models.RetryDelay(attempts))

		_, err = tx.ExecContext(ctx, `
			UPDATE dispatches
			SET status = 'pending',
				available_at = $2,
				error_message = $3,
				execution_id = NULLIF($4, '')::uuid,
				worker_id = NULL,
				started_at = NULL
			WHERE id = $1
		`, dispatchID, availableAt, errorMessage, executionID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE dispatches
			SET status = 'failed',
				finished_at = NOW(),
				error_message = $2,
				execution_id = NULLIF($3, '')::uuid
			WHERE id = $1
		`, dispatchID, errorMessage, executionID)
	}

	if err != nil {
		return persistence.NewDispatchError("Fail", dispatchID, err)
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewDispatchError("Fail", dispatchID, err)
	}

	return nil
}

// Cancel transitions a pending dispatch to cancelled.
func (r *DispatchRepository) Cancel(ctx context.Context, dispatchID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE dispatches
		SET status = 'cancelled', finished_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, dispatchID)
	if err != nil {
		return persistence.NewDispatchError("Cancel", dispatchID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewDispatchError("Cancel", dispatchID, err)
	}

	if affected == 0 {
		_, err = r.currentStatus(ctx, dispatchID)
		if err != nil {
			return persistence.NewDispatchError("Cancel", dispatchID, err)
		}

		return persistence.NewDispatchError("Cancel", dispatchID, persistence.ErrDispatchNotPending)
	}

	return nil
}

// RequeueStaleClaims reverts claimed rows whose lease expired back to
// pending. Returns the number of recovered rows.
func (r *DispatchRepository) RequeueStaleClaims(ctx context.Context, leaseTimeout time.Duration) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE dispatches
		SET status = 'pending', worker_id = NULL, started_at = NULL
		WHERE status = 'claimed' AND started_at < NOW() - ($1 * INTERVAL '1 second')
	`, leaseTimeout.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale claims: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale claims: %w", err)
	}

	return int(affected), nil
}

func (r *DispatchRepository) currentStatus(ctx context.Context, dispatchID string) (models.DispatchStatus, error) {
	var status models.DispatchStatus

	err := r.db.QueryRowContext(ctx, `SELECT status FROM dispatches WHERE id = $1`, dispatchID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", persistence.ErrDispatchNotFound
		}

		return "", err
	}

	return status, nil
}

func (r *DispatchRepository) rollback(ctx context.Context, tx *sql.Tx) {
	err := tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		r.logger.ErrorContext(ctx, "failed to rollback transaction", "error", err)
	}
}

const dispatchColumnsQualified = `
	d.id
  , d.workflow_id
  , d.status
  , d.trigger_data
  , d.available_at
  , d.started_at
  , d.finished_at
  , d.attempts
  , d.max_attempts
  , d.error_message
  , d.execution_id
  , d.worker_id
  , d.created_at
`

func scanDispatch(row rowScanner) (*models.Dispatch, error) {
	var (
		dispatch     models.Dispatch
		triggerData  []byte
		startedAt    sql.NullTime
		finishedAt   sql.NullTime
		errorMessage sql.NullString
		workerID     sql.NullString
	)

	err := row.Scan(
		&dispatch.ID,
		&dispatch.WorkflowID,
		&dispatch.Status,
		&triggerData,
		&dispatch.AvailableAt,
		&startedAt,
		&finishedAt,
		&dispatch.Attempts,
		&dispatch.MaxAttempts,
		&errorMessage,
		&dispatch.ExecutionID,
		&workerID,
		&dispatch.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		dispatch.StartedAt = &startedAt.Time
	}

	if finishedAt.Valid {
		dispatch.FinishedAt = &finishedAt.Time
	}

	dispatch.ErrorMessage = errorMessage.String
	dispatch.WorkerID = workerID.String

	dispatch.TriggerData, err = unmarshalJSON(triggerData)
	if err != nil {
		return nil, err
	}

	return &dispatch, nil
}
