package postgresql_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/flowq/pkg/models"
	"github.com/dukex/flowq/pkg/persistence"
	"github.com/dukex/flowq/pkg/persistence/postgresql"
)

func execSQL(ctx context.Context, t *testing.T, databaseURL, query string, args ...any) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	_, err = db.ExecContext(ctx, query, args...)
	require.NoError(t, err)
}

func queryRow(ctx context.Context, t *testing.T, databaseURL, query string, args []any, dest ...any) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	require.NoError(t, db.QueryRowContext(ctx, query, args...).Scan(dest...))
}

func seedDispatch(ctx context.Context, t *testing.T, store *postgresql.Persistence, workflowID string) *models.Dispatch {
	t.Helper()

	dispatch := &models.Dispatch{
		WorkflowID:  workflowID,
		TriggerData: map[string]any{"email": "a@example.com"},
	}
	require.NoError(t, store.Dispatches().Enqueue(ctx, dispatch))

	return dispatch
}

func TestDispatchRepository_EnqueueAndGetByID(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := seedActiveWorkflow(ctx, t, store, "Enqueue Target")
	dispatch := seedDispatch(ctx, t, store, workflow.ID)

	loaded, err := store.Dispatches().GetByID(ctx, dispatch.ID)
	require.NoError(t, err)

	assert.Equal(t, models.DispatchStatusPending, loaded.Status)
	assert.Equal(t, models.DefaultMaxAttempts, loaded.MaxAttempts)
	assert.Zero(t, loaded.Attempts)
	assert.Equal(t, "a@example.com", loaded.TriggerData["email"])
	assert.False(t, loaded.AvailableAt.IsZero())
}

func TestDispatchRepository_EnqueueRejectsInactiveWorkflow(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	draft := &models.Workflow{Name: "Draft Workflow"}
	require.NoError(t, store.Workflows().Save(ctx, draft))

	err := store.Dispatches().Enqueue(ctx, &models.Dispatch{WorkflowID: draft.ID})
	require.ErrorIs(t, err, persistence.ErrWorkflowNotActive)

	err = store.Dispatches().Enqueue(ctx, &models.Dispatch{WorkflowID: "00000000-0000-0000-0000-000000000000"})
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestDispatchRepository_ClaimMarksRowsForWorker(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := seedActiveWorkflow(ctx, t, store, "Claim Target")
	first := seedDispatch(ctx, t, store, workflow.ID)
	second := seedDispatch(ctx, t, store, workflow.ID)

	claimed, err := store.Dispatches().Claim(ctx, "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	ids := map[string]bool{first.ID: false, second.ID: false}

	for _, dispatch := range claimed {
		ids[dispatch.ID] = true

		assert.Equal(t, models.DispatchStatusClaimed, dispatch.Status)
		assert.Equal(t, 1, dispatch.Attempts)
		assert.Equal(t, "worker-1", dispatch.WorkerID)
		require.NotNil(t, dispatch.StartedAt)
	}

	assert.True(t, ids[first.ID])
	assert.True(t, ids[second.ID])

	// Claimed rows are no longer eligible.
	again, err := store.Dispatches().Claim(ctx, "worker-2", 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestDispatchRepository_ClaimSkipsFutureRows(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := seedActiveWorkflow(ctx, t, store, "Future Rows")

	future := &models.Dispatch{
		WorkflowID:  workflow.ID,
		AvailableAt: time.Now().UTC().Add(1 * time.Hour),
	}
	require.NoError(t, store.Dispatches().Enqueue(ctx, future))

	claimed, err := store.Dispatches().Claim(ctx, "worker-1", 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestDispatchRepository_ClaimRespectsBatchSize(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := seedActiveWorkflow(ctx, t, store, "Batch Size")
	for range 5 {
		seedDispatch(ctx, t, store, workflow.ID)
	}

	claimed, err := store.Dispatches().Claim(ctx, "worker-1", 2)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
}

func TestDispatchRepository_CompleteIsIdempotent(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := seedActiveWorkflow(ctx, t, store, "Complete Target")
	dispatch := seedDispatch(ctx, t, store, workflow.ID)

	_, err := store.Dispatches().Claim(ctx, "worker-1", 1)
	require.NoError(t, err)

	execution := &models.Execution{WorkflowID: workflow.ID, Status: models.ExecutionStatusSucceeded}
	require.NoError(t, store.Executions().Create(ctx, execution))

	require.NoError(t, store.Dispatches().Complete(ctx, dispatch.ID, execution.ID))
	require.NoError(t, store.Dispatches().Complete(ctx, dispatch.ID, execution.ID))

	loaded, err := store.Dispatches().GetByID(ctx, dispatch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchStatusSucceeded, loaded.Status)
	require.NotNil(t, loaded.ExecutionID)
	assert.Equal(t, execution.ID, *loaded.ExecutionID)
	require.NotNil(t, loaded.FinishedAt)
}

func TestDispatchRepository_CompleteRequiresClaim(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := seedActiveWorkflow(ctx, t, store, "Complete Guard")
	dispatch := seedDispatch(ctx, t, store, workflow.ID)

	execution := &models.Execution{WorkflowID: workflow.ID, Status: models.ExecutionStatusSucceeded}
	require.NoError(t, store.Executions().Create(ctx, execution))

	err := store.Dispatches().Complete(ctx, dispatch.ID, execution.ID)
	require.ErrorIs(t, err, persistence.ErrDispatchNotClaimed)
}

func TestDispatchRepository_FailRequeuesThenExhausts(t *testing.T) {
	store, ctx, databaseURL := setupTestDB(t)

	workflow := seedActiveWorkflow(ctx, t, store, "Fail Target")
	dispatch := &models.Dispatch{WorkflowID: workflow.ID, MaxAttempts: 2}
	require.NoError(t, store.Dispatches().Enqueue(ctx, dispatch))

	claimed, err := store.Dispatches().Claim(ctx, "worker-1", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.Dispatches().Fail(ctx, dispatch.ID, "", "connection refused"))

	loaded, err := store.Dispatches().GetByID(ctx, dispatch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchStatusPending, loaded.Status)
	assert.Equal(t, 1, loaded.Attempts)
	assert.Equal(t, "connection refused", loaded.ErrorMessage)
	assert.Empty(t, loaded.WorkerID)
	assert.Nil(t, loaded.StartedAt)
	assert.True(t, loaded.AvailableAt.After(time.Now().UTC()))

	// Pull the backoff forward so the second attempt is claimable now.
	execSQL(ctx, t, databaseURL, "UPDATE dispatches SET available_at = NOW() WHERE id = $1", dispatch.ID)

	claimed, err = store.Dispatches().Claim(ctx, "worker-1", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	execution := &models.Execution{WorkflowID: workflow.ID, Status: models.ExecutionStatusFailed}
	require.NoError(t, store.Executions().Create(ctx, execution))

	require.NoError(t, store.Dispatches().Fail(ctx, dispatch.ID, execution.ID, "connection refused"))

	loaded, err = store.Dispatches().GetByID(ctx, dispatch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchStatusFailed, loaded.Status)
	assert.Equal(t, 2, loaded.Attempts)
	require.NotNil(t, loaded.FinishedAt)
	require.NotNil(t, loaded.ExecutionID)
	assert.Equal(t, execution.ID, *loaded.ExecutionID)
}

func TestDispatchRepository_CancelPendingOnly(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := seedActiveWorkflow(ctx, t, store, "Cancel Target")
	dispatch := seedDispatch(ctx, t, store, workflow.ID)

	require.NoError(t, store.Dispatches().Cancel(ctx, dispatch.ID))

	loaded, err := store.Dispatches().GetByID(ctx, dispatch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchStatusCancelled, loaded.Status)
	require.NotNil(t, loaded.FinishedAt)

	err = store.Dispatches().Cancel(ctx, dispatch.ID)
	require.ErrorIs(t, err, persistence.ErrDispatchNotPending)
}

func TestDispatchRepository_RequeueStaleClaims(t *testing.T) {
	store, ctx, databaseURL := setupTestDB(t)

	workflow := seedActiveWorkflow(ctx, t, store, "Stale Claims")
	dispatch := seedDispatch(ctx, t, store, workflow.ID)

	claimed, err := store.Dispatches().Claim(ctx, "worker-crashed", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Age the lease past the cutoff.
	execSQL(ctx, t, databaseURL, "UPDATE dispatches SET started_at = NOW() - INTERVAL '10 minutes' WHERE id = $1", dispatch.ID)

	requeued, err := store.Dispatches().RequeueStaleClaims(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	loaded, err := store.Dispatches().GetByID(ctx, dispatch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchStatusPending, loaded.Status)
	assert.Equal(t, 1, loaded.Attempts)
	assert.Empty(t, loaded.WorkerID)
	assert.Nil(t, loaded.StartedAt)
}
