package workflow

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/flowq/pkg/events"
	"github.com/dukex/flowq/pkg/mocks"
	"github.com/dukex/flowq/pkg/models"
	"github.com/dukex/flowq/pkg/persistence"
	"github.com/dukex/flowq/pkg/persistence/memory"
	"github.com/dukex/flowq/pkg/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestExecutor(t *testing.T) (*Executor, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	executor := NewExecutor(store, registry.NewDefaultRegistry(testLogger()))

	return executor, store
}

func saveWorkflow(t *testing.T, store *memory.Persistence, workflowID string, steps ...*models.WorkflowStep) {
	t.Helper()

	ctx := context.Background()

	err := store.Workflows().Save(ctx, &models.Workflow{
		ID:          workflowID,
		Name:        "test workflow",
		Status:      models.WorkflowStatusActive,
		TriggerType: "manual",
	})
	require.NoError(t, err)

	for _, step := range steps {
		step.WorkflowID = workflowID
		require.NoError(t, store.Workflows().SaveStep(ctx, step))
	}
}

// enqueueAndClaim pushes a dispatch and claims it, mirroring the worker's path.
func enqueueAndClaim(t *testing.T, store *memory.Persistence, workflowID string, triggerData map[string]any) *models.Dispatch {
	t.Helper()

	ctx := context.Background()

	dispatch := &models.Dispatch{
		WorkflowID:  workflowID,
		TriggerData: triggerData,
		AvailableAt: time.Now().Add(-time.Second),
		MaxAttempts: models.DefaultMaxAttempts,
	}
	require.NoError(t, store.Dispatches().Enqueue(ctx, dispatch))

	claimed, err := store.Dispatches().Claim(ctx, "test-worker", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	return claimed[0]
}

func TestRunEndToEnd(t *testing.T) {
	executor, store := newTestExecutor(t)
	ctx := context.Background()

	// trigger -> a1 (sets context.score=5) -> condition (score > 3) -> a2 (sets context.result="high")
	saveWorkflow(t, store, "wf-e2e",
		&models.WorkflowStep{ID: "t", Type: models.StepTypeTrigger, NextStepID: ptr("a1")},
		&models.WorkflowStep{
			ID: "a1", Type: models.StepTypeAction, ActionType: "transform",
			Config:     map[string]any{"expression": "5", "output_key": "score"},
			NextStepID: ptr("c"),
		},
		&models.WorkflowStep{
			ID: "c", Type: models.StepTypeCondition,
			Config:           map[string]any{"field": "context.score", "operator": "greater_than", "value": 3},
			TrueBranchStepID: ptr("a2"),
		},
		&models.WorkflowStep{
			ID: "a2", Type: models.StepTypeAction, ActionType: "transform",
			Config: map[string]any{"expression": "high", "output_key": "result"},
		},
	)

	dispatch := enqueueAndClaim(t, store, "wf-e2e", map[string]any{})

	execution, err := executor.Run(ctx, testLogger(), dispatch)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSucceeded, execution.Status)
	assert.Equal(t, 4, execution.StepsCompleted)
	assert.Equal(t, map[string]any{"score": float64(5), "result": "high"}, execution.ContextData)
	require.NotNil(t, execution.CompletedAt)

	stepExecutions, err := store.Executions().StepExecutions(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, stepExecutions, 4)

	for _, stepExecution := range stepExecutions {
		assert.Equal(t, models.StepExecutionStatusSucceeded, stepExecution.Status)
	}

	// The dispatch settled succeeded and points at the execution.
	settled, err := store.Dispatches().GetByID(ctx, dispatch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchStatusSucceeded, settled.Status)
	require.NotNil(t, settled.ExecutionID)
	assert.Equal(t, execution.ID, *settled.ExecutionID)
	assert.NotNil(t, settled.FinishedAt)
}

func TestRunContextPropagation(t *testing.T) {
	executor, store := newTestExecutor(t)
	ctx := context.Background()

	saveWorkflow(t, store, "wf-ctx",
		&models.WorkflowStep{ID: "t", Type: models.StepTypeTrigger, NextStepID: ptr("a1")},
		&models.WorkflowStep{
			ID: "a1", Type: models.StepTypeAction, ActionType: "transform",
			Config:     map[string]any{"expression": "ord-42", "output_key": "order_id"},
			NextStepID: ptr("a2"),
		},
		&models.WorkflowStep{
			ID: "a2", Type: models.StepTypeAction, ActionType: "transform",
			Config: map[string]any{"expression": "{{.context.order_id}}-copy", "output_key": "copied"},
		},
	)

	dispatch := enqueueAndClaim(t, store, "wf-ctx", nil)

	execution, err := executor.Run(ctx, testLogger(), dispatch)
	require.NoError(t, err)
	assert.Equal(t, "ord-42-copy", execution.ContextData["copied"])

	// a2's input snapshot sees a1's output.
	stepExecutions, err := store.Executions().StepExecutions(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, stepExecutions, 3)
	assert.Equal(t, "ord-42", stepExecutions[2].InputData["order_id"])

	// a1's input snapshot predates its own output.
	assert.NotContains(t, stepExecutions[1].InputData, "order_id")
}

func TestRunConditionFalseBranchNullEndsSucceeded(t *testing.T) {
	executor, store := newTestExecutor(t)
	ctx := context.Background()

	saveWorkflow(t, store, "wf-false",
		&models.WorkflowStep{ID: "t", Type: models.StepTypeTrigger, NextStepID: ptr("c")},
		&models.WorkflowStep{
			ID: "c", Type: models.StepTypeCondition,
			Config:           map[string]any{"field": "trigger.vip", "operator": "equals", "value": true},
			TrueBranchStepID: ptr("a"),
			// false branch is null: end execution successfully
		},
		&models.WorkflowStep{
			ID: "a", Type: models.StepTypeAction, ActionType: "log",
			Config: map[string]any{"message": "should not run"},
		},
	)

	dispatch := enqueueAndClaim(t, store, "wf-false", map[string]any{"vip": false})

	execution, err := executor.Run(ctx, testLogger(), dispatch)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, execution.Status)
	assert.Equal(t, 2, execution.StepsCompleted)

	stepExecutions, err := store.Executions().StepExecutions(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, stepExecutions, 2)
	assert.Equal(t, map[string]any{"condition_result": false}, stepExecutions[1].OutputData)
}

func TestRunCyclicGraphHitsVisitBudget(t *testing.T) {
	executor, store := newTestExecutor(t)
	executor.VisitBudget = 10
	ctx := context.Background()

	// Condition always routes back to itself.
	saveWorkflow(t, store, "wf-cycle",
		&models.WorkflowStep{ID: "t", Type: models.StepTypeTrigger, NextStepID: ptr("c")},
		&models.WorkflowStep{
			ID: "c", Type: models.StepTypeCondition,
			Config:           map[string]any{"field": "trigger.stuck", "operator": "equals", "value": true},
			TrueBranchStepID: ptr("c"),
		},
	)

	dispatch := enqueueAndClaim(t, store, "wf-cycle", map[string]any{"stuck": true})

	execution, err := executor.Run(ctx, testLogger(), dispatch)
	require.ErrorIs(t, err, ErrVisitBudgetExceeded)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, "step visit budget exceeded")
	assert.Equal(t, 10, execution.StepsCompleted)
}

func TestRunDanglingStepReference(t *testing.T) {
	executor, store := newTestExecutor(t)
	ctx := context.Background()

	saveWorkflow(t, store, "wf-dangling",
		&models.WorkflowStep{ID: "t", Type: models.StepTypeTrigger, NextStepID: ptr("ghost")},
	)

	dispatch := enqueueAndClaim(t, store, "wf-dangling", nil)

	execution, err := executor.Run(ctx, testLogger(), dispatch)
	require.ErrorIs(t, err, &GraphError{Kind: DanglingStepReference})
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)

	// The trigger visit plus a failed row for the unresolved reference.
	rows, err := store.Executions().StepExecutions(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.StepExecutionStatusFailed, rows[1].Status)
	assert.Nil(t, rows[1].StepID)
	assert.Contains(t, rows[1].ErrorMessage, "ghost")
}

func TestRunActionFailureRetriesDispatch(t *testing.T) {
	executor, store := newTestExecutor(t)
	ctx := context.Background()

	saveWorkflow(t, store, "wf-fail",
		&models.WorkflowStep{ID: "t", Type: models.StepTypeTrigger, NextStepID: ptr("a")},
		&models.WorkflowStep{ID: "a", Type: models.StepTypeAction, ActionType: "no_such_action"},
	)

	dispatch := enqueueAndClaim(t, store, "wf-fail", nil)

	execution, err := executor.Run(ctx, testLogger(), dispatch)
	require.Error(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)

	// The step row records the failure.
	stepExecutions, err := store.Executions().StepExecutions(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, stepExecutions, 2)
	assert.Equal(t, models.StepExecutionStatusFailed, stepExecutions[1].Status)
	assert.Contains(t, stepExecutions[1].ErrorMessage, "no_such_action")

	// First attempt failed: the dispatch returns to pending with backoff,
	// keeping the failed execution id for audit.
	settled, err := store.Dispatches().GetByID(ctx, dispatch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchStatusPending, settled.Status)
	assert.Equal(t, 1, settled.Attempts)
	assert.True(t, settled.AvailableAt.After(time.Now()), "available_at should be pushed into the future")
	require.NotNil(t, settled.ExecutionID)
	assert.Equal(t, execution.ID, *settled.ExecutionID)
}

func TestRunExhaustsAttemptsToTerminalFailure(t *testing.T) {
	executor, store := newTestExecutor(t)
	ctx := context.Background()

	saveWorkflow(t, store, "wf-exhaust",
		&models.WorkflowStep{ID: "t", Type: models.StepTypeTrigger, NextStepID: ptr("a")},
		&models.WorkflowStep{ID: "a", Type: models.StepTypeAction, ActionType: "no_such_action"},
	)

	dispatch := &models.Dispatch{
		WorkflowID:  "wf-exhaust",
		AvailableAt: time.Now().Add(-time.Second),
		MaxAttempts: 2,
	}
	require.NoError(t, store.Dispatches().Enqueue(ctx, dispatch))

	for attempt := 1; attempt <= 2; attempt++ {
		// Force eligibility regardless of backoff for the test.
		pending, err := store.Dispatches().GetByID(ctx, dispatch.ID)
		require.NoError(t, err)
		require.Equal(t, models.DispatchStatusPending, pending.Status)

		forceDispatchDue(t, store, dispatch.ID)

		claimed, err := store.Dispatches().Claim(ctx, "test-worker", 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		_, err = executor.Run(ctx, testLogger(), claimed[0])
		require.Error(t, err)
	}

	settled, err := store.Dispatches().GetByID(ctx, dispatch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchStatusFailed, settled.Status)
	assert.Equal(t, 2, settled.Attempts)
	assert.NotEmpty(t, settled.ErrorMessage)
	assert.NotNil(t, settled.FinishedAt)
}

func TestRunTriggerDataSnapshotIsolated(t *testing.T) {
	executor, store := newTestExecutor(t)
	ctx := context.Background()

	saveWorkflow(t, store, "wf-snap",
		&models.WorkflowStep{ID: "t", Type: models.StepTypeTrigger},
	)

	triggerData := map[string]any{"order_id": "ord-1"}
	dispatch := enqueueAndClaim(t, store, "wf-snap", triggerData)

	execution, err := executor.Run(ctx, testLogger(), dispatch)
	require.NoError(t, err)

	// Mutating the dispatch payload afterwards must not rewrite history.
	dispatch.TriggerData["order_id"] = "tampered"

	stored, err := store.Executions().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", stored.TriggerData["order_id"])
}

func TestRunEmitsWorkflowLogs(t *testing.T) {
	executor, store := newTestExecutor(t)
	ctx := context.Background()

	saveWorkflow(t, store, "wf-logs",
		&models.WorkflowStep{ID: "t", Type: models.StepTypeTrigger},
	)

	dispatch := enqueueAndClaim(t, store, "wf-logs", nil)

	execution, err := executor.Run(ctx, testLogger(), dispatch)
	require.NoError(t, err)

	entries := store.LogEntries()
	require.NotEmpty(t, entries)

	events := make([]string, 0, len(entries))

	for _, entry := range entries {
		require.NotNil(t, entry.ExecutionID)
		assert.Equal(t, execution.ID, *entry.ExecutionID)
		events = append(events, entry.Event)
	}

	assert.Contains(t, events, "execution.started")
	assert.Contains(t, events, "execution.succeeded")
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	executor, store := newTestExecutor(t)
	ctx := context.Background()

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	executor.WithEventBus(bus)

	saveWorkflow(t, store, "wf-events",
		&models.WorkflowStep{ID: "t", Type: models.StepTypeTrigger},
	)

	dispatch := enqueueAndClaim(t, store, "wf-events", nil)

	_, err := executor.Run(ctx, testLogger(), dispatch)
	require.NoError(t, err)

	published := make([]string, 0, len(bus.Calls))

	for _, call := range bus.Calls {
		key, ok := call.Arguments.Get(1).(string)
		require.True(t, ok)
		published = append(published, key)
	}

	assert.Contains(t, published, string(events.ExecutionStartedEvent))
	assert.Contains(t, published, string(events.ExecutionSucceededEvent))
	bus.AssertExpectations(t)
}

func TestRunPublishesExhaustedOnTerminalFailure(t *testing.T) {
	executor, store := newTestExecutor(t)
	ctx := context.Background()

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	executor.WithEventBus(bus)

	saveWorkflow(t, store, "wf-exhausted",
		&models.WorkflowStep{ID: "t", Type: models.StepTypeTrigger, NextStepID: ptr("a")},
		&models.WorkflowStep{
			ID: "a", Type: models.StepTypeAction, ActionType: "http_request",
			Config: map[string]any{"url": "://not-a-url"},
		},
	)

	dispatch := &models.Dispatch{
		WorkflowID:  "wf-exhausted",
		MaxAttempts: 1,
		AvailableAt: time.Now().Add(-time.Second),
	}
	require.NoError(t, store.Dispatches().Enqueue(ctx, dispatch))

	claimed, err := store.Dispatches().Claim(ctx, "test-worker", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	_, err = executor.Run(ctx, testLogger(), claimed[0])
	require.Error(t, err)

	published := make([]string, 0, len(bus.Calls))

	for _, call := range bus.Calls {
		key, ok := call.Arguments.Get(1).(string)
		require.True(t, ok)
		published = append(published, key)
	}

	assert.Contains(t, published, string(events.ExecutionFailedEvent))
	assert.Contains(t, published, string(events.DispatchExhaustedEvent))
}

// forceDispatchDue rewinds a pending dispatch's availability so tests need not
// wait out real backoff.
func forceDispatchDue(t *testing.T, store *memory.Persistence, dispatchID string) {
	t.Helper()

	store.SetAvailableAt(dispatchID, time.Now().Add(-time.Second))
}

var _ persistence.Persistence = (*memory.Persistence)(nil)
