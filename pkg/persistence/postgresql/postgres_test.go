package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/dukex/flowq/pkg/models"
	"github.com/dukex/flowq/pkg/persistence"
	"github.com/dukex/flowq/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{"workflow_logs", "step_executions", "dispatches", "executions", "workflow_steps", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("flowq_test"),
			postgres.WithUsername("flowq"),
			postgres.WithPassword("flowq"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = store.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return store, ctx, databaseURL
}

func seedActiveWorkflow(ctx context.Context, t *testing.T, store *postgresql.Persistence, name string) *models.Workflow {
	t.Helper()

	workflow := &models.Workflow{
		Name:        name,
		Status:      models.WorkflowStatusActive,
		TriggerType: "webhook",
	}
	require.NoError(t, store.Workflows().Save(ctx, workflow))

	return workflow
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	var exists bool

	for _, table := range []string{"workflows", "workflow_steps", "dispatches", "executions", "step_executions", "workflow_logs"} {
		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	err := store.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestWorkflowRepository_SaveAndGetByID(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := &models.Workflow{
		Name:          "Welcome Email",
		Description:   "Sends the onboarding email",
		Status:        models.WorkflowStatusActive,
		TriggerType:   "contact_created",
		TriggerConfig: map[string]any{"filters": map[string]any{"source": "signup"}},
		LocationID:    "loc-1",
	}
	require.NoError(t, store.Workflows().Save(ctx, workflow))
	require.NotEmpty(t, workflow.ID)

	loaded, err := store.Workflows().GetByID(ctx, workflow.ID)
	require.NoError(t, err)

	assert.Equal(t, workflow.Name, loaded.Name)
	assert.Equal(t, workflow.Description, loaded.Description)
	assert.Equal(t, models.WorkflowStatusActive, loaded.Status)
	assert.Equal(t, "contact_created", loaded.TriggerType)
	assert.Equal(t, "loc-1", loaded.LocationID)
	require.NotNil(t, loaded.TriggerConfig)
	assert.Contains(t, loaded.TriggerConfig, "filters")
}

func TestWorkflowRepository_SaveUpserts(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := seedActiveWorkflow(ctx, t, store, "Upsert Target")

	workflow.Name = "Upsert Target Renamed"
	workflow.Status = models.WorkflowStatusPaused
	require.NoError(t, store.Workflows().Save(ctx, workflow))

	loaded, err := store.Workflows().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Upsert Target Renamed", loaded.Name)
	assert.Equal(t, models.WorkflowStatusPaused, loaded.Status)

	all, err := store.Workflows().GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestWorkflowRepository_SaveRejectsInvalid(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	err := store.Workflows().Save(ctx, &models.Workflow{Name: "ab"})
	require.Error(t, err)
}

func TestWorkflowRepository_GetByIDNotFound(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	_, err := store.Workflows().GetByID(ctx, "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestWorkflowRepository_GetActiveByTriggerType(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	active := &models.Workflow{
		Name:        "Active Contact Sync",
		Status:      models.WorkflowStatusActive,
		TriggerType: "contact_created",
		LocationID:  "loc-1",
	}
	require.NoError(t, store.Workflows().Save(ctx, active))

	paused := &models.Workflow{
		Name:        "Paused Contact Sync",
		Status:      models.WorkflowStatusPaused,
		TriggerType: "contact_created",
		LocationID:  "loc-1",
	}
	require.NoError(t, store.Workflows().Save(ctx, paused))

	matches, err := store.Workflows().GetActiveByTriggerType(ctx, "contact_created", "loc-1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, active.ID, matches[0].ID)

	none, err := store.Workflows().GetActiveByTriggerType(ctx, "contact_created", "loc-other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWorkflowRepository_StepGraphRoundTrip(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := seedActiveWorkflow(ctx, t, store, "Step Graph")

	action := &models.WorkflowStep{
		WorkflowID: workflow.ID,
		Type:       models.StepTypeAction,
		ActionType: "log",
		Config:     map[string]any{"message": "hello"},
		Label:      "Say hello",
		Position:   1,
	}
	require.NoError(t, store.Workflows().SaveStep(ctx, action))

	trigger := &models.WorkflowStep{
		WorkflowID: workflow.ID,
		Type:       models.StepTypeTrigger,
		Position:   0,
		NextStepID: &action.ID,
	}
	require.NoError(t, store.Workflows().SaveStep(ctx, trigger))

	steps, err := store.Workflows().StepsByWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, models.StepTypeTrigger, steps[0].Type)
	require.NotNil(t, steps[0].NextStepID)
	assert.Equal(t, action.ID, *steps[0].NextStepID)

	assert.Equal(t, models.StepTypeAction, steps[1].Type)
	assert.Equal(t, "log", steps[1].ActionType)
	assert.Equal(t, "Say hello", steps[1].Label)
	assert.Equal(t, "hello", steps[1].Config["message"])
}

func TestWorkflowRepository_DeleteStepNullsReferences(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := seedActiveWorkflow(ctx, t, store, "Delete Step")

	target := &models.WorkflowStep{
		WorkflowID: workflow.ID,
		Type:       models.StepTypeAction,
		ActionType: "log",
	}
	require.NoError(t, store.Workflows().SaveStep(ctx, target))

	condition := &models.WorkflowStep{
		WorkflowID:       workflow.ID,
		Type:             models.StepTypeCondition,
		TrueBranchStepID: &target.ID,
	}
	require.NoError(t, store.Workflows().SaveStep(ctx, condition))

	require.NoError(t, store.Workflows().DeleteStep(ctx, target.ID))

	steps, err := store.Workflows().StepsByWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Nil(t, steps[0].TrueBranchStepID)

	require.ErrorIs(t, store.Workflows().DeleteStep(ctx, target.ID), persistence.ErrStepNotFound)
}

func TestWorkflowRepository_DeleteCascades(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := seedActiveWorkflow(ctx, t, store, "Delete Cascade")
	require.NoError(t, store.Workflows().SaveStep(ctx, &models.WorkflowStep{
		WorkflowID: workflow.ID,
		Type:       models.StepTypeTrigger,
	}))

	require.NoError(t, store.Workflows().Delete(ctx, workflow.ID))

	_, err := store.Workflows().GetByID(ctx, workflow.ID)
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	steps, err := store.Workflows().StepsByWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Empty(t, steps)
}
