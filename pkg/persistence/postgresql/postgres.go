// Package postgresql provides the PostgreSQL persistence implementation for
// workflows, the dispatch queue, and execution traces.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/dukex/flowq/pkg/persistence"
	"github.com/dukex/flowq/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db            *sql.DB
	logger        *slog.Logger
	workflowRepo  *WorkflowRepository
	dispatchRepo  *DispatchRepository
	executionRepo *ExecutionRepository
	logRepo       *LogRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs
// migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:            database,
		logger:        logger,
		workflowRepo:  NewWorkflowRepository(database, logger),
		dispatchRepo:  NewDispatchRepository(database, logger),
		executionRepo: NewExecutionRepository(database, logger),
		logRepo:       NewLogRepository(database),
	}, nil
}

// Workflows returns the workflow graph store.
func (p *Persistence) Workflows() persistence.WorkflowRepository {
	return p.workflowRepo
}

// Dispatches returns the dispatch queue.
func (p *Persistence) Dispatches() persistence.DispatchRepository {
	return p.dispatchRepo
}

// Executions returns the execution trace store.
func (p *Persistence) Executions() persistence.ExecutionRepository {
	return p.executionRepo
}

// Logs returns the append-only log sink.
func (p *Persistence) Logs() persistence.LogRepository {
	return p.logRepo
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// marshalJSON serializes a map column, mapping nil to SQL NULL.
func marshalJSON(data map[string]any) (any, error) {
	if data == nil {
		return nil, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON column: %w", err)
	}

	return raw, nil
}

// unmarshalJSON deserializes a nullable JSONB column.
func unmarshalJSON(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var data map[string]any

	err := json.Unmarshal(raw, &data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON column: %w", err)
	}

	return data, nil
}
