package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/flowq/pkg/models"
)

// LogRepository is the append-only structured log sink.
type LogRepository struct {
	db *sql.DB
}

// NewLogRepository creates a new log repository.
func NewLogRepository(db *sql.DB) *LogRepository {
	return &LogRepository{db: db}
}

// Append inserts one log entry. Entries are never updated or deleted here;
// retention pruning is external.
func (r *LogRepository) Append(ctx context.Context, entry *models.LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	if entry.Level == "" {
		entry.Level = models.LogLevelInfo
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	data, err := marshalJSON(entry.Data)
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_logs (id, workflow_id, execution_id, level, event, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
	`,
		entry.ID,
		entry.WorkflowID,
		entry.ExecutionID,
		entry.Level,
		entry.Event,
		entry.Message,
		data,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	return nil
}
