// Package protocol defines the capability interfaces step handlers implement.
package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/flowq/pkg/models"
)

// Action is a unit of work executed by an action step. Execute receives the
// execution snapshot (trigger data plus accumulated context) and returns the
// output to merge into the execution context.
type Action interface {
	Execute(ctx context.Context, execution models.Execution, logger *slog.Logger) (map[string]any, error)
}

// ActionFactory builds actions of one type from rendered step configuration.
type ActionFactory interface {
	ID() string
	Create(config map[string]any) (Action, error)
	Schema() map[string]any
}
