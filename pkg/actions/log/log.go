// Package log provides the log action, which writes a message into the
// worker's structured log and the workflow log stream.
package log

import (
	"context"
	"log/slog"

	"github.com/dukex/flowq/pkg/models"
	"github.com/dukex/flowq/pkg/protocol"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (*Factory) ID() string {
	return "log"
}

func (f *Factory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config), nil
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to log. Supports templating against trigger data and context.",
			},
			"level": map[string]any{
				"type":    "string",
				"default": "info",
				"enum":    []string{"debug", "info", "warn", "error"},
			},
		},
		"additionalProperties": true,
	}
}

type Action struct {
	Message string
	Level   string
}

func NewAction(config map[string]any) *Action {
	message, _ := config["message"].(string)

	level, _ := config["level"].(string)
	if level == "" {
		level = "info"
	}

	return &Action{Message: message, Level: level}
}

func (a *Action) Execute(ctx context.Context, execution models.Execution, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "log", "execution_id", execution.ID)

	switch a.Level {
	case "debug":
		logger.DebugContext(ctx, a.Message)
	case "warn":
		logger.WarnContext(ctx, a.Message)
	case "error":
		logger.ErrorContext(ctx, a.Message)
	default:
		logger.InfoContext(ctx, a.Message)
	}

	return map[string]any{"message": a.Message, "level": a.Level}, nil
}
