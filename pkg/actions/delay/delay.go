// Package delay provides the delay action, which pauses an execution in-process
// for a bounded duration.
package delay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowq/pkg/models"
	"github.com/dukex/flowq/pkg/protocol"
)

// MaxDelay bounds a single delay step. Longer waits belong in the dispatch
// queue's available_at, not in a held worker slot.
const MaxDelay = 300 * time.Second

var (
	// ErrDurationRequired is returned when the duration config key is missing.
	ErrDurationRequired = errors.New("missing or invalid 'duration' in configuration")
	// ErrDelayTooLong is returned when the requested delay exceeds MaxDelay.
	ErrDelayTooLong = errors.New("delay exceeds maximum allowed duration")
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "delay"
}

func (f *Factory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{
				"type":        "number",
				"description": "How long to pause, in the configured unit.",
				"minimum":     0,
			},
			"unit": map[string]any{
				"type":    "string",
				"default": "seconds",
				"enum":    []string{"seconds", "minutes"},
			},
		},
		"required": []string{"duration"},
	}
}

// Action pauses the execution for Duration. The wait is context-cancellable.
type Action struct {
	Duration time.Duration
}

func NewAction(config map[string]any) (*Action, error) {
	duration, ok := config["duration"].(float64)
	if !ok || duration < 0 {
		return nil, ErrDurationRequired
	}

	unit, _ := config["unit"].(string)

	var wait time.Duration

	switch unit {
	case "minutes":
		wait = time.Duration(duration * float64(time.Minute))
	case "seconds", "":
		wait = time.Duration(duration * float64(time.Second))
	default:
		return nil, fmt.Errorf("unsupported delay unit '%s': %w", unit, ErrDurationRequired)
	}

	if wait > MaxDelay {
		return nil, fmt.Errorf("%s exceeds %s: %w", wait, MaxDelay, ErrDelayTooLong)
	}

	return &Action{Duration: wait}, nil
}

func (a *Action) Execute(ctx context.Context, execution models.Execution, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "delay", "execution_id", execution.ID)
	logger.InfoContext(ctx, "Delaying execution", "duration", a.Duration.String())

	timer := time.NewTimer(a.Duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	return map[string]any{"delayed_ms": a.Duration.Milliseconds()}, nil
}
