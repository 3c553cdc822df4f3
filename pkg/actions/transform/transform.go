// Package transform provides the transform action, which maps execution state
// into new context values through a template expression.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowq/pkg/models"
	"github.com/dukex/flowq/pkg/protocol"
	"github.com/dukex/flowq/pkg/template"
)

// ErrExpressionRequired is returned when the expression config key is missing.
var ErrExpressionRequired = errors.New("missing 'expression' in configuration")

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "transform"
}

func (f *Factory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Template expression evaluated against trigger data and context.",
				"examples": []string{
					"{{.trigger_data.order_id}}",
					`{"total": {{.context.pricing.total}}, "currency": "USD"}`,
				},
			},
			"output_key": map[string]any{
				"type":        "string",
				"description": "Context key for scalar results. Defaults to 'result'.",
				"default":     "result",
			},
		},
		"required": []string{"expression"},
	}
}

// Action evaluates a template expression and publishes the result into the
// execution context. Object results merge as-is; scalars land under OutputKey.
type Action struct {
	Expression string
	OutputKey  string
}

func NewAction(config map[string]any) (*Action, error) {
	expression, _ := config["expression"].(string)
	if expression == "" {
		return nil, ErrExpressionRequired
	}

	outputKey, _ := config["output_key"].(string)
	if outputKey == "" {
		outputKey = "result"
	}

	return &Action{Expression: expression, OutputKey: outputKey}, nil
}

func (a *Action) Execute(ctx context.Context, execution models.Execution, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "transform", "execution_id", execution.ID)

	result, err := template.RenderWithExecution(a.Expression, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate transform expression: %w", err)
	}

	logger.DebugContext(ctx, "Transform expression evaluated")

	if obj, ok := result.(map[string]any); ok {
		return obj, nil
	}

	return map[string]any{a.OutputKey: result}, nil
}
