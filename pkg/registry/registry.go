// Package registry resolves action types to their factories and validates
// step configuration against each factory's JSON schema.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dukex/flowq/pkg/protocol"
)

// ErrActionNotRegistered is returned when no factory exists for an action type.
var ErrActionNotRegistered = errors.New("action type not registered")

// ErrConfigInvalid is returned when step configuration fails schema validation.
var ErrConfigInvalid = errors.New("action configuration invalid")

type Registry struct {
	logger          *slog.Logger
	actionFactories map[string]protocol.ActionFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:          logger,
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	r.actionFactories[factory.ID()] = factory
}

// AvailableActions lists the registered action types.
func (r *Registry) AvailableActions() []string {
	types := make([]string, 0, len(r.actionFactories))
	for actionType := range r.actionFactories {
		types = append(types, actionType)
	}

	return types
}

// CreateAction validates config against the factory schema and builds the action.
func (r *Registry) CreateAction(actionType string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return nil, fmt.Errorf("action type '%s': %w", actionType, ErrActionNotRegistered)
	}

	err := r.validateConfig(factory, config)
	if err != nil {
		return nil, err
	}

	return factory.Create(config)
}

func (r *Registry) validateConfig(factory protocol.ActionFactory, config map[string]any) error {
	schema := factory.Schema()
	if schema == nil {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("failed to validate config for action '%s': %w", factory.ID(), err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		details = append(details, resultErr.String())
	}

	r.logger.Warn("Action configuration failed schema validation",
		"action_type", factory.ID(), "errors", details)

	return fmt.Errorf("action '%s': %s: %w", factory.ID(), strings.Join(details, "; "), ErrConfigInvalid)
}
