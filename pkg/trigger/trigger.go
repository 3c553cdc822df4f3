// Package trigger matches incoming trigger events against active workflows and
// enqueues a dispatch per match.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowq/pkg/eventbus"
	"github.com/dukex/flowq/pkg/events"
	"github.com/dukex/flowq/pkg/models"
	"github.com/dukex/flowq/pkg/persistence"
)

// TriggerTypes enumerates the trigger types workflows may subscribe to.
var TriggerTypes = map[string]struct{}{
	"manual":                    {},
	"webhook":                   {},
	"schedule":                  {},
	"contact_created":           {},
	"tag_added":                 {},
	"tag_removed":               {},
	"opportunity_stage_changed": {},
	"form_submitted":            {},
}

// EventTriggerMap translates upstream CRM event names to trigger types.
var EventTriggerMap = map[string]string{
	"ContactCreate":          "contact_created",
	"ContactTagUpdate":       "tag_added",
	"OpportunityStageUpdate": "opportunity_stage_changed",
	"FormSubmission":         "form_submitted",
}

// Service fires triggers: it finds active workflows subscribed to a trigger
// type, filters them by trigger config, and enqueues one dispatch per match.
type Service struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
}

func NewService(store persistence.Persistence, logger *slog.Logger) *Service {
	return &Service{
		persistence: store,
		logger:      logger.With("module", "trigger"),
	}
}

// WithEventBus makes the service publish a DispatchEnqueued event per enqueue.
func (s *Service) WithEventBus(bus eventbus.EventPublisher) *Service {
	s.eventBus = bus

	return s
}

// Fire enqueues dispatches for every active workflow subscribed to
// triggerType whose trigger config matches triggerData. An empty locationID
// matches workflows of any location.
func (s *Service) Fire(
	ctx context.Context,
	triggerType string,
	triggerData map[string]any,
	locationID string,
) ([]*models.Dispatch, error) {
	workflows, err := s.persistence.Workflows().GetActiveByTriggerType(ctx, triggerType, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to find workflows for trigger '%s': %w", triggerType, err)
	}

	dispatches := make([]*models.Dispatch, 0, len(workflows))

	for _, workflow := range workflows {
		if !matchesTriggerConfig(workflow.TriggerConfig, triggerData) {
			continue
		}

		dispatch, err := s.Dispatch(ctx, workflow.ID, triggerType, triggerData)
		if err != nil {
			s.logger.Error("Failed to enqueue dispatch",
				"workflow_id", workflow.ID, "trigger_type", triggerType, "error", err)

			continue
		}

		dispatches = append(dispatches, dispatch)
	}

	return dispatches, nil
}

// Dispatch enqueues a single dispatch for one workflow, bypassing matching.
// Trigger sources that already know the target workflow (e.g. schedules) use
// this directly.
func (s *Service) Dispatch(
	ctx context.Context,
	workflowID string,
	triggerType string,
	triggerData map[string]any,
) (*models.Dispatch, error) {
	dispatch := &models.Dispatch{
		WorkflowID:  workflowID,
		TriggerData: triggerData,
		AvailableAt: time.Now().UTC(),
		MaxAttempts: models.DefaultMaxAttempts,
	}

	err := s.persistence.Dispatches().Enqueue(ctx, dispatch)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Dispatch enqueued",
		"workflow_id", workflowID, "dispatch_id", dispatch.ID, "trigger_type", triggerType)

	s.appendLog(ctx, workflowID, dispatch, triggerType)
	s.publishEnqueued(ctx, workflowID, dispatch, triggerType)

	return dispatch, nil
}

// ProcessEvent translates an upstream CRM event into a trigger and fires it.
// Unknown event types are ignored, not an error.
func (s *Service) ProcessEvent(
	ctx context.Context,
	eventType string,
	payload map[string]any,
	locationID string,
) ([]*models.Dispatch, error) {
	triggerType, ok := EventTriggerMap[eventType]
	if !ok {
		s.logger.Debug("Ignoring unmapped event type", "event_type", eventType)

		return nil, nil
	}

	return s.Fire(ctx, triggerType, payload, locationID)
}

func (s *Service) appendLog(ctx context.Context, workflowID string, dispatch *models.Dispatch, triggerType string) {
	err := s.persistence.Logs().Append(ctx, &models.LogEntry{
		WorkflowID: &workflowID,
		Level:      models.LogLevelInfo,
		Event:      "dispatch.enqueued",
		Message:    "dispatch enqueued by trigger " + triggerType,
		Data:       map[string]any{"dispatch_id": dispatch.ID, "trigger_type": triggerType},
	})
	if err != nil {
		s.logger.Warn("Failed to append workflow log", "workflow_id", workflowID, "error", err)
	}
}

func (s *Service) publishEnqueued(ctx context.Context, workflowID string, dispatch *models.Dispatch, triggerType string) {
	if s.eventBus == nil {
		return
	}

	event := events.DispatchEnqueued{
		BaseEvent:   events.NewBaseEvent(events.DispatchEnqueuedEvent, workflowID),
		DispatchID:  dispatch.ID,
		TriggerType: triggerType,
		TriggerData: dispatch.TriggerData,
	}

	err := s.eventBus.Publish(ctx, string(event.GetType()), event)
	if err != nil {
		s.logger.Warn("Failed to publish enqueue event", "workflow_id", workflowID, "error", err)
	}
}

// matchesTriggerConfig applies the workflow's trigger filters to incoming
// trigger data. An empty config matches everything. Filter values that are
// lists match by membership, everything else by equality.
func matchesTriggerConfig(config, data map[string]any) bool {
	if len(config) == 0 {
		return true
	}

	filters, ok := config["filters"].(map[string]any)
	if !ok || len(filters) == 0 {
		return true
	}

	for key, expected := range filters {
		actual := data[key]

		if options, ok := expected.([]any); ok {
			if !containsValue(options, actual) {
				return false
			}

			continue
		}

		if fmt.Sprintf("%v", actual) != fmt.Sprintf("%v", expected) {
			return false
		}
	}

	return true
}

func containsValue(options []any, actual any) bool {
	for _, option := range options {
		if fmt.Sprintf("%v", option) == fmt.Sprintf("%v", actual) {
			return true
		}
	}

	return false
}
