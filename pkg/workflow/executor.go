package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/flowq/pkg/eventbus"
	"github.com/dukex/flowq/pkg/events"
	"github.com/dukex/flowq/pkg/models"
	"github.com/dukex/flowq/pkg/otelhelper"
	"github.com/dukex/flowq/pkg/persistence"
	"github.com/dukex/flowq/pkg/registry"
	"github.com/dukex/flowq/pkg/template"
)

const (
	// DefaultVisitBudget bounds how many steps a single execution may visit.
	// Cyclic graphs terminate as failed once the budget runs out.
	DefaultVisitBudget = 1000

	// DefaultStepTimeout bounds a single step's wall-clock time.
	DefaultStepTimeout = 60 * time.Second
)

// Executor interprets a claimed dispatch: it creates an execution, walks the
// workflow's step graph, persists a step-execution row per visited step, and
// settles the dispatch as succeeded or failed.
// ConditionResolver decides which branch a condition step takes. The default
// is the package Evaluator; alternative resolvers can be injected.
type ConditionResolver interface {
	Evaluate(config map[string]any, execution *models.Execution) (bool, error)
}

type Executor struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	evaluator   ConditionResolver
	eventBus    eventbus.EventPublisher
	tracer      trace.Tracer

	// VisitBudget and StepTimeout default to the package constants.
	VisitBudget int
	StepTimeout time.Duration
}

func NewExecutor(store persistence.Persistence, actionRegistry *registry.Registry) *Executor {
	return &Executor{
		persistence: store,
		registry:    actionRegistry,
		evaluator:   NewEvaluator(),
		tracer:      otel.Tracer("flowq.workflow"),
		VisitBudget: DefaultVisitBudget,
		StepTimeout: DefaultStepTimeout,
	}
}

// WithEventBus makes the executor publish lifecycle events. A nil bus disables publishing.
func (e *Executor) WithEventBus(bus eventbus.EventPublisher) *Executor {
	e.eventBus = bus

	return e
}

// WithConditionResolver replaces the default condition evaluator.
func (e *Executor) WithConditionResolver(resolver ConditionResolver) *Executor {
	e.evaluator = resolver

	return e
}

// Run executes the dispatch and settles it. The returned execution is always
// persisted by the time Run returns (unless creation itself failed). A non-nil
// error means the execution finalized as failed; the dispatch has already been
// failed or retried accordingly.
func (e *Executor) Run(ctx context.Context, logger *slog.Logger, dispatch *models.Dispatch) (*models.Execution, error) {
	logger = logger.With(
		"workflow_id", dispatch.WorkflowID,
		"dispatch_id", dispatch.ID,
	)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "dispatch.execute",
		attribute.String(otelhelper.WorkflowIDKey, dispatch.WorkflowID),
		attribute.String(otelhelper.DispatchIDKey, dispatch.ID),
		attribute.Int(otelhelper.AttemptKey, dispatch.Attempts),
	)
	defer span.End()

	execution := &models.Execution{
		ID:          uuid.New().String(),
		WorkflowID:  dispatch.WorkflowID,
		Status:      models.ExecutionStatusRunning,
		TriggerData: cloneMap(dispatch.TriggerData),
		ContextData: map[string]any{},
		StartedAt:   time.Now().UTC(),
	}

	err := e.persistence.Executions().Create(ctx, execution)
	if err != nil {
		// Nothing durable to audit. Let the dispatch retry.
		failErr := e.persistence.Dispatches().Fail(ctx, dispatch.ID, "", err.Error())
		if failErr != nil {
			logger.Error("Failed to fail dispatch after execution create error", "error", failErr)
		}

		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	logger = logger.With("execution_id", execution.ID)
	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, execution.ID))

	logger.Info("Starting execution")
	e.appendLog(ctx, logger, execution, models.LogLevelInfo, "execution.started",
		"execution started", map[string]any{"dispatch_id": dispatch.ID, "attempt": dispatch.Attempts})
	e.publish(ctx, logger, events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, dispatch.WorkflowID),
		DispatchID:  dispatch.ID,
		ExecutionID: execution.ID,
	})

	runErr := e.walk(ctx, logger, execution)

	return execution, e.finalize(ctx, logger, span, dispatch, execution, runErr)
}

// walk interprets the graph, mutating execution in place. It returns the error
// that should finalize the execution, or nil for success.
func (e *Executor) walk(ctx context.Context, logger *slog.Logger, execution *models.Execution) error {
	graph, err := LoadGraph(ctx, e.persistence.Workflows(), execution.WorkflowID)
	if err != nil {
		return err
	}

	currentStepID := graph.EntryStepID
	visited := 0

	for currentStepID != "" {
		if err := ctx.Err(); err != nil {
			return err
		}

		if visited >= e.VisitBudget {
			return fmt.Errorf("visited %d steps: %w", visited, ErrVisitBudgetExceeded)
		}

		step, found := graph.Step(currentStepID)
		if !found {
			graphErr := &GraphError{
				Kind:       DanglingStepReference,
				WorkflowID: execution.WorkflowID,
				StepID:     currentStepID,
			}
			// The referenced step does not exist, so the trace row carries a
			// null step id and the error names the missing reference.
			e.recordFailedVisit(ctx, logger, execution, graphErr)

			return graphErr
		}

		nextStepID, err := e.executeStep(ctx, logger, execution, step)

		visited++
		execution.StepsCompleted = visited

		if err != nil {
			return err
		}

		updateErr := e.persistence.Executions().Update(ctx, execution)
		if updateErr != nil {
			return fmt.Errorf("failed to persist execution progress: %w", updateErr)
		}

		currentStepID = nextStepID
	}

	return nil
}

// recordFailedVisit writes a failed step-execution row for a visit that could
// not resolve to a real step.
func (e *Executor) recordFailedVisit(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.Execution,
	visitErr error,
) {
	err := e.persistence.Executions().CreateStepExecution(ctx, &models.StepExecution{
		ID:           uuid.New().String(),
		ExecutionID:  execution.ID,
		Status:       models.StepExecutionStatusFailed,
		InputData:    cloneMap(execution.ContextData),
		ErrorMessage: visitErr.Error(),
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		logger.Warn("Failed to record failed step visit", "error", err)
	}
}

// executeStep runs one step, records its step-execution row, and returns the
// successor step ID ("" ends the walk).
func (e *Executor) executeStep(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.Execution,
	step *models.WorkflowStep,
) (string, error) {
	logger = logger.With("step_id", step.ID, "step_type", string(step.Type))

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "step.execute",
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
	)
	defer span.End()

	stepID := step.ID
	stepExecution := &models.StepExecution{
		ID:          uuid.New().String(),
		ExecutionID: execution.ID,
		StepID:      &stepID,
		Status:      models.StepExecutionStatusRunning,
		InputData:   cloneMap(execution.ContextData),
		CreatedAt:   time.Now().UTC(),
	}

	err := e.persistence.Executions().CreateStepExecution(ctx, stepExecution)
	if err != nil {
		return "", fmt.Errorf("failed to record step execution: %w", err)
	}

	started := time.Now()
	nextStepID, output, stepErr := e.runStep(ctx, logger, execution, step)
	stepExecution.DurationMS = time.Since(started).Milliseconds()

	if stepErr != nil {
		stepExecution.Status = models.StepExecutionStatusFailed
		stepExecution.ErrorMessage = stepErr.Error()

		otelhelper.SetError(span, stepErr)
		logger.Warn("Step failed", "error", stepErr)
		e.appendLog(ctx, logger, execution, models.LogLevelWarn, "step.failed",
			stepErr.Error(), map[string]any{"step_id": step.ID, "step_type": string(step.Type)})
	} else {
		stepExecution.Status = models.StepExecutionStatusSucceeded
		stepExecution.OutputData = output
	}

	updateErr := e.persistence.Executions().UpdateStepExecution(ctx, stepExecution)
	if updateErr != nil {
		return "", fmt.Errorf("failed to update step execution: %w", updateErr)
	}

	if stepErr != nil {
		return "", fmt.Errorf("step %s failed: %w", step.ID, stepErr)
	}

	return nextStepID, nil
}

// runStep performs the type-specific work and returns (next step, output, error).
func (e *Executor) runStep(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.Execution,
	step *models.WorkflowStep,
) (string, map[string]any, error) {
	stepCtx, cancel := context.WithTimeout(ctx, e.StepTimeout)
	defer cancel()

	switch step.Type {
	case models.StepTypeTrigger:
		// Entry marker only. Trigger data is already snapshotted on the execution.
		return derefStepID(step.NextStepID), nil, nil

	case models.StepTypeAction:
		output, err := e.runAction(stepCtx, logger, execution, step)
		if err != nil {
			return "", nil, err
		}

		for key, value := range output {
			execution.ContextData[key] = value
		}

		return derefStepID(step.NextStepID), output, nil

	case models.StepTypeCondition:
		result, err := e.evaluator.Evaluate(step.Config, execution)
		if err != nil {
			return "", nil, fmt.Errorf("condition evaluation failed: %w", err)
		}

		output := map[string]any{"condition_result": result}

		if result {
			return derefStepID(step.TrueBranchStepID), output, nil
		}

		return derefStepID(step.FalseBranchStepID), output, nil

	default:
		return "", nil, fmt.Errorf("unknown step type '%s'", step.Type)
	}
}

func (e *Executor) runAction(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.Execution,
	step *models.WorkflowStep,
) (map[string]any, error) {
	if step.ActionType == "" {
		return nil, errors.New("action step has no action_type")
	}

	config, err := template.RenderConfig(step.Config, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to render step config: %w", err)
	}

	action, err := e.registry.CreateAction(step.ActionType, config)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve action '%s': %w", step.ActionType, err)
	}

	logger = logger.With("action_type", step.ActionType)

	output, err := action.Execute(ctx, *execution, logger)
	if err != nil {
		return nil, fmt.Errorf("action '%s' failed: %w", step.ActionType, err)
	}

	return output, nil
}

// finalize persists the terminal execution state and settles the dispatch.
func (e *Executor) finalize(
	ctx context.Context,
	logger *slog.Logger,
	span trace.Span,
	dispatch *models.Dispatch,
	execution *models.Execution,
	runErr error,
) error {
	now := time.Now().UTC()
	execution.CompletedAt = &now

	if runErr == nil {
		execution.Status = models.ExecutionStatusSucceeded
	} else {
		execution.Status = models.ExecutionStatusFailed
		execution.ErrorMessage = runErr.Error()
		otelhelper.SetError(span, runErr)
	}

	err := e.persistence.Executions().Update(ctx, execution)
	if err != nil {
		logger.Error("Failed to persist final execution state", "error", err)

		if runErr == nil {
			runErr = fmt.Errorf("failed to persist final execution state: %w", err)
		}
	}

	if runErr == nil {
		logger.Info("Execution succeeded", "steps_completed", execution.StepsCompleted)
		e.appendLog(ctx, logger, execution, models.LogLevelInfo, "execution.succeeded",
			"execution succeeded", map[string]any{"steps_completed": execution.StepsCompleted})
		e.publish(ctx, logger, events.ExecutionSucceeded{
			BaseEvent:      events.NewBaseEvent(events.ExecutionSucceededEvent, execution.WorkflowID),
			DispatchID:     dispatch.ID,
			ExecutionID:    execution.ID,
			StepsCompleted: execution.StepsCompleted,
		})

		err = e.persistence.Dispatches().Complete(ctx, dispatch.ID, execution.ID)
		if err != nil {
			logger.Error("Failed to complete dispatch", "error", err)

			return fmt.Errorf("failed to complete dispatch: %w", err)
		}

		return nil
	}

	logger.Warn("Execution failed", "error", runErr)
	e.appendLog(ctx, logger, execution, models.LogLevelError, "execution.failed",
		runErr.Error(), map[string]any{"steps_completed": execution.StepsCompleted})
	e.publish(ctx, logger, events.ExecutionFailed{
		BaseEvent:    events.NewBaseEvent(events.ExecutionFailedEvent, execution.WorkflowID),
		DispatchID:   dispatch.ID,
		ExecutionID:  execution.ID,
		ErrorMessage: runErr.Error(),
	})

	err = e.persistence.Dispatches().Fail(ctx, dispatch.ID, execution.ID, runErr.Error())
	if err != nil {
		logger.Error("Failed to fail dispatch", "error", err)
	} else {
		e.publishIfExhausted(ctx, logger, dispatch)
	}

	return runErr
}

// publishIfExhausted emits a terminal-failure event when the dispatch has no
// attempts left.
func (e *Executor) publishIfExhausted(ctx context.Context, logger *slog.Logger, dispatch *models.Dispatch) {
	if e.eventBus == nil {
		return
	}

	settled, err := e.persistence.Dispatches().GetByID(ctx, dispatch.ID)
	if err != nil || settled.Status != models.DispatchStatusFailed {
		return
	}

	e.publish(ctx, logger, events.DispatchExhausted{
		BaseEvent:    events.NewBaseEvent(events.DispatchExhaustedEvent, dispatch.WorkflowID),
		DispatchID:   dispatch.ID,
		Attempts:     settled.Attempts,
		ErrorMessage: settled.ErrorMessage,
	})
}

// appendLog writes to the workflow log sink. Sink failures are logged, never fatal.
func (e *Executor) appendLog(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.Execution,
	level models.LogLevel,
	event, message string,
	data map[string]any,
) {
	workflowID := execution.WorkflowID
	executionID := execution.ID

	err := e.persistence.Logs().Append(ctx, &models.LogEntry{
		WorkflowID:  &workflowID,
		ExecutionID: &executionID,
		Level:       level,
		Event:       event,
		Message:     message,
		Data:        data,
	})
	if err != nil {
		logger.Warn("Failed to append workflow log", "event", event, "error", err)
	}
}

func (e *Executor) publish(ctx context.Context, logger *slog.Logger, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	err := e.eventBus.Publish(ctx, string(event.GetType()), event)
	if err != nil {
		logger.Warn("Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func derefStepID(stepID *string) string {
	if stepID == nil {
		return ""
	}

	return *stepID
}

// cloneMap deep-copies JSON-shaped data so later mutation cannot leak into
// persisted snapshots.
func cloneMap(source map[string]any) map[string]any {
	if source == nil {
		return map[string]any{}
	}

	raw, err := json.Marshal(source)
	if err != nil {
		return map[string]any{}
	}

	var clone map[string]any

	err = json.Unmarshal(raw, &clone)
	if err != nil {
		return map[string]any{}
	}

	return clone
}
