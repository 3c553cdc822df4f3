// Package memory provides an in-process persistence implementation. It backs
// unit tests and single-process development; multi-worker deployments use the
// postgresql implementation, whose row locking carries the claim guarantee
// across processes.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/flowq/pkg/models"
	"github.com/dukex/flowq/pkg/persistence"
)

// Persistence is an in-memory implementation of persistence.Persistence.
// All operations are serialized by one mutex, which is what makes Claim
// atomic within the process.
type Persistence struct {
	mu sync.Mutex

	workflows      map[string]*models.Workflow
	steps          map[string]*models.WorkflowStep
	dispatches     map[string]*models.Dispatch
	executions     map[string]*models.Execution
	stepExecutions map[string]*models.StepExecution
	logs           []*models.LogEntry

	seq int64 // insertion counter, tie-breaks timestamp ordering
	ord map[string]int64
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		workflows:      make(map[string]*models.Workflow),
		steps:          make(map[string]*models.WorkflowStep),
		dispatches:     make(map[string]*models.Dispatch),
		executions:     make(map[string]*models.Execution),
		stepExecutions: make(map[string]*models.StepExecution),
		ord:            make(map[string]int64),
	}
}

func (p *Persistence) Workflows() persistence.WorkflowRepository   { return (*workflowRepo)(p) }
func (p *Persistence) Dispatches() persistence.DispatchRepository  { return (*dispatchRepo)(p) }
func (p *Persistence) Executions() persistence.ExecutionRepository { return (*executionRepo)(p) }
func (p *Persistence) Logs() persistence.LogRepository             { return (*logRepo)(p) }

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }
func (p *Persistence) Close(_ context.Context) error       { return nil }

// LogEntries returns a snapshot of the appended log entries, for tests.
func (p *Persistence) LogEntries() []*models.LogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := make([]*models.LogEntry, len(p.logs))
	copy(entries, p.logs)

	return entries
}

// SetAvailableAt rewrites a dispatch's availability, for tests that should not
// wait out real backoff.
func (p *Persistence) SetAvailableAt(dispatchID string, availableAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if dispatch, ok := p.dispatches[dispatchID]; ok {
		dispatch.AvailableAt = availableAt
	}
}

func (p *Persistence) next(id string) {
	p.seq++
	p.ord[id] = p.seq
}

// deepCopy clones arbitrary JSON-shaped data so callers never share map
// internals with the store.
func deepCopy(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}

	var clone map[string]any

	err = json.Unmarshal(raw, &clone)
	if err != nil {
		return nil
	}

	return clone
}

type workflowRepo Persistence

func (r *workflowRepo) Save(_ context.Context, workflow *models.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusDraft
	}

	if err := workflow.Validate(); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	clone := *workflow
	clone.TriggerConfig = deepCopy(workflow.TriggerConfig)
	r.workflows[workflow.ID] = &clone

	return nil
}

func (r *workflowRepo) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	workflow, ok := r.workflows[id]
	if !ok {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	clone := *workflow
	clone.TriggerConfig = deepCopy(workflow.TriggerConfig)

	return &clone, nil
}

func (r *workflowRepo) GetAll(_ context.Context) ([]*models.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	workflows := make([]*models.Workflow, 0, len(r.workflows))
	for _, workflow := range r.workflows {
		clone := *workflow
		clone.TriggerConfig = deepCopy(workflow.TriggerConfig)
		workflows = append(workflows, &clone)
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (r *workflowRepo) GetActiveByTriggerType(_ context.Context, triggerType, locationID string) ([]*models.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matches := make([]*models.Workflow, 0)

	for _, workflow := range r.workflows {
		if workflow.Status != models.WorkflowStatusActive || workflow.TriggerType != triggerType {
			continue
		}

		if locationID != "" && workflow.LocationID != locationID {
			continue
		}

		clone := *workflow
		clone.TriggerConfig = deepCopy(workflow.TriggerConfig)
		matches = append(matches, &clone)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})

	return matches, nil
}

func (r *workflowRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workflows[id]; !ok {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	delete(r.workflows, id)

	for stepID, step := range r.steps {
		if step.WorkflowID == id {
			delete(r.steps, stepID)
		}
	}

	return nil
}

func (r *workflowRepo) SaveStep(_ context.Context, step *models.WorkflowStep) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if step.ID == "" {
		step.ID = uuid.New().String()
	}

	if err := step.Validate(); err != nil {
		return persistence.NewWorkflowError("SaveStep", step.WorkflowID, err)
	}

	now := time.Now().UTC()
	if step.CreatedAt.IsZero() {
		step.CreatedAt = now
	}

	step.UpdatedAt = now

	clone := *step
	clone.Config = deepCopy(step.Config)
	r.steps[step.ID] = &clone

	return nil
}

func (r *workflowRepo) StepsByWorkflow(_ context.Context, workflowID string) ([]*models.WorkflowStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	steps := make([]*models.WorkflowStep, 0)

	for _, step := range r.steps {
		if step.WorkflowID != workflowID {
			continue
		}

		clone := *step
		clone.Config = deepCopy(step.Config)
		steps = append(steps, &clone)
	}

	sort.Slice(steps, func(i, j int) bool {
		if steps[i].Position != steps[j].Position {
			return steps[i].Position < steps[j].Position
		}

		return steps[i].ID < steps[j].ID
	})

	return steps, nil
}

func (r *workflowRepo) DeleteStep(_ context.Context, stepID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.steps[stepID]; !ok {
		return persistence.ErrStepNotFound
	}

	delete(r.steps, stepID)

	// Null out successor references so the remaining graph stays coherent,
	// mirroring the SQL schema's ON DELETE SET NULL.
	for _, step := range r.steps {
		if step.NextStepID != nil && *step.NextStepID == stepID {
			step.NextStepID = nil
		}

		if step.TrueBranchStepID != nil && *step.TrueBranchStepID == stepID {
			step.TrueBranchStepID = nil
		}

		if step.FalseBranchStepID != nil && *step.FalseBranchStepID == stepID {
			step.FalseBranchStepID = nil
		}
	}

	return nil
}
