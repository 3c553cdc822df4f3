package workflow

import (
	"context"

	"github.com/dukex/flowq/pkg/models"
	"github.com/dukex/flowq/pkg/persistence"
)

// Graph is an in-memory view of a workflow's step graph, indexed for the
// interpreter. The entry point is the workflow's single trigger step.
type Graph struct {
	WorkflowID  string
	EntryStepID string
	stepsByID   map[string]*models.WorkflowStep
}

// BuildGraph indexes steps and locates the entry point. It fails when the
// workflow has no trigger step or more than one; references to steps outside
// the set are only detected when the walk reaches them.
func BuildGraph(workflowID string, steps []*models.WorkflowStep) (*Graph, error) {
	if len(steps) == 0 {
		return nil, ErrWorkflowHasNoSteps
	}

	graph := &Graph{
		WorkflowID: workflowID,
		stepsByID:  make(map[string]*models.WorkflowStep, len(steps)),
	}

	for _, step := range steps {
		graph.stepsByID[step.ID] = step

		if step.Type != models.StepTypeTrigger {
			continue
		}

		if graph.EntryStepID != "" {
			return nil, &GraphError{Kind: MultipleEntryPoints, WorkflowID: workflowID}
		}

		graph.EntryStepID = step.ID
	}

	if graph.EntryStepID == "" {
		return nil, &GraphError{Kind: MissingEntryPoint, WorkflowID: workflowID}
	}

	return graph, nil
}

// LoadGraph fetches a workflow's steps and builds its graph.
func LoadGraph(ctx context.Context, workflows persistence.WorkflowRepository, workflowID string) (*Graph, error) {
	steps, err := workflows.StepsByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return BuildGraph(workflowID, steps)
}

// Step returns the step with the given ID, if it exists in the graph.
func (g *Graph) Step(stepID string) (*models.WorkflowStep, bool) {
	step, ok := g.stepsByID[stepID]

	return step, ok
}

// Len returns the number of steps in the graph.
func (g *Graph) Len() int {
	return len(g.stepsByID)
}
