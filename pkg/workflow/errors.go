package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrVisitBudgetExceeded is returned when an execution walks more steps
	// than the configured budget allows. Cycles in the step graph end here.
	ErrVisitBudgetExceeded = errors.New("step visit budget exceeded")

	// ErrWorkflowHasNoSteps is returned when a workflow has no steps to run.
	ErrWorkflowHasNoSteps = errors.New("workflow has no steps")
)

// GraphErrorKind classifies structural problems in a workflow's step graph.
type GraphErrorKind string

const (
	MissingEntryPoint     GraphErrorKind = "missing_entry_point"
	MultipleEntryPoints   GraphErrorKind = "multiple_entry_points"
	DanglingStepReference GraphErrorKind = "dangling_step_reference"
)

// GraphError reports a structural defect found while building or walking a
// workflow's step graph.
type GraphError struct {
	Kind       GraphErrorKind
	WorkflowID string
	StepID     string
}

func (e *GraphError) Error() string {
	switch e.Kind {
	case MissingEntryPoint:
		return fmt.Sprintf("workflow %s has no trigger step", e.WorkflowID)
	case MultipleEntryPoints:
		return fmt.Sprintf("workflow %s has more than one trigger step", e.WorkflowID)
	case DanglingStepReference:
		return fmt.Sprintf("workflow %s references missing step %s", e.WorkflowID, e.StepID)
	default:
		return fmt.Sprintf("workflow %s has an invalid step graph", e.WorkflowID)
	}
}

// Is matches GraphErrors by kind, so errors.Is works against a prototype.
func (e *GraphError) Is(target error) bool {
	var graphErr *GraphError
	if !errors.As(target, &graphErr) {
		return false
	}

	return graphErr.Kind == e.Kind
}
