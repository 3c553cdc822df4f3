package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/flowq/pkg/models"
)

func ptr(s string) *string {
	return &s
}

func TestBuildGraph(t *testing.T) {
	steps := []*models.WorkflowStep{
		{ID: "t", WorkflowID: "wf-1", Type: models.StepTypeTrigger, NextStepID: ptr("a")},
		{ID: "a", WorkflowID: "wf-1", Type: models.StepTypeAction, ActionType: "log"},
	}

	graph, err := BuildGraph("wf-1", steps)
	require.NoError(t, err)
	assert.Equal(t, "t", graph.EntryStepID)
	assert.Equal(t, 2, graph.Len())

	step, ok := graph.Step("a")
	require.True(t, ok)
	assert.Equal(t, models.StepTypeAction, step.Type)

	_, ok = graph.Step("missing")
	assert.False(t, ok)
}

func TestBuildGraphNoSteps(t *testing.T) {
	_, err := BuildGraph("wf-1", nil)
	require.ErrorIs(t, err, ErrWorkflowHasNoSteps)
}

func TestBuildGraphMissingEntryPoint(t *testing.T) {
	steps := []*models.WorkflowStep{
		{ID: "a", WorkflowID: "wf-1", Type: models.StepTypeAction, ActionType: "log"},
	}

	_, err := BuildGraph("wf-1", steps)
	require.ErrorIs(t, err, &GraphError{Kind: MissingEntryPoint})
}

func TestBuildGraphMultipleEntryPoints(t *testing.T) {
	steps := []*models.WorkflowStep{
		{ID: "t1", WorkflowID: "wf-1", Type: models.StepTypeTrigger},
		{ID: "t2", WorkflowID: "wf-1", Type: models.StepTypeTrigger},
	}

	_, err := BuildGraph("wf-1", steps)
	require.ErrorIs(t, err, &GraphError{Kind: MultipleEntryPoints})
}
