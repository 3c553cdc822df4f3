package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/flowq/pkg/models"
	"github.com/dukex/flowq/pkg/persistence"
)

type dispatchRepo Persistence

func (r *dispatchRepo) Enqueue(_ context.Context, dispatch *models.Dispatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	workflow, ok := r.workflows[dispatch.WorkflowID]
	if !ok {
		return persistence.NewWorkflowError("Enqueue", dispatch.WorkflowID, persistence.ErrWorkflowNotFound)
	}

	if !workflow.IsActive() {
		return persistence.NewWorkflowError("Enqueue", dispatch.WorkflowID, persistence.ErrWorkflowNotActive)
	}

	if dispatch.ID == "" {
		dispatch.ID = uuid.New().String()
	}

	if dispatch.MaxAttempts <= 0 {
		dispatch.MaxAttempts = models.DefaultMaxAttempts
	}

	now := time.Now().UTC()

	if dispatch.AvailableAt.IsZero() {
		dispatch.AvailableAt = now
	}

	dispatch.Status = models.DispatchStatusPending
	dispatch.CreatedAt = now

	if err := dispatch.Validate(); err != nil {
		return persistence.NewDispatchError("Enqueue", dispatch.ID, err)
	}

	clone := *dispatch
	clone.TriggerData = deepCopy(dispatch.TriggerData)
	r.dispatches[dispatch.ID] = &clone
	(*Persistence)(r).next(dispatch.ID)

	return nil
}

func (r *dispatchRepo) GetByID(_ context.Context, id string) (*models.Dispatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dispatch, ok := r.dispatches[id]
	if !ok {
		return nil, persistence.NewDispatchError("GetByID", id, persistence.ErrDispatchNotFound)
	}

	clone := *dispatch
	clone.TriggerData = deepCopy(dispatch.TriggerData)

	return &clone, nil
}

func (r *dispatchRepo) Claim(_ context.Context, workerID string, batchSize int) ([]*models.Dispatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	eligible := make([]*models.Dispatch, 0)

	for _, dispatch := range r.dispatches {
		if dispatch.Status == models.DispatchStatusPending && !dispatch.AvailableAt.After(now) {
			eligible = append(eligible, dispatch)
		}
	}

	// Oldest-due first, id tie-break, matching the SQL claim ordering.
	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].AvailableAt.Equal(eligible[j].AvailableAt) {
			return eligible[i].AvailableAt.Before(eligible[j].AvailableAt)
		}

		return eligible[i].ID < eligible[j].ID
	})

	if len(eligible) > batchSize {
		eligible = eligible[:batchSize]
	}

	claimed := make([]*models.Dispatch, 0, len(eligible))

	for _, dispatch := range eligible {
		started := now
		dispatch.Status = models.DispatchStatusClaimed
		dispatch.Attempts++
		dispatch.StartedAt = &started
		dispatch.WorkerID = workerID

		clone := *dispatch
		clone.TriggerData = deepCopy(dispatch.TriggerData)
		claimed = append(claimed, &clone)
	}

	return claimed, nil
}

func (r *dispatchRepo) Complete(_ context.Context, dispatchID, executionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dispatch, ok := r.dispatches[dispatchID]
	if !ok {
		return persistence.NewDispatchError("Complete", dispatchID, persistence.ErrDispatchNotFound)
	}

	if dispatch.Status == models.DispatchStatusSucceeded {
		return nil
	}

	if dispatch.Status != models.DispatchStatusClaimed {
		return persistence.NewDispatchError("Complete", dispatchID, persistence.ErrDispatchNotClaimed)
	}

	now := time.Now().UTC()
	dispatch.Status = models.DispatchStatusSucceeded
	dispatch.FinishedAt = &now
	dispatch.ExecutionID = &executionID

	return nil
}

func (r *dispatchRepo) Fail(_ context.Context, dispatchID, executionID, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dispatch, ok := r.dispatches[dispatchID]
	if !ok {
		return persistence.NewDispatchError("Fail", dispatchID, persistence.ErrDispatchNotFound)
	}

	if dispatch.Status != models.DispatchStatusClaimed {
		return persistence.NewDispatchError("Fail", dispatchID, persistence.ErrDispatchNotClaimed)
	}

	now := time.Now().UTC()
	dispatch.ErrorMessage = errorMessage

	if executionID != "" {
		dispatch.ExecutionID = &executionID
	}

	if dispatch.Attempts < dispatch.MaxAttempts {
		dispatch.Status = models.DispatchStatusPending
		dispatch.AvailableAt = now.Add(models.RetryDelay(dispatch.Attempts))
		dispatch.WorkerID = ""
		dispatch.StartedAt = nil
	} else {
		dispatch.Status = models.DispatchStatusFailed
		dispatch.FinishedAt = &now
	}

	return nil
}

func (r *dispatchRepo) Cancel(_ context.Context, dispatchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dispatch, ok := r.dispatches[dispatchID]
	if !ok {
		return persistence.NewDispatchError("Cancel", dispatchID, persistence.ErrDispatchNotFound)
	}

	if dispatch.Status != models.DispatchStatusPending {
		return persistence.NewDispatchError("Cancel", dispatchID, persistence.ErrDispatchNotPending)
	}

	now := time.Now().UTC()
	dispatch.Status = models.DispatchStatusCancelled
	dispatch.FinishedAt = &now

	return nil
}

func (r *dispatchRepo) RequeueStaleClaims(_ context.Context, leaseTimeout time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().UTC().Add(-leaseTimeout)
	requeued := 0

	for _, dispatch := range r.dispatches {
		if dispatch.Status != models.DispatchStatusClaimed {
			continue
		}

		if dispatch.StartedAt == nil || dispatch.StartedAt.Before(cutoff) {
			dispatch.Status = models.DispatchStatusPending
			dispatch.WorkerID = ""
			dispatch.StartedAt = nil
			requeued++
		}
	}

	return requeued, nil
}
