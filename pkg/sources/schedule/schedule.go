// Package schedule runs cron-based trigger evaluation: each active workflow
// with a schedule trigger gets a cron entry that enqueues a dispatch on fire.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukex/flowq/pkg/persistence"
	"github.com/dukex/flowq/pkg/trigger"
)

const TriggerType = "schedule"

// DefaultRefreshInterval is how often the source re-reads workflows to pick
// up schedule changes.
const DefaultRefreshInterval = time.Minute

// Source keeps cron entries in sync with the active schedule-triggered
// workflows and enqueues a dispatch each time an entry fires.
type Source struct {
	persistence persistence.Persistence
	service     *trigger.Service
	logger      *slog.Logger
	cron        *cron.Cron

	RefreshInterval time.Duration

	mu      sync.Mutex
	entries map[string]cron.EntryID // workflow id -> cron entry
	exprs   map[string]string       // workflow id -> registered expression
	started bool
	done    chan struct{}
}

func NewSource(store persistence.Persistence, service *trigger.Service, logger *slog.Logger) *Source {
	return &Source{
		persistence:     store,
		service:         service,
		logger:          logger.With("module", "schedule_source"),
		cron:            cron.New(),
		RefreshInterval: DefaultRefreshInterval,
		entries:         make(map[string]cron.EntryID),
		exprs:           make(map[string]string),
	}
}

// Start syncs the cron table and begins firing. It returns after startup;
// entries fire on the cron's own goroutine until Stop.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	err := s.sync(ctx)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.done = make(chan struct{})
	s.started = true

	go s.refreshLoop(ctx)

	s.logger.Info("Schedule source started", "entries", len(s.entries))

	return nil
}

// Stop halts firing and waits for in-flight entries to finish.
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	close(s.done)

	stopCtx := s.cron.Stop()

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.started = false
	s.logger.Info("Schedule source stopped")

	return nil
}

func (s *Source) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()

			err := s.sync(ctx)
			if err != nil {
				s.logger.Error("Failed to refresh schedules", "error", err)
			}

			s.mu.Unlock()
		}
	}
}

// sync reconciles cron entries with the current workflow set. Caller holds the lock.
func (s *Source) sync(ctx context.Context) error {
	workflows, err := s.persistence.Workflows().GetActiveByTriggerType(ctx, TriggerType, "")
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(workflows))

	for _, workflow := range workflows {
		expr, _ := workflow.TriggerConfig["cron"].(string)
		if expr == "" {
			s.logger.Warn("Schedule workflow has no cron expression", "workflow_id", workflow.ID)

			continue
		}

		seen[workflow.ID] = struct{}{}

		if s.exprs[workflow.ID] == expr {
			continue
		}

		// Expression changed: drop the old entry before adding the new one.
		if entryID, ok := s.entries[workflow.ID]; ok {
			s.cron.Remove(entryID)
		}

		workflowID := workflow.ID

		entryID, err := s.cron.AddFunc(expr, func() {
			s.fire(ctx, workflowID)
		})
		if err != nil {
			s.logger.Error("Invalid cron expression",
				"workflow_id", workflow.ID, "cron", expr, "error", err)

			delete(s.entries, workflow.ID)
			delete(s.exprs, workflow.ID)

			continue
		}

		s.entries[workflow.ID] = entryID
		s.exprs[workflow.ID] = expr
	}

	// Remove entries for workflows that are gone, paused, or archived.
	for workflowID, entryID := range s.entries {
		if _, ok := seen[workflowID]; ok {
			continue
		}

		s.cron.Remove(entryID)
		delete(s.entries, workflowID)
		delete(s.exprs, workflowID)
	}

	return nil
}

func (s *Source) fire(ctx context.Context, workflowID string) {
	triggerData := map[string]any{
		"scheduled_at": time.Now().UTC().Format(time.RFC3339),
	}

	_, err := s.service.Dispatch(ctx, workflowID, TriggerType, triggerData)
	if err != nil {
		s.logger.Error("Failed to enqueue scheduled dispatch",
			"workflow_id", workflowID, "error", err)
	}
}
