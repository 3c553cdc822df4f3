package workflow

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/flowq/pkg/models"
	"github.com/dukex/flowq/pkg/persistence"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultBatchSize    = 10
	DefaultLeaseTimeout = 5 * time.Minute
	DefaultConcurrency  = 4
)

// Worker polls the dispatch queue, claims due rows, and runs each through the
// executor with bounded concurrency. Multiple workers may run against the same
// store; the claim operation guarantees each dispatch lands on exactly one.
type Worker struct {
	id          string
	persistence persistence.Persistence
	executor    *Executor
	logger      *slog.Logger

	PollInterval time.Duration
	BatchSize    int
	LeaseTimeout time.Duration
	Concurrency  int
}

func NewWorker(id string, store persistence.Persistence, executor *Executor, logger *slog.Logger) *Worker {
	if id == "" {
		id = "worker-" + uuid.New().String()
	}

	return &Worker{
		id:          id,
		persistence: store,
		executor:    executor,
		logger:      logger.With("module", "worker", "worker_id", id),

		PollInterval: DefaultPollInterval,
		BatchSize:    DefaultBatchSize,
		LeaseTimeout: DefaultLeaseTimeout,
		Concurrency:  DefaultConcurrency,
	}
}

func (w *Worker) ID() string {
	return w.id
}

// Run polls until the context is cancelled. It returns nil on clean shutdown.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker starting",
		"poll_interval", w.PollInterval.String(),
		"batch_size", w.BatchSize,
		"lease_timeout", w.LeaseTimeout.String(),
		"concurrency", w.Concurrency)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		w.requeueLoop(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopping")
			wg.Wait()

			return nil
		default:
		}

		processed, err := w.Poll(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("Poll failed", "error", err)
		}

		if processed == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(w.PollInterval + pollJitter(w.PollInterval)):
			}
		}
	}
}

// Poll claims one batch and processes it to completion. It returns the number
// of dispatches claimed. Exposed so tests and one-shot tooling can drive the
// worker without the loop.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	claimed, err := w.persistence.Dispatches().Claim(ctx, w.id, w.BatchSize)
	if err != nil {
		return 0, err
	}

	if len(claimed) == 0 {
		return 0, nil
	}

	w.logger.Debug("Claimed dispatches", "count", len(claimed))

	semaphore := make(chan struct{}, w.Concurrency)

	var wg sync.WaitGroup

	for _, dispatch := range claimed {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(dispatch *models.Dispatch) {
			defer wg.Done()
			defer func() { <-semaphore }()

			w.process(ctx, dispatch)
		}(dispatch)
	}

	wg.Wait()

	return len(claimed), nil
}

func (w *Worker) process(ctx context.Context, dispatch *models.Dispatch) {
	logger := w.logger.With("dispatch_id", dispatch.ID, "attempt", dispatch.Attempts)

	execution, err := w.executor.Run(ctx, logger, dispatch)
	if err != nil {
		// Executor already settled the dispatch; nothing left but the record.
		logger.Warn("Dispatch processing failed", "error", err)

		return
	}

	logger.Info("Dispatch processed",
		"execution_id", execution.ID, "steps_completed", execution.StepsCompleted)
}

// requeueLoop periodically returns stale claims (crashed workers) to pending.
func (w *Worker) requeueLoop(ctx context.Context) {
	interval := w.LeaseTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requeued, err := w.persistence.Dispatches().RequeueStaleClaims(ctx, w.LeaseTimeout)
			if err != nil {
				w.logger.Error("Failed to requeue stale claims", "error", err)

				continue
			}

			if requeued > 0 {
				w.logger.Warn("Requeued stale claims", "count", requeued)
			}
		}
	}
}

// pollJitter desynchronizes workers that started at the same moment.
func pollJitter(interval time.Duration) time.Duration {
	span := int64(interval / 4)
	if span <= 0 {
		return 0
	}

	return time.Duration(rand.Int63n(span)) //nolint:gosec // not security sensitive
}
