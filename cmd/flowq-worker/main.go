package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/dukex/flowq/pkg/cmd"
	"github.com/dukex/flowq/pkg/log"
	"github.com/dukex/flowq/pkg/otelhelper"
	"github.com/dukex/flowq/pkg/workflow"
)

func main() {
	command := &cli.Command{
		Name:                  "flowq-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker that claims and executes workflow dispatches",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel, none)",
				Value:   "none",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Delay between polls when the queue is empty",
				Value:   workflow.DefaultPollInterval,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum dispatches claimed per poll",
				Value:   workflow.DefaultBatchSize,
				Sources: cli.EnvVars("BATCH_SIZE"),
			},
			&cli.DurationFlag{
				Name:    "lease-timeout",
				Usage:   "Claims older than this are considered stale and requeued",
				Value:   workflow.DefaultLeaseTimeout,
				Sources: cli.EnvVars("LEASE_TIMEOUT"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Dispatches executed in parallel per batch",
				Value:   workflow.DefaultConcurrency,
				Sources: cli.EnvVars("CONCURRENCY"),
			},
			&cli.DurationFlag{
				Name:    "step-timeout",
				Usage:   "Wall-clock limit for a single step",
				Value:   workflow.DefaultStepTimeout,
				Sources: cli.EnvVars("STEP_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("flowq-worker").With("worker_id", workerID)
	logger.InfoContext(ctx, "Initializing worker")

	tracerProvider, err := otelhelper.InitTracer(ctx, "flowq-worker")
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown tracer provider", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	defer func() {
		err := store.Close(context.Background())
		if err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus(command.String("event-bus"), "flowq-worker", logger)
	if eventBus != nil {
		defer func() {
			err := eventBus.Close()
			if err != nil {
				logger.Error("Failed to close event bus", "error", err)
			}
		}()
	}

	executor := workflow.NewExecutor(store, cmd.NewRegistry(logger))
	executor.StepTimeout = command.Duration("step-timeout")

	if eventBus != nil {
		executor.WithEventBus(eventBus)
	}

	worker := workflow.NewWorker(workerID, store, executor, logger)
	worker.PollInterval = command.Duration("poll-interval")
	worker.BatchSize = int(command.Int("batch-size"))
	worker.LeaseTimeout = command.Duration("lease-timeout")
	worker.Concurrency = int(command.Int("concurrency"))

	err = worker.Run(ctx)
	if err != nil {
		logger.Error("Worker stopped with error", "error", err)

		return err
	}

	// Give in-flight log/event writes a moment before teardown.
	time.Sleep(100 * time.Millisecond)

	return nil
}
