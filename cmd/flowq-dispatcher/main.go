package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"

	"github.com/dukex/flowq/pkg/cmd"
	"github.com/dukex/flowq/pkg/log"
	"github.com/dukex/flowq/pkg/otelhelper"
	"github.com/dukex/flowq/pkg/sources/redisqueue"
	"github.com/dukex/flowq/pkg/sources/schedule"
	"github.com/dukex/flowq/pkg/trigger"
)

func main() {
	command := &cli.Command{
		Name:                  "flowq-dispatcher",
		EnableShellCompletion: true,
		Usage:                 "Evaluate trigger sources and enqueue workflow dispatches",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dispatcher-id",
				Aliases: []string{"id"},
				Usage:   "Custom dispatcher ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("DISPATCHER_ID"),
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
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the trigger event stream (empty disables the source)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "stream",
				Usage:   "Redis stream to consume trigger events from",
				Value:   redisqueue.DefaultStream,
				Sources: cli.EnvVars("TRIGGER_STREAM"),
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

	dispatcherID := command.String("dispatcher-id")
	if dispatcherID == "" {
		dispatcherID = "dispatcher-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("flowq-dispatcher").With("dispatcher_id", dispatcherID)
	logger.InfoContext(ctx, "Initializing dispatcher")

	tracerProvider, err := otelhelper.InitTracer(ctx, "flowq-dispatcher")
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

	eventBus := cmd.NewEventBus(command.String("event-bus"), "flowq-dispatcher", logger)
	if eventBus != nil {
		defer func() {
			err := eventBus.Close()
			if err != nil {
				logger.Error("Failed to close event bus", "error", err)
			}
		}()
	}

	service := trigger.NewService(store, logger)
	if eventBus != nil {
		service.WithEventBus(eventBus)
	}

	scheduleSource := schedule.NewSource(store, service, logger)

	err = scheduleSource.Start(ctx)
	if err != nil {
		logger.Error("Failed to start schedule source", "error", err)

		return err
	}

	defer func() {
		err := scheduleSource.Stop(context.Background())
		if err != nil {
			logger.Error("Failed to stop schedule source", "error", err)
		}
	}()

	redisURL := command.String("redis-url")
	if redisURL == "" {
		logger.Info("Redis trigger source disabled")
		<-ctx.Done()

		return nil
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return errors.New("invalid redis URL: " + err.Error())
	}

	client := redis.NewClient(options)
	defer func() {
		err := client.Close()
		if err != nil {
			logger.Error("Failed to close redis client", "error", err)
		}
	}()

	source := redisqueue.NewSource(client, service, dispatcherID, logger)
	source.Stream = command.String("stream")

	return source.Run(ctx)
}
