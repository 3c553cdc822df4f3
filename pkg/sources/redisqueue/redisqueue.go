// Package redisqueue consumes trigger events from a Redis stream and fires
// them through the trigger service.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukex/flowq/pkg/trigger"
)

const (
	DefaultStream   = "flowq:triggers"
	DefaultGroup    = "flowq-dispatchers"
	DefaultBlock    = 5 * time.Second
	DefaultBatchMax = 32
)

// Source reads trigger events from a Redis stream using a consumer group, so
// multiple dispatcher processes share the stream without duplication.
//
// Expected entry fields:
//
//	trigger_type OR event_type  — one required
//	payload                     — JSON object, becomes the trigger data
//	location_id                 — optional tenant scope
type Source struct {
	client   redis.UniversalClient
	service  *trigger.Service
	logger   *slog.Logger
	consumer string

	Stream string
	Group  string
	Block  time.Duration
}

func NewSource(client redis.UniversalClient, service *trigger.Service, consumer string, logger *slog.Logger) *Source {
	return &Source{
		client:   client,
		service:  service,
		logger:   logger.With("module", "redisqueue_source", "consumer", consumer),
		consumer: consumer,
		Stream:   DefaultStream,
		Group:    DefaultGroup,
		Block:    DefaultBlock,
	}
}

// Run consumes until the context is cancelled.
func (s *Source) Run(ctx context.Context) error {
	err := s.ensureGroup(ctx)
	if err != nil {
		return err
	}

	s.logger.Info("Redis trigger source started", "stream", s.Stream, "group", s.Group)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Redis trigger source stopping")

			return nil
		default:
		}

		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.Group,
			Consumer: s.consumer,
			Streams:  []string{s.Stream, ">"},
			Count:    DefaultBatchMax,
			Block:    s.Block,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}

			s.logger.Error("Failed to read trigger stream", "error", err)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}

			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				s.handle(ctx, message)
			}
		}
	}
}

func (s *Source) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.Stream, s.Group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}

	return nil
}

// handle fires one stream entry and acknowledges it. Malformed entries are
// acknowledged and dropped so they cannot wedge the group.
func (s *Source) handle(ctx context.Context, message redis.XMessage) {
	defer func() {
		err := s.client.XAck(ctx, s.Stream, s.Group, message.ID).Err()
		if err != nil {
			s.logger.Warn("Failed to ack stream entry", "entry_id", message.ID, "error", err)
		}
	}()

	payload := parsePayload(message.Values["payload"])
	locationID, _ := message.Values["location_id"].(string)

	if triggerType, ok := message.Values["trigger_type"].(string); ok && triggerType != "" {
		_, err := s.service.Fire(ctx, triggerType, payload, locationID)
		if err != nil {
			s.logger.Error("Failed to fire trigger",
				"entry_id", message.ID, "trigger_type", triggerType, "error", err)
		}

		return
	}

	if eventType, ok := message.Values["event_type"].(string); ok && eventType != "" {
		_, err := s.service.ProcessEvent(ctx, eventType, payload, locationID)
		if err != nil {
			s.logger.Error("Failed to process event",
				"entry_id", message.ID, "event_type", eventType, "error", err)
		}

		return
	}

	s.logger.Warn("Dropping stream entry without trigger_type or event_type", "entry_id", message.ID)
}

func parsePayload(raw any) map[string]any {
	str, ok := raw.(string)
	if !ok || str == "" {
		return map[string]any{}
	}

	var payload map[string]any

	err := json.Unmarshal([]byte(str), &payload)
	if err != nil {
		return map[string]any{}
	}

	return payload
}
