package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"crewloop.app/core/common/id"
	"crewloop.app/core/common/logger"
)

// StreamName returns the Redis stream carrying all events of one workspace.
func StreamName(workspaceID string) string {
	return fmt.Sprintf("crewloop:events:%s", workspaceID)
}

type RedisBusConfig struct {
	Stream   string        // Redis stream name
	Group    string        // Consumer group name
	Consumer string        // Consumer name within the group
	Block    time.Duration // How long to block/poll for new messages
	MaxLen   int64         // Approximate stream length cap (0 = unbounded)
}

// RedisBus is the multi-node backend on Redis streams. Publishing appends to
// the workspace stream; a Run loop reads via a consumer group and dispatches
// to locally subscribed handlers. It intentionally does not implement the
// EventLog capability: the stream is a transport, not a readable history.
type RedisBus struct {
	client *redis.Client
	cfg    RedisBusConfig

	mu          sync.Mutex
	subscribers map[string][]Handler
}

func NewRedisBus(client *redis.Client, cfg RedisBusConfig) (*RedisBus, error) {
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}

	b := &RedisBus{
		client:      client,
		cfg:         cfg,
		subscribers: make(map[string][]Handler),
	}

	// Starting the group at "0" instead of "$" means messages published
	// before this consumer came up are still delivered after restarts.
	if err := client.XGroupCreateMkStream(context.Background(), cfg.Stream, cfg.Group, "0").Err(); err != nil &&
		err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	return b, nil
}

func (b *RedisBus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

func (b *RedisBus) Publish(ctx context.Context, topic, eventType string, data map[string]any, source string) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: b.cfg.Stream,
		Values: map[string]any{
			"id":         id.New(),
			"event_type": eventType,
			"topic":      topic,
			"source":     source,
			"data":       string(payload),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	if b.cfg.MaxLen > 0 {
		args.MaxLen = b.cfg.MaxLen
		args.Approx = true
	}

	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	slog.DebugContext(ctx, "event published",
		"stream", b.cfg.Stream,
		"event_type", eventType,
		"source", source)
	return nil
}

// Run consumes the workspace stream until ctx is canceled, dispatching each
// event to the handlers subscribed on this instance. Handler failures are
// isolated per-handler; the message is acknowledged either way, matching the
// bus contract that delivery accounting is independent of handler outcome.
func (b *RedisBus) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "crewloop.bus.redis",
	})

	slog.InfoContext(ctx, "redis bus consumer started",
		"stream", b.cfg.Stream,
		"group", b.cfg.Group,
		"consumer", b.cfg.Consumer)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			Streams:  []string{b.cfg.Stream, ">"},
			Count:    16,
			Block:    b.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.ErrorContext(ctx, "reading from stream", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				evt, parseErr := parseStreamMessage(msg)
				if parseErr != nil {
					slog.ErrorContext(ctx, "failed to parse stream message",
						"error", parseErr,
						"raw_message_id", msg.ID)
					b.ack(ctx, msg.ID)
					continue
				}

				b.dispatchLocal(ctx, evt)
				b.ack(ctx, msg.ID)
			}
		}
	}
}

func (b *RedisBus) dispatchLocal(ctx context.Context, evt Event) {
	b.mu.Lock()
	handlers := make([]Handler, len(b.subscribers[evt.EventType]))
	copy(handlers, b.subscribers[evt.EventType])
	b.mu.Unlock()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventType: logger.Ptr(evt.EventType),
	})

	for _, handler := range handlers {
		dispatch(ctx, handler, evt)
	}
}

func (b *RedisBus) ack(ctx context.Context, msgID string) {
	if err := b.client.XAck(ctx, b.cfg.Stream, b.cfg.Group, msgID).Err(); err != nil {
		slog.ErrorContext(ctx, "xack failed", "error", err, "stream", b.cfg.Stream)
	}
}

func parseStreamMessage(msg redis.XMessage) (Event, error) {
	evt := Event{}

	eventType, ok := msg.Values["event_type"].(string)
	if !ok || eventType == "" {
		return Event{}, fmt.Errorf("message %s missing event_type", msg.ID)
	}
	evt.EventType = eventType

	if topic, ok := msg.Values["topic"].(string); ok {
		evt.Topic = topic
	}
	if source, ok := msg.Values["source"].(string); ok {
		evt.Source = source
	}
	if rawID, ok := msg.Values["id"].(string); ok {
		if parsed, err := strconv.ParseInt(rawID, 10, 64); err == nil {
			evt.ID = parsed
		}
	}
	if ts, ok := msg.Values["ts"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			evt.Timestamp = parsed
		}
	}
	if raw, ok := msg.Values["data"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &evt.Data); err != nil {
			return Event{}, fmt.Errorf("message %s has invalid data payload: %w", msg.ID, err)
		}
	}

	return evt, nil
}
