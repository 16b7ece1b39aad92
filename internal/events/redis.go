// ABOUTME: Publishes committed gateway events to a Redis stream
// ABOUTME: Lets off-ledger consumers tail payments with XREAD or consumer groups

package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/2389/pulsar-gateway/internal/store"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "pulsar:events"

// streamAdder is the part of *redis.Client that RedisStream uses.
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStream appends events to a Redis stream with XADD.
type RedisStream struct {
	client streamAdder
	stream string
	maxLen int64
	logger *slog.Logger
}

// NewRedisStream creates a notifier writing to stream. maxLen caps the
// stream approximately; zero leaves it unbounded.
func NewRedisStream(client *redis.Client, stream string, maxLen int64, logger *slog.Logger) *RedisStream {
	return newRedisStream(client, stream, maxLen, logger)
}

func newRedisStream(client streamAdder, stream string, maxLen int64, logger *slog.Logger) *RedisStream {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStream{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger.With("component", "redis_stream"),
	}
}

// Notify implements Notifier.
func (r *RedisStream) Notify(ctx context.Context, ev *store.Event) error {
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: eventToMap(ev),
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	id, err := r.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", r.stream, err)
	}

	r.logger.Debug("event published", "stream", r.stream, "entry_id", id, "event_id", ev.ID)
	return nil
}

// eventToMap flattens an event into stream fields. Amounts are decimal
// strings so consumers never lose uint64 precision.
func eventToMap(ev *store.Event) map[string]any {
	return map[string]any{
		"seq":       ev.Seq,
		"id":        ev.ID,
		"kind":      string(ev.Kind),
		"gateway":   ev.Gateway.String(),
		"actor":     ev.Actor.String(),
		"amount":    fmt.Sprintf("%d", ev.Amount),
		"nonce":     fmt.Sprintf("%d", ev.Nonce),
		"old_fee":   fmt.Sprintf("%d", ev.OldFee),
		"new_fee":   fmt.Sprintf("%d", ev.NewFee),
		"timestamp": ev.Timestamp,
	}
}
