package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/gpucep/internal/ir"
)

// DefaultPublishTimeout bounds one PUBLISH.
const DefaultPublishTimeout = 2 * time.Second

// EventsChannel returns the pub/sub channel for derived events of one type:
// {prefix}:events:{type}.
func EventsChannel(prefix string, typ ir.EventType) string {
	return fmt.Sprintf("%s:events:%d", prefix, typ)
}

// RedisPublisher publishes every delivered event as JSON on its type's
// channel.
//
// Delivery is at-most-once: Redis pub/sub drops messages for absent
// subscribers, and a failed PUBLISH is logged and counted, never retried.
// The engine's dispatch is never failed by a publisher error.
//
// The publisher is thread-safe.
type RedisPublisher struct {
	rdb     *redis.Client
	prefix  string
	timeout time.Duration
	failed  atomic.Int64
}

// RedisOption configures a RedisPublisher.
type RedisOption func(*RedisPublisher)

// WithPublishTimeout sets the per-publish timeout.
// Default: DefaultPublishTimeout.
func WithPublishTimeout(d time.Duration) RedisOption {
	return func(p *RedisPublisher) {
		p.timeout = d
	}
}

// NewRedisPublisher creates a publisher namespaced by prefix.
//
// Returns an error if prefix is empty.
func NewRedisPublisher(redisOpts *redis.Options, prefix string, opts ...RedisOption) (*RedisPublisher, error) {
	if prefix == "" {
		return nil, fmt.Errorf("channel prefix cannot be empty")
	}
	p := &RedisPublisher{
		rdb:     redis.NewClient(redisOpts),
		prefix:  prefix,
		timeout: DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Ping verifies Redis connectivity.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection. Implements io.Closer.
func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

// Deliver implements engine.ResultListener.
func (p *RedisPublisher) Deliver(ev *ir.PubPkt) {
	if err := p.publish(ev); err != nil {
		p.failed.Add(1)
		slog.Warn("publish derived event failed",
			"event_id", ev.ID,
			"type", ev.Type,
			"error", err,
		)
	}
}

func (p *RedisPublisher) publish(ev *ir.PubPkt) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	channel := EventsChannel(p.prefix, ev.Type)
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Failed returns the number of events that could not be published.
func (p *RedisPublisher) Failed() int64 {
	return p.failed.Load()
}
