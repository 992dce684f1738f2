package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pubflow/api/internal/store"
)

// RedisPublisher appends every event to a Redis stream so other services can
// consume workflow changes with consumer groups.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher connects to redisURL and verifies the connection.
func NewRedisPublisher(redisURL, stream string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisPublisherWithClient(client, stream), nil
}

func NewRedisPublisherWithClient(client *redis.Client, stream string) *RedisPublisher {
	if stream == "" {
		stream = "pubflow:events"
	}
	return &RedisPublisher{client: client, stream: stream, maxLen: 10000}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Handles(string) bool { return true }

// Handle uses the outbox id as a field so consumers can drop redeliveries.
func (p *RedisPublisher) Handle(ctx context.Context, event store.OutboxEvent) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":          event.ID,
			"topic":       event.Topic,
			"aggregateId": event.AggregateID,
			"payload":     string(event.Payload),
			"createdAt":   event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
