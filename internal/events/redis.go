package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/comigor/triage-go/internal/logger"
)

// RedisBus publishes to and subscribes from redis channels named after topics.
type RedisBus struct {
	client *redis.Client
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(ctx context.Context, redisURL string) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 1
	opts.MaxRetries = 1
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.L.Info("redis event bus connected", "addr", opts.Addr)
	return &RedisBus{client: client}, nil
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe delivers messages on the handlers' topics until ctx is done.
// Handler errors are logged; delivery continues.
func (b *RedisBus) Subscribe(ctx context.Context, handlers map[string]Handler) error {
	topics := make([]string, 0, len(handlers))
	for t := range handlers {
		topics = append(topics, t)
	}

	sub := b.client.Subscribe(ctx, topics...)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %v: %w", topics, err)
	}
	logger.L.Info("subscribed to events", "topics", topics)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h, found := handlers[msg.Channel]
			if !found {
				continue
			}
			if err := h(ctx, []byte(msg.Payload)); err != nil {
				logger.L.Warn("event handler failed", "topic", msg.Channel, "error", err)
			}
		}
	}
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
