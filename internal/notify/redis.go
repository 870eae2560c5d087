package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes each notification as JSON on its channel.
type RedisSink struct {
	client *redis.Client
}

// NewRedisSink connects to addr and checks the connection.
func NewRedisSink(addr, password string, db int) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisSink{client: client}, nil
}

// NewRedisSinkWithClient wraps an existing client.
func NewRedisSinkWithClient(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Push(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.client.Publish(ctx, n.Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", n.Channel, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
