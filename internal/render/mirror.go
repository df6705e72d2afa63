package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror stores render statuses in Redis with a TTL so status
// queries outlive the process. Best-effort: write failures are logged,
// never propagated into the render.
type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMirror connects to redisURL and verifies the connection.
func NewRedisMirror(redisURL string, ttl time.Duration) (*RedisMirror, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisMirror{client: client, prefix: "render:", ttl: ttl}, nil
}

// NewRedisMirrorWithClient creates a mirror from an existing client.
func NewRedisMirrorWithClient(client *redis.Client, ttl time.Duration) *RedisMirror {
	return &RedisMirror{client: client, prefix: "render:", ttl: ttl}
}

func (m *RedisMirror) key(requestID string) string {
	return m.prefix + requestID
}

// Put stores the status under the request id, refreshing the TTL.
func (m *RedisMirror) Put(ctx context.Context, requestID string, status Status) {
	data, err := json.Marshal(status)
	if err != nil {
		log.Printf("render: mirror %s: marshal: %v", requestID, err)
		return
	}
	if err := m.client.Set(ctx, m.key(requestID), data, m.ttl).Err(); err != nil {
		log.Printf("render: mirror %s: set: %v", requestID, err)
	}
}

// Get fetches a mirrored status. False when the key is absent or
// expired.
func (m *RedisMirror) Get(ctx context.Context, requestID string) (Status, bool) {
	data, err := m.client.Get(ctx, m.key(requestID)).Result()
	if errors.Is(err, redis.Nil) {
		return Status{}, false
	}
	if err != nil {
		log.Printf("render: mirror %s: get: %v", requestID, err)
		return Status{}, false
	}
	var status Status
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		log.Printf("render: mirror %s: unmarshal: %v", requestID, err)
		return Status{}, false
	}
	return status, true
}

// Close releases the underlying client.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
