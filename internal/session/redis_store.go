package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/koios/kling-batcher/internal/config"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the session blob under a single Redis key
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// RedisOption configures a RedisStore
type RedisOption func(*RedisStore)

// WithTTL expires the saved session after ttl; zero keeps it forever
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// NewRedisStore creates a store with its own Redis connection
func NewRedisStore(cfg *config.RedisConfig, key string, opts ...RedisOption) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreFromClient(rdb, key, opts...)
}

// NewRedisStoreFromClient creates a store on an existing client
func NewRedisStoreFromClient(client *redis.Client, key string, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		key:    buildKey(key),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// buildKey scopes the session key; path separators are not allowed in the name
func buildKey(key string) string {
	key = strings.ReplaceAll(strings.TrimSpace(key), "/", "_")
	if key == "" {
		key = "default"
	}
	if strings.HasPrefix(key, "batcher:") {
		return key
	}
	return "batcher:" + key
}

// Key returns the Redis key holding the session
func (s *RedisStore) Key() string {
	return s.key
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping tests the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session %s from Redis: %w", s.key, err)
	}
	return data, nil
}

func (s *RedisStore) Save(ctx context.Context, blob []byte) error {
	if err := s.client.Set(ctx, s.key, blob, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session %s in Redis: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context) (bool, error) {
	n, err := s.client.Exists(ctx, s.key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session %s: %w", s.key, err)
	}
	return n > 0, nil
}
