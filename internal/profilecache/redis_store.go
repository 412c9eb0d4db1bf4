package profilecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"agenthq/gateway/internal/backend"
)

// RedisStore implements Store on Redis, for deployments where several
// gateway replicas should share one profile cache.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
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

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "profile:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(subjectID string) string {
	return s.prefix + subjectID
}

func (s *RedisStore) Get(ctx context.Context, subjectID string) (backend.ProfileRecord, bool, error) {
	jsonData, err := s.client.Get(ctx, s.key(subjectID)).Result()
	if err == redis.Nil {
		return backend.ProfileRecord{}, false, nil
	}
	if err != nil {
		return backend.ProfileRecord{}, false, fmt.Errorf("get profile: %w", err)
	}

	var record backend.ProfileRecord
	if err := json.Unmarshal([]byte(jsonData), &record); err != nil {
		return backend.ProfileRecord{}, false, fmt.Errorf("unmarshal profile: %w", err)
	}
	return record, true, nil
}

func (s *RedisStore) Set(ctx context.Context, subjectID string, record backend.ProfileRecord) error {
	jsonData, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := s.client.Set(ctx, s.key(subjectID), jsonData, s.ttl).Err(); err != nil {
		return fmt.Errorf("set profile: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, subjectID string) error {
	if err := s.client.Del(ctx, s.key(subjectID)).Err(); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
