package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"research-client/internal/domain/ports/repository"
	"research-client/internal/infra/metrics"
)

var _ repository.KeyValueStore = (*Store)(nil)

// Store keeps JSON values in Redis under a common key prefix. Keys never expire.
type Store struct {
	client RedisClient
	prefix string
}

func NewStore(client RedisClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := s.client.Get(ctx, s.key(key))
	if errors.Is(err, redis.Nil) {
		metrics.IncStoreOp("redis", "get", "miss")
		return false, nil
	}
	if err != nil {
		metrics.IncStoreOp("redis", "get", "error")
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		metrics.IncStoreOp("redis", "get", "error")
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	metrics.IncStoreOp("redis", "get", "hit")
	return true, nil
}

func (s *Store) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.key(key), data, 0); err != nil {
		metrics.IncStoreOp("redis", "set", "error")
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	metrics.IncStoreOp("redis", "set", "ok")
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)); err != nil {
		metrics.IncStoreOp("redis", "remove", "error")
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	metrics.IncStoreOp("redis", "remove", "ok")
	return nil
}
