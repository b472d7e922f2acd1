// Copyright 2024-2026 Aiku AI

package credstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the blob under one redis key, for deployments where the
// bridge runs without a persistent volume.
type RedisStore struct {
	rdb redis.UniversalClient
	key string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{rdb: rdb, key: key}
}

// NewRedisStoreFromURL parses a redis:// URL and returns a store using a new client.
func NewRedisStoreFromURL(url, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("credstore: invalid redis_url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts), key), nil
}

func (s *RedisStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadFailed, s.key, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

func (s *RedisStore) Save(ctx context.Context, data []byte) error {
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, s.key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeleteFailed, s.key, err)
	}
	return nil
}
