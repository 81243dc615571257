package repository

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements DocumentStore with one redis hash per document kind
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a redis-backed document store. Hash keys are
// "<prefix>:<kind>".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "groupledger"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) hashKey(kind DocumentKind) string {
	return s.prefix + ":" + string(kind)
}

func (s *RedisStore) Get(ctx context.Context, kind DocumentKind, key string) ([]byte, error) {
	body, err := s.client.HGet(ctx, s.hashKey(kind), key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return body, nil
}

func (s *RedisStore) Put(ctx context.Context, kind DocumentKind, key string, body []byte) error {
	return s.client.HSet(ctx, s.hashKey(kind), key, body).Err()
}

func (s *RedisStore) Delete(ctx context.Context, kind DocumentKind, key string) error {
	removed, err := s.client.HDel(ctx, s.hashKey(kind), key).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Keys(ctx context.Context, kind DocumentKind) ([]string, error) {
	return s.client.HKeys(ctx, s.hashKey(kind)).Result()
}
