package storage

import (
	"context"
	"errors"
	"fmt"
	"github.com/go-redis/redis/v8"
	"time"
)

// RedisStore keeps each bucket in one redis hash
type RedisStore struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to redis and checks the connection
func OpenRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreWithClient wraps an existing client. An empty prefix means
// "kafkascope:".
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "kafkascope:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) hash(bucket string) string {
	return s.prefix + bucket
}

func (s *RedisStore) Get(ctx context.Context, bucket, key string) (value []byte, err error) {
	defer func() { observe("redis", "get", err) }()

	if err := checkKey(bucket, key); err != nil {
		return nil, err
	}

	value, err = s.client.HGet(ctx, s.hash(bucket), key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s/%s: %w", bucket, key, err)
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, bucket, key string, value []byte) (err error) {
	defer func() { observe("redis", "set", err) }()

	if err := checkKey(bucket, key); err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.hash(bucket), key, value).Err(); err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, bucket string) (entries map[string][]byte, err error) {
	defer func() { observe("redis", "list", err) }()

	if !ValidBucket(bucket) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBucket, bucket)
	}

	all, err := s.client.HGetAll(ctx, s.hash(bucket)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", bucket, err)
	}

	entries = make(map[string][]byte, len(all))
	for k, v := range all {
		entries[k] = []byte(v)
	}
	return entries, nil
}

func (s *RedisStore) Delete(ctx context.Context, bucket, key string) (err error) {
	defer func() { observe("redis", "delete", err) }()

	if err := checkKey(bucket, key); err != nil {
		return err
	}
	if err := s.client.HDel(ctx, s.hash(bucket), key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
