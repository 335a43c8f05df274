package storage

import (
	"KafkaScope/internal/metrics"
	"context"
	"errors"
	"fmt"
)

const (
	// BucketSettings holds operator settings such as saved connections
	BucketSettings = "settings"
	// BucketMessages holds the message history, one key per topic
	BucketMessages = "messages"
)

var (
	// ErrNotFound is returned by Get for a missing key
	ErrNotFound = errors.New("key not found")
	// ErrUnknownBucket is returned for a bucket other than settings or messages
	ErrUnknownBucket = errors.New("unknown bucket")
	// ErrEmptyKey is returned when a key is empty
	ErrEmptyKey = errors.New("key cannot be empty")
)

// Store is a string-keyed byte store split into named buckets
type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Set(ctx context.Context, bucket, key string, value []byte) error
	// List returns every entry of a bucket
	List(ctx context.Context, bucket string) (map[string][]byte, error)
	// Delete removes a key; deleting a missing key is not an error
	Delete(ctx context.Context, bucket, key string) error
	Close() error
}

// RedisConfig holds the redis backend connection settings
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// Config selects and configures a backend
type Config struct {
	Backend     string      `yaml:"backend" env:"BACKEND"`
	Dir         string      `yaml:"dir" env:"DIR"`
	Redis       RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
	HistorySize int         `yaml:"history_size" env:"HISTORY_SIZE"`
}

// Open opens the configured backend. An empty backend means pebble.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "pebble":
		return OpenPebble(cfg.Dir)
	case "redis":
		return OpenRedis(ctx, cfg.Redis)
	}
	return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
}

// ValidBucket reports whether bucket is one of the known buckets
func ValidBucket(bucket string) bool {
	return bucket == BucketSettings || bucket == BucketMessages
}

func checkKey(bucket, key string) error {
	if !ValidBucket(bucket) {
		return fmt.Errorf("%w: %s", ErrUnknownBucket, bucket)
	}
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}

func observe(backend, op string, err error) {
	result := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	metrics.StoreOperations.WithLabelValues(backend, op, result).Inc()
}
