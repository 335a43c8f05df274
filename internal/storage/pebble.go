package storage

import (
	"context"
	"errors"
	"fmt"
	"github.com/cockroachdb/pebble"
	"os"
)

// separates the bucket from the key; keys may contain any other byte
const keySeparator = 0x00

// PebbleStore keeps every bucket in one local pebble database
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens or creates a database in dir
func OpenPebble(dir string) (*PebbleStore, error) {
	if dir == "" {
		dir = "./data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func encodeKey(bucket, key string) []byte {
	b := make([]byte, 0, len(bucket)+1+len(key))
	b = append(b, bucket...)
	b = append(b, keySeparator)
	return append(b, key...)
}

func (s *PebbleStore) Get(_ context.Context, bucket, key string) (value []byte, err error) {
	defer func() { observe("pebble", "get", err) }()

	if err := checkKey(bucket, key); err != nil {
		return nil, err
	}

	raw, closer, err := s.db.Get(encodeKey(bucket, key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s/%s: %w", bucket, key, err)
	}
	defer closer.Close()

	// raw is only valid until closer is closed
	value = make([]byte, len(raw))
	copy(value, raw)
	return value, nil
}

func (s *PebbleStore) Set(_ context.Context, bucket, key string, value []byte) (err error) {
	defer func() { observe("pebble", "set", err) }()

	if err := checkKey(bucket, key); err != nil {
		return err
	}
	if err := s.db.Set(encodeKey(bucket, key), value, pebble.Sync); err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *PebbleStore) List(_ context.Context, bucket string) (entries map[string][]byte, err error) {
	defer func() { observe("pebble", "list", err) }()

	if !ValidBucket(bucket) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBucket, bucket)
	}

	lower := append([]byte(bucket), keySeparator)
	upper := append([]byte(bucket), keySeparator+1)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	entries = make(map[string][]byte)
	for iter.First(); iter.Valid(); iter.Next() {
		raw, err := iter.ValueAndErr()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", bucket, err)
		}
		value := make([]byte, len(raw))
		copy(value, raw)
		entries[string(iter.Key()[len(lower):])] = value
	}
	return entries, nil
}

func (s *PebbleStore) Delete(_ context.Context, bucket, key string) (err error) {
	defer func() { observe("pebble", "delete", err) }()

	if err := checkKey(bucket, key); err != nil {
		return err
	}
	if err := s.db.Delete(encodeKey(bucket, key), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Close closes the database
func (s *PebbleStore) Close() error {
	return s.db.Close()
}
