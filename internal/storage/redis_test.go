package storage

import (
	"context"
	"fmt"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestRedisStore_CommandErrors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()

	store := NewRedisStoreWithClient(db, "scope:")
	ctx := context.Background()

	mock.ExpectHGet("scope:settings", "theme").SetErr(fmt.Errorf("redis error"))
	_, err := store.Get(ctx, BucketSettings, "theme")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "settings/theme")

	mock.ExpectHSet("scope:settings", "theme", []byte("dark")).SetErr(fmt.Errorf("redis error"))
	assert.Error(t, store.Set(ctx, BucketSettings, "theme", []byte("dark")))

	mock.ExpectHGetAll("scope:messages").SetErr(fmt.Errorf("redis error"))
	_, err = store.List(ctx, BucketMessages)
	assert.Error(t, err)

	mock.ExpectHDel("scope:settings", "theme").SetErr(fmt.Errorf("redis error"))
	assert.Error(t, store.Delete(ctx, BucketSettings, "theme"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_MissingKey(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()

	store := NewRedisStoreWithClient(db, "")

	mock.ExpectHGet("kafkascope:settings", "theme").RedisNil()
	_, err := store.Get(context.Background(), BucketSettings, "theme")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
