package storage

import (
	"KafkaScope/internal/fetcher"
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

func record(partition int32, offset, ts int64, value string) fetcher.MessageRecord {
	return fetcher.MessageRecord{
		Value:     fetcher.DecodePayload([]byte(value)),
		Partition: partition,
		Offset:    offset,
		Timestamp: ts,
	}
}

func offsetsOf(records []fetcher.MessageRecord) []int64 {
	out := make([]int64, 0, len(records))
	for _, r := range records {
		out = append(out, r.Offset)
	}
	return out
}

func TestHistory_AppendDeduplicatesAndLimits(t *testing.T) {
	ctx := context.Background()
	history := NewHistory(newPebbleStore(t), 3)

	kept, err := history.Append(ctx, "orders", []fetcher.MessageRecord{
		record(0, 1, 10, "a"),
		record(0, 2, 20, "b"),
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, offsetsOf(kept))

	kept, err = history.Append(ctx, "orders", []fetcher.MessageRecord{
		record(0, 2, 20, "b-again"),
		record(1, 2, 25, "c"),
		record(0, 3, 30, "d"),
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 2}, offsetsOf(kept))
	assert.Equal(t, int32(1), kept[1].Partition)
	assert.Equal(t, "b-again", kept[2].Value.String())

	stored, err := history.Get(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, offsetsOf(kept), offsetsOf(stored))
}

func TestHistory_RoundTripsPayloads(t *testing.T) {
	ctx := context.Background()
	history := NewHistory(newPebbleStore(t), 0)

	_, err := history.Append(ctx, "orders", []fetcher.MessageRecord{
		record(0, 1, 10, `{"id":1}`),
		record(0, 2, 20, "plain text"),
	})
	require.NoError(t, err)

	stored, err := history.Get(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.False(t, stored[0].Value.IsStructured())
	assert.Equal(t, "plain text", stored[0].Value.String())
	assert.True(t, stored[1].Value.IsStructured())
	assert.JSONEq(t, `{"id":1}`, string(stored[1].Value.Structured))
	assert.Nil(t, stored[0].Key)
}

func TestHistory_EmptyAndClear(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)
	history := NewHistory(store, 10)

	stored, err := history.Get(ctx, "orders")
	require.NoError(t, err)
	assert.Empty(t, stored)

	_, err = history.Append(ctx, "orders", []fetcher.MessageRecord{record(0, 1, 10, "a")})
	require.NoError(t, err)
	require.NoError(t, history.Clear(ctx, "orders"))

	stored, err = history.Get(ctx, "orders")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestHistory_RoundTripIsLossless(t *testing.T) {
	ctx := context.Background()
	store := newPebbleStore(t)
	history := NewHistory(store, 0)

	fetched := []fetcher.MessageRecord{
		{
			Key:       fetcher.DecodePayload([]byte(`"hello"`)),
			Value:     fetcher.DecodePayload([]byte("  {\"a\":1}  ")),
			Headers:   map[string]*fetcher.Payload{"trace": fetcher.DecodePayload([]byte("42")), "empty": nil},
			Partition: 1,
			Offset:    8,
			Timestamp: 20,
		},
		{
			Value:     fetcher.DecodePayload([]byte("<b>&amp;</b>")),
			Partition: 0,
			Offset:    3,
			Timestamp: 10,
		},
	}
	_, err := history.Append(ctx, "orders", fetched)
	require.NoError(t, err)

	stored, err := history.Get(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, fetched, stored)

	assert.True(t, stored[0].Key.IsStructured())
	assert.Equal(t, `"hello"`, stored[0].Key.Text)
	assert.Equal(t, "  {\"a\":1}  ", stored[0].Value.Text)
}

func TestHistory_RejectsCorruptValue(t *testing.T) {
	ctx := context.Background()
	store := newPebbleStore(t)
	history := NewHistory(store, 0)

	_, err := history.Append(ctx, "orders", []fetcher.MessageRecord{record(0, 1, 10, "a")})
	require.NoError(t, err)

	raw, err := store.Get(ctx, BucketMessages, "orders")
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"value":"a"`, `"value":"b"`, 1)
	require.NotEqual(t, string(raw), tampered)
	require.NoError(t, store.Set(ctx, BucketMessages, "orders", []byte(tampered)))

	_, err = history.Get(ctx, "orders")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}
