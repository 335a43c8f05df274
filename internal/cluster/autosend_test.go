package cluster

import (
	kafkaclient "KafkaScope/pkg/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func sentCount(s *Session, id string) int64 {
	for _, info := range s.Autosends() {
		if info.ID == id {
			return info.Sent
		}
	}
	return -1
}

func TestSession_AutosendUntilStopped(t *testing.T) {
	ts := newTestSession(nil)
	ts.producer.On("Send", mock.Anything, "orders", []byte("k"), []byte(`{"n":1}`), []kafkaclient.Header(nil)).
		Return(tpo("orders", 0, 1), nil)

	id, err := ts.StartAutosend(AutosendRequest{
		Topic:    "orders",
		Key:      []byte("k"),
		Value:    []byte(`{"n":1}`),
		Interval: 5 * time.Millisecond,
		Duration: time.Minute,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.Eventually(t, func() bool {
		return sentCount(ts.Session, id) >= 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, ts.StopAutosend(id))
	assert.Empty(t, ts.Autosends())
	assert.ErrorIs(t, ts.StopAutosend(id), ErrAutosendNotFound)
}

func TestSession_AutosendEndsAfterDuration(t *testing.T) {
	ts := newTestSession(nil)
	ts.producer.On("Send", mock.Anything, "orders", mock.Anything, mock.Anything, mock.Anything).
		Return(tpo("orders", 0, 1), nil)

	_, err := ts.StartAutosend(AutosendRequest{
		Topic:    "orders",
		Value:    []byte("tick"),
		Interval: 5 * time.Millisecond,
		Duration: 30 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(ts.Autosends()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSession_AutosendCountsFailures(t *testing.T) {
	ts := newTestSession(nil)
	ts.producer.On("Send", mock.Anything, "orders", mock.Anything, mock.Anything, mock.Anything).
		Return(kafkaclient.TopicPartitionOffset{}, assert.AnError)

	id, err := ts.StartAutosend(AutosendRequest{
		Topic:    "orders",
		Interval: 5 * time.Millisecond,
		Duration: time.Minute,
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, info := range ts.Autosends() {
			if info.ID == id && info.Failed >= 2 {
				return info.Sent == 0
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, ts.StopAutosend(id))
}

func TestSession_AutosendValidation(t *testing.T) {
	ts := newTestSession(nil)

	_, err := ts.StartAutosend(AutosendRequest{Interval: time.Second, Duration: time.Minute})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ts.StartAutosend(AutosendRequest{Topic: "orders", Duration: time.Minute})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ts.StartAutosend(AutosendRequest{Topic: "orders", Interval: time.Second})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSession_CloseStopsAutosend(t *testing.T) {
	ts := newTestSession(nil)
	ts.producer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(tpo("orders", 0, 1), nil)
	ts.producer.On("Close").Return()
	ts.metadata.On("Close").Return()
	ts.admin.On("Close").Return()

	_, err := ts.StartAutosend(AutosendRequest{Topic: "orders", Interval: time.Millisecond, Duration: time.Minute})
	require.NoError(t, err)

	ts.Close()

	assert.Empty(t, ts.Autosends())
}

