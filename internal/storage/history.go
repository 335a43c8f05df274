package storage

import (
	"KafkaScope/internal/fetcher"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/cespare/xxhash/v2"
	"sync"
)

// DefaultHistorySize is the number of records kept per topic
const DefaultHistorySize = 500

// History keeps the most recent records seen per topic in the messages bucket
type History struct {
	store Store
	limit int
	mu    sync.Mutex
}

// NewHistory creates a history keeping at most limit records per topic
func NewHistory(store Store, limit int) *History {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	return &History{store: store, limit: limit}
}

// position identifies a record within its topic
type position struct {
	partition int32
	offset    int64
}

// storedHistory is the persisted form of one topic's history. Checksum is
// the xxhash of Records and guards against truncated or foreign values.
type storedHistory struct {
	Checksum uint64          `json:"checksum"`
	Records  json.RawMessage `json:"records"`
}

// storedRecord keeps the decoded text of every payload. The structured view
// is rebuilt from it on load, so both come back exactly as fetched.
type storedRecord struct {
	Key       *string            `json:"key"`
	Value     *string            `json:"value"`
	Headers   map[string]*string `json:"headers,omitempty"`
	Offset    int64              `json:"offset"`
	Partition int32              `json:"partition"`
	Timestamp int64              `json:"timestamp"`
}

func textOf(p *fetcher.Payload) *string {
	if p == nil {
		return nil
	}
	text := p.Text
	return &text
}

func payloadOf(text *string) *fetcher.Payload {
	if text == nil {
		return nil
	}
	return fetcher.DecodePayload([]byte(*text))
}

func encodeHistory(records []fetcher.MessageRecord) ([]byte, error) {
	stored := make([]storedRecord, len(records))
	for i, r := range records {
		stored[i] = storedRecord{
			Key:       textOf(r.Key),
			Value:     textOf(r.Value),
			Offset:    r.Offset,
			Partition: r.Partition,
			Timestamp: r.Timestamp,
		}
		if len(r.Headers) > 0 {
			stored[i].Headers = make(map[string]*string, len(r.Headers))
			for k, v := range r.Headers {
				stored[i].Headers[k] = textOf(v)
			}
		}
	}

	body, err := json.Marshal(stored)
	if err != nil {
		return nil, err
	}
	return json.Marshal(storedHistory{Checksum: xxhash.Sum64(body), Records: body})
}

func decodeHistory(raw []byte) ([]fetcher.MessageRecord, error) {
	var envelope storedHistory
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	if sum := xxhash.Sum64(envelope.Records); sum != envelope.Checksum {
		return nil, fmt.Errorf("checksum mismatch: stored %x, computed %x", envelope.Checksum, sum)
	}

	var stored []storedRecord
	if err := json.Unmarshal(envelope.Records, &stored); err != nil {
		return nil, err
	}

	records := make([]fetcher.MessageRecord, len(stored))
	for i, s := range stored {
		records[i] = fetcher.MessageRecord{
			Key:       payloadOf(s.Key),
			Value:     payloadOf(s.Value),
			Offset:    s.Offset,
			Partition: s.Partition,
			Timestamp: s.Timestamp,
		}
		if len(s.Headers) > 0 {
			records[i].Headers = make(map[string]*fetcher.Payload, len(s.Headers))
			for k, v := range s.Headers {
				records[i].Headers[k] = payloadOf(v)
			}
		}
	}
	return records, nil
}

// Get returns the stored records of topic, newest first
func (h *History) Get(ctx context.Context, topic string) ([]fetcher.MessageRecord, error) {
	raw, err := h.store.Get(ctx, BucketMessages, topic)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []fetcher.MessageRecord{}, nil
		}
		return nil, err
	}

	records, err := decodeHistory(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode history for %s: %w", topic, err)
	}
	return records, nil
}

// Append merges records into the history of topic. A record already stored
// at the same partition and offset is replaced. The newest records up to the
// limit are kept and returned.
func (h *History) Append(ctx context.Context, topic string, records []fetcher.MessageRecord) ([]fetcher.MessageRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	existing, err := h.Get(ctx, topic)
	if err != nil {
		return nil, err
	}

	merged := make([]fetcher.MessageRecord, 0, len(existing)+len(records))
	index := make(map[position]int, len(existing)+len(records))
	for _, r := range append(existing, records...) {
		pos := position{partition: r.Partition, offset: r.Offset}
		if i, ok := index[pos]; ok {
			merged[i] = r
			continue
		}
		index[pos] = len(merged)
		merged = append(merged, r)
	}

	fetcher.SortRecent(merged)
	if len(merged) > h.limit {
		merged = merged[:h.limit]
	}

	raw, err := encodeHistory(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode history for %s: %w", topic, err)
	}
	if err := h.store.Set(ctx, BucketMessages, topic, raw); err != nil {
		return nil, err
	}
	return merged, nil
}

// Clear removes the history of topic
func (h *History) Clear(ctx context.Context, topic string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.Delete(ctx, BucketMessages, topic)
}
