package fetcher

import (
	kafkaclient "KafkaScope/pkg/kafka"
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"
)

// Payload is a decoded key, value or header value. Bytes holding a JSON
// document are kept as that document; anything else is kept as text.
type Payload struct {
	Text       string
	Structured json.RawMessage
}

// DecodePayload decodes b as UTF-8 and then tries to read it as JSON. It never
// fails: invalid UTF-8 is replaced and non-JSON text is kept verbatim. A nil
// slice means the field was absent and yields nil.
func DecodePayload(b []byte) *Payload {
	if b == nil {
		return nil
	}

	text := string(b)
	if !utf8.Valid(b) {
		text = strings.ToValidUTF8(text, "\uFFFD")
	}

	p := &Payload{Text: text}
	if trimmed := strings.TrimSpace(text); trimmed != "" && json.Valid([]byte(trimmed)) {
		p.Structured = json.RawMessage(trimmed)
	}
	return p
}

// IsStructured reports whether the payload parsed as JSON
func (p *Payload) IsStructured() bool {
	return p != nil && p.Structured != nil
}

func (p *Payload) String() string {
	if p == nil {
		return ""
	}
	return p.Text
}

// MarshalJSON emits the parsed document, or the text as a JSON string
func (p *Payload) MarshalJSON() ([]byte, error) {
	if p.Structured != nil {
		return p.Structured, nil
	}
	return json.Marshal(p.Text)
}

// MessageRecord is one decoded message
type MessageRecord struct {
	Key       *Payload            `json:"key"`
	Value     *Payload            `json:"value"`
	Headers   map[string]*Payload `json:"headers,omitempty"`
	Offset    int64               `json:"offset"`
	Partition int32               `json:"partition"`
	// Timestamp is in milliseconds since the epoch
	Timestamp int64 `json:"timestamp"`
}

// NewRecord decodes a message. Headers repeated under one key keep the last
// value.
func NewRecord(msg *kafkaclient.Message) MessageRecord {
	r := MessageRecord{
		Key:       DecodePayload(msg.Key),
		Value:     DecodePayload(msg.Value),
		Offset:    msg.Offset,
		Partition: msg.Partition,
	}
	if !msg.Timestamp.IsZero() {
		r.Timestamp = msg.Timestamp.UnixMilli()
	}
	if len(msg.Headers) > 0 {
		r.Headers = make(map[string]*Payload, len(msg.Headers))
		for _, h := range msg.Headers {
			r.Headers[h.Key] = DecodePayload(h.Value)
		}
	}
	return r
}

// SortRecent orders records newest first: timestamp descending, then offset
// descending
func SortRecent(records []MessageRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp != records[j].Timestamp {
			return records[i].Timestamp > records[j].Timestamp
		}
		return records[i].Offset > records[j].Offset
	})
}
