package api

import (
	"KafkaScope/internal/cluster"
	kafkaclient "KafkaScope/pkg/kafka"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// DefaultMessageCount is the number of messages returned when n is not given
const DefaultMessageCount = 20

// CreateTopicRequest is the body of POST /api/v1/topics
type CreateTopicRequest struct {
	Name              string `json:"name"`
	Partitions        int32  `json:"partitions"`
	ReplicationFactor int16  `json:"replication_factor"`
}

// SendMessageRequest is the body of POST /api/v1/topics/{topic}/messages.
// Key and value may be JSON strings, sent as their text, or any other JSON
// value, sent in compact form.
type SendMessageRequest struct {
	Key     json.RawMessage   `json:"key"`
	Value   json.RawMessage   `json:"value"`
	Headers map[string]string `json:"headers"`
}

// AutosendRequest is the body of POST /api/v1/topics/{topic}/autosend
type AutosendRequest struct {
	SendMessageRequest
	Interval string `json:"interval"`
	Duration string `json:"duration"`
}

// ListTopics GET /api/v1/topics
func (h *Handler) ListTopics(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	topics, err := s.ListTopics(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, topics)
}

// CreateTopic POST /api/v1/topics
func (h *Handler) CreateTopic(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req CreateTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, badRequest("invalid request body: %v", err))
		return
	}

	if err := s.CreateTopic(r.Context(), req.Name, req.Partitions, req.ReplicationFactor); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]string{"name": req.Name})
}

// DeleteTopic DELETE /api/v1/topics/{topic}
func (h *Handler) DeleteTopic(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := s.DeleteTopic(r.Context(), r.PathValue("topic")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TopicReport GET /api/v1/topics/state
func (h *Handler) TopicReport(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	states, err := s.TopicReport(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, states)
}

// TopicWatermarks GET /api/v1/topics/watermarks
func (h *Handler) TopicWatermarks(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	watermarks, err := s.TopicWatermarks(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, watermarks)
}

// RecentMessages GET /api/v1/topics/{topic}/messages?n=
func (h *Handler) RecentMessages(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	n, err := countParam(r, "n", DefaultMessageCount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	records, err := s.RecentMessages(r.Context(), r.PathValue("topic"), n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, records)
}

// MessageHistory GET /api/v1/topics/{topic}/history
func (h *Handler) MessageHistory(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	records, err := s.MessageHistory(r.Context(), r.PathValue("topic"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, records)
}

// LiveMessages GET /api/v1/topics/{topic}/live?n= - server-sent events until
// the client goes away
func (h *Handler) LiveMessages(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	n, err := countParam(r, "n", DefaultMessageCount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONStatus(w, http.StatusInternalServerError, errorBody{Error: "streaming is not supported by this connection"})
		return
	}

	stream, err := s.LiveMessages(r.Context(), r.PathValue("topic"), n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Records is closed once the stream has stopped, including on disconnect
	for rec := range stream.Records() {
		if err := writeEvent(w, "message", rec); err != nil {
			continue
		}
		flusher.Flush()
	}

	if err := stream.Err(); err != nil {
		_ = writeEvent(w, "error", errorBody{Error: err.Error()})
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// SendMessage POST /api/v1/topics/{topic}/messages
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, badRequest("invalid request body: %v", err))
		return
	}

	key, value, headers, err := req.record()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	delivered, err := s.SendMessage(r.Context(), r.PathValue("topic"), key, value, headers)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, delivered)
}

// StartAutosend POST /api/v1/topics/{topic}/autosend
func (h *Handler) StartAutosend(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req AutosendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, badRequest("invalid request body: %v", err))
		return
	}

	key, value, headers, err := req.record()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	interval, err := time.ParseDuration(req.Interval)
	if err != nil {
		h.writeError(w, r, badRequest("invalid interval %q", req.Interval))
		return
	}
	duration, err := time.ParseDuration(req.Duration)
	if err != nil {
		h.writeError(w, r, badRequest("invalid duration %q", req.Duration))
		return
	}

	id, err := s.StartAutosend(cluster.AutosendRequest{
		Topic:    r.PathValue("topic"),
		Key:      key,
		Value:    value,
		Headers:  headers,
		Interval: interval,
		Duration: duration,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"id": id})
}

// ListAutosends GET /api/v1/autosend
func (h *Handler) ListAutosends(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, s.Autosends())
}

// StopAutosend DELETE /api/v1/autosend/{id}
func (h *Handler) StopAutosend(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := s.StopAutosend(r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (req SendMessageRequest) record() (key, value []byte, headers []kafkaclient.Header, err error) {
	if key, err = payloadBytes(req.Key); err != nil {
		return nil, nil, nil, badRequest("invalid key: %v", err)
	}
	if value, err = payloadBytes(req.Value); err != nil {
		return nil, nil, nil, badRequest("invalid value: %v", err)
	}

	names := make([]string, 0, len(req.Headers))
	for name := range req.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		headers = append(headers, kafkaclient.Header{Key: name, Value: []byte(req.Headers[name])})
	}
	return key, value, headers, nil
}

// payloadBytes turns a JSON field into record bytes: absent or null is no
// payload, a string is its text, anything else is compacted JSON
func payloadBytes(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []byte(text), nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
