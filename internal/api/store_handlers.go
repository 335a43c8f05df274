package api

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
)

// maximum accepted size of a stored value
const maxStoreValueSize = 1 << 20

// StoreEntry is one key of a bucket. Value is the stored JSON document, or a
// JSON string when the stored bytes are not JSON.
type StoreEntry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func storeValue(raw []byte) json.RawMessage {
	if json.Valid(raw) {
		return raw
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}

func (h *Handler) storeEnabled(w http.ResponseWriter) bool {
	if h.store == nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, errorBody{Error: "no store configured"})
		return false
	}
	return true
}

// ListStore GET /api/v1/store/{bucket}
func (h *Handler) ListStore(w http.ResponseWriter, r *http.Request) {
	if !h.storeEnabled(w) {
		return
	}

	entries, err := h.store.List(r.Context(), r.PathValue("bucket"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result := make([]StoreEntry, 0, len(entries))
	for key, value := range entries {
		result = append(result, StoreEntry{Key: key, Value: storeValue(value)})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	writeJSON(w, result)
}

// GetStore GET /api/v1/store/{bucket}/{key}
func (h *Handler) GetStore(w http.ResponseWriter, r *http.Request) {
	if !h.storeEnabled(w) {
		return
	}

	key := r.PathValue("key")
	value, err := h.store.Get(r.Context(), r.PathValue("bucket"), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, StoreEntry{Key: key, Value: storeValue(value)})
}

// SetStore PUT /api/v1/store/{bucket}/{key} - the body is stored as is
func (h *Handler) SetStore(w http.ResponseWriter, r *http.Request) {
	if !h.storeEnabled(w) {
		return
	}

	value, err := io.ReadAll(io.LimitReader(r.Body, maxStoreValueSize+1))
	if err != nil {
		h.writeError(w, r, badRequest("failed to read body: %v", err))
		return
	}
	if len(value) > maxStoreValueSize {
		h.writeError(w, r, badRequest("value exceeds %d bytes", maxStoreValueSize))
		return
	}

	if err := h.store.Set(r.Context(), r.PathValue("bucket"), r.PathValue("key"), value); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteStore DELETE /api/v1/store/{bucket}/{key}
func (h *Handler) DeleteStore(w http.ResponseWriter, r *http.Request) {
	if !h.storeEnabled(w) {
		return
	}

	if err := h.store.Delete(r.Context(), r.PathValue("bucket"), r.PathValue("key")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

