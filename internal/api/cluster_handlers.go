package api

import (
	"KafkaScope/internal/cluster"
	"encoding/json"
	"net/http"
)

// ListClusters GET /api/v1/clusters
func (h *Handler) ListClusters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.clusters.List())
}

// AddCluster POST /api/v1/clusters - connect and save the connection
func (h *Handler) AddCluster(w http.ResponseWriter, r *http.Request) {
	var config cluster.ConfigCluster
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		h.writeError(w, r, badRequest("invalid request body: %v", err))
		return
	}
	// a cluster added over the API is always meant to be used
	config.Enabled = true

	if err := h.clusters.Add(r.Context(), config); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]string{"name": config.Name})
}

// RemoveCluster DELETE /api/v1/clusters/{name}
func (h *Handler) RemoveCluster(w http.ResponseWriter, r *http.Request) {
	if err := h.clusters.Remove(r.Context(), r.PathValue("name")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GroupReport GET /api/v1/groups?topic=
func (h *Handler) GroupReport(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	rows, err := s.GroupReport(r.Context(), r.URL.Query().Get("topic"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, rows)
}

// DeleteGroup DELETE /api/v1/groups/{group}
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := s.DeleteGroup(r.Context(), r.PathValue("group")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetOffsets POST /api/v1/groups/{group}/offsets?topic=&to=latest|earliest
func (h *Handler) ResetOffsets(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	group := r.PathValue("group")
	topic := r.URL.Query().Get("topic")

	var (
		commits interface{}
		err     error
	)
	switch to := r.URL.Query().Get("to"); to {
	case "", "latest":
		commits, err = s.CommitLatest(r.Context(), group, topic)
	case "earliest":
		commits, err = s.SeekEarliest(r.Context(), group, topic)
	default:
		err = badRequest("to must be latest or earliest, got %q", to)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, commits)
}
