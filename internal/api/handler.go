package api

import (
	"KafkaScope/internal/aggregator"
	"KafkaScope/internal/cluster"
	"KafkaScope/internal/fetcher"
	"KafkaScope/internal/logger"
	"KafkaScope/internal/metrics"
	"KafkaScope/internal/offsets"
	"KafkaScope/internal/storage"
	kafkaclient "KafkaScope/pkg/kafka"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kerr"
	"net/http"
	"strconv"
)

// Session is the per-cluster surface the handlers use
type Session interface {
	GroupReport(ctx context.Context, topic string) ([]cluster.GroupReportRow, error)
	TopicReport(ctx context.Context) (map[string]aggregator.State, error)
	RecentMessages(ctx context.Context, topic string, n int64) ([]fetcher.MessageRecord, error)
	LiveMessages(ctx context.Context, topic string, n int64) (Stream, error)
	MessageHistory(ctx context.Context, topic string) ([]fetcher.MessageRecord, error)
	ListTopics(ctx context.Context) ([]cluster.TopicSummary, error)
	TopicWatermarks(ctx context.Context) (map[string]offsets.WatermarkPair, error)
	CommitLatest(ctx context.Context, group, topic string) ([]kafkaclient.TopicPartitionOffset, error)
	SeekEarliest(ctx context.Context, group, topic string) ([]kafkaclient.TopicPartitionOffset, error)
	CreateTopic(ctx context.Context, name string, partitions int32, replicationFactor int16) error
	DeleteTopic(ctx context.Context, name string) error
	DeleteGroup(ctx context.Context, group string) error
	SendMessage(ctx context.Context, topic string, key, value []byte, headers []kafkaclient.Header) (kafkaclient.TopicPartitionOffset, error)
	StartAutosend(req cluster.AutosendRequest) (string, error)
	StopAutosend(id string) error
	Autosends() []cluster.AutosendInfo
}

// Stream is a running live tail
type Stream interface {
	Records() <-chan fetcher.MessageRecord
	Err() error
}

// Clusters resolves cluster names to sessions
type Clusters interface {
	// Session returns the named session; an empty name selects the default
	Session(name string) (Session, error)
	List() []cluster.ClusterInfo
	Add(ctx context.Context, config cluster.ConfigCluster) error
	Remove(ctx context.Context, name string) error
}

// Handler serves the HTTP API
type Handler struct {
	clusters Clusters
	store    storage.Store
	config   interface{}
	log      zerolog.Logger
}

// NewHandler creates the API handler. store may be nil, which disables the
// store routes. config is served as is by /api/v1/config.
func NewHandler(clusters Clusters, store storage.Store, config interface{}) *Handler {
	return &Handler{
		clusters: clusters,
		store:    store,
		config:   config,
		log:      logger.WithComponent("api"),
	}
}

// Routes returns the API routes wrapped in recovery and request logging
func (h *Handler) Routes(metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", HealthHandler)
	mux.HandleFunc("GET /ready", ReadyHandler(h.clusters))
	mux.Handle("GET "+metricsPath, promhttp.HandlerFor(metrics.Gatherer(), promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/v1/config", ConfigHandler(h.config))

	mux.HandleFunc("GET /api/v1/clusters", h.ListClusters)
	mux.HandleFunc("POST /api/v1/clusters", h.AddCluster)
	mux.HandleFunc("DELETE /api/v1/clusters/{name}", h.RemoveCluster)

	mux.HandleFunc("GET /api/v1/groups", h.GroupReport)
	mux.HandleFunc("DELETE /api/v1/groups/{group}", h.DeleteGroup)
	mux.HandleFunc("POST /api/v1/groups/{group}/offsets", h.ResetOffsets)

	mux.HandleFunc("GET /api/v1/topics", h.ListTopics)
	mux.HandleFunc("POST /api/v1/topics", h.CreateTopic)
	mux.HandleFunc("GET /api/v1/topics/state", h.TopicReport)
	mux.HandleFunc("GET /api/v1/topics/watermarks", h.TopicWatermarks)
	mux.HandleFunc("DELETE /api/v1/topics/{topic}", h.DeleteTopic)
	mux.HandleFunc("GET /api/v1/topics/{topic}/messages", h.RecentMessages)
	mux.HandleFunc("POST /api/v1/topics/{topic}/messages", h.SendMessage)
	mux.HandleFunc("GET /api/v1/topics/{topic}/live", h.LiveMessages)
	mux.HandleFunc("GET /api/v1/topics/{topic}/history", h.MessageHistory)
	mux.HandleFunc("POST /api/v1/topics/{topic}/autosend", h.StartAutosend)
	mux.HandleFunc("GET /api/v1/autosend", h.ListAutosends)
	mux.HandleFunc("DELETE /api/v1/autosend/{id}", h.StopAutosend)

	mux.HandleFunc("GET /api/v1/store/{bucket}", h.ListStore)
	mux.HandleFunc("GET /api/v1/store/{bucket}/{key}", h.GetStore)
	mux.HandleFunc("PUT /api/v1/store/{bucket}/{key}", h.SetStore)
	mux.HandleFunc("DELETE /api/v1/store/{bucket}/{key}", h.DeleteStore)

	chain := Chain(
		Recovery(logger.WithComponent("http.middleware")),
		Logging(logger.WithComponent("http.middleware")),
	)
	return chain(mux)
}

// ConfigHandler GET /api/v1/config
func ConfigHandler(config interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, config)
	}
}

// session resolves the ?cluster= parameter, writing the error response when
// it cannot
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (Session, bool) {
	s, err := h.clusters.Session(r.URL.Query().Get("cluster"))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return s, true
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", cluster.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// statusFor maps an operation error to its response status. Anything not
// recognized is a failed broker interaction.
func statusFor(err error) int {
	switch {
	case errors.Is(err, cluster.ErrInvalidArgument),
		errors.Is(err, storage.ErrUnknownBucket),
		errors.Is(err, storage.ErrEmptyKey):
		return http.StatusBadRequest
	case errors.Is(err, kafkaclient.ErrUnknownTopic),
		errors.Is(err, kerr.UnknownTopicOrPartition),
		errors.Is(err, kerr.GroupIDNotFound),
		errors.Is(err, cluster.ErrClusterNotFound),
		errors.Is(err, cluster.ErrAutosendNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, cluster.ErrClusterExists),
		errors.Is(err, kerr.TopicAlreadyExists),
		errors.Is(err, kerr.NonEmptyGroup):
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	}
	writeJSONStatus(w, status, errorBody{Error: err.Error()})
}

// countParam parses a non-negative integer query parameter
func countParam(r *http.Request, name string, fallback int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, badRequest("%s must be a non-negative integer, got %q", name, raw)
	}
	return n, nil
}

// managerClusters exposes a cluster.Manager to the handlers
type managerClusters struct {
	manager *cluster.Manager
}

// NewManagerClusters adapts manager to the Clusters interface
func NewManagerClusters(manager *cluster.Manager) Clusters {
	return &managerClusters{manager: manager}
}

func (m *managerClusters) Session(name string) (Session, error) {
	s, ok := m.manager.GetCluster(name)
	if !ok {
		if name == "" {
			return nil, fmt.Errorf("%w: no cluster connected", cluster.ErrClusterNotFound)
		}
		return nil, fmt.Errorf("%w: %s", cluster.ErrClusterNotFound, name)
	}
	return sessionAdapter{s}, nil
}

func (m *managerClusters) List() []cluster.ClusterInfo {
	return m.manager.GetAllClusters()
}

func (m *managerClusters) Add(ctx context.Context, config cluster.ConfigCluster) error {
	return m.manager.AddCluster(ctx, config, true)
}

func (m *managerClusters) Remove(ctx context.Context, name string) error {
	return m.manager.RemoveCluster(ctx, name)
}

// sessionAdapter narrows the live stream of a session to the Stream interface
type sessionAdapter struct {
	*cluster.Session
}

func (s sessionAdapter) LiveMessages(ctx context.Context, topic string, n int64) (Stream, error) {
	stream, err := s.Session.LiveMessages(ctx, topic, n)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
