package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/twmb/franz-go/plugin/kprom"
	"sync"
)

var (
	// ConsumerGroupMembers is the number of members in a consumer group
	ConsumerGroupMembers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_group_members",
			Help: "Number of members in a consumer group",
		},
		[]string{"cluster", "consumer_group"},
	)

	// ConsumerGroupState is the activity of a consumer group: 0 unconnected, 1 disconnected, 2 consuming
	ConsumerGroupState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_group_activity",
			Help: "Activity of a consumer group (0=unconnected, 1=disconnected, 2=consuming)",
		},
		[]string{"cluster", "consumer_group"},
	)

	// TopicState is the activity of a topic: 0 unconnected, 1 disconnected, 2 consuming
	TopicState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_topic_activity",
			Help: "Activity of a topic (0=unconnected, 1=disconnected, 2=consuming)",
		},
		[]string{"cluster", "topic"},
	)

	// AggregationDuration is the time taken by one group or topic report
	AggregationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafkascope_aggregation_duration_seconds",
			Help:    "Time taken to build a group or topic report",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scope"},
	)

	// AggregationErrors is the total number of failed reports
	AggregationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafkascope_aggregation_errors_total",
			Help: "Total number of failed group or topic reports",
		},
		[]string{"scope"},
	)

	// GroupsProbed is the total number of groups probed with a dedicated connection
	GroupsProbed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafkascope_groups_probed_total",
			Help: "Total number of consumer groups probed",
		},
		[]string{"scope"},
	)

	// ProbeConnections is the number of per-query connections currently open
	ProbeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kafkascope_probe_connections",
			Help: "Number of per-query broker connections currently open",
		},
	)

	// SeekRetries is the total number of seeks retried after a transient state error
	SeekRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kafkascope_seek_retries_total",
			Help: "Total number of seeks retried after a transient state error",
		},
	)

	// MessagesFetched is the total number of messages read, by fetch mode
	MessagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafkascope_messages_fetched_total",
			Help: "Total number of messages read from topics",
		},
		[]string{"mode"},
	)

	// LiveStreams is the number of live tails currently running
	LiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kafkascope_live_streams",
			Help: "Number of live message streams currently running",
		},
	)

	// StoreOperations is the total number of key-value store operations
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafkascope_store_operations_total",
			Help: "Total number of key-value store operations",
		},
		[]string{"backend", "operation", "result"},
	)

	// HTTPRequestDuration is the latency of API requests
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafkascope_http_request_duration_seconds",
			Help:    "Latency of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)

var (
	clientMu         sync.Mutex
	clientRegistries = make(map[string]*prometheus.Registry)
)

// NewClientMetrics returns franz-go client hooks for the client of one
// cluster. Each call starts a fresh registry for that cluster, replacing the
// previous one, so a reconnect never registers the same collector twice.
func NewClientMetrics(cluster string) *kprom.Metrics {
	reg := prometheus.NewRegistry()

	clientMu.Lock()
	clientRegistries[cluster] = reg
	clientMu.Unlock()

	return kprom.NewMetrics("kafkascope_client",
		kprom.Registerer(prometheus.WrapRegistererWith(prometheus.Labels{"cluster": cluster}, reg)),
		kprom.Gatherer(reg),
	)
}

// DropClientMetrics stops exposing the client metrics of cluster
func DropClientMetrics(cluster string) {
	clientMu.Lock()
	defer clientMu.Unlock()
	delete(clientRegistries, cluster)
}

// Gatherer returns the default registry merged with every cluster client registry
func Gatherer() prometheus.Gatherer {
	return prometheus.GathererFunc(func() ([]*dto.MetricFamily, error) {
		clientMu.Lock()
		gatherers := prometheus.Gatherers{prometheus.DefaultGatherer}
		for _, reg := range clientRegistries {
			gatherers = append(gatherers, reg)
		}
		clientMu.Unlock()

		return gatherers.Gather()
	})
}
