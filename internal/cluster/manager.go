package cluster

import (
	"KafkaScope/internal/logger"
	"KafkaScope/internal/metrics"
	"KafkaScope/internal/storage"
	kafkaclient "KafkaScope/pkg/kafka"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"sort"
	"strings"
	"sync"
	"time"
)

// settings key prefix of saved cluster connections
const connectionKeyPrefix = "cluster/"

var (
	// ErrClusterNotFound is returned for a cluster name with no open session
	ErrClusterNotFound = errors.New("cluster not found")
	// ErrClusterExists is returned when adding a cluster name twice
	ErrClusterExists = errors.New("cluster already exists")
)

// ConfigCluster represents the connection settings of a single Kafka cluster
type ConfigCluster struct {
	Name           string                  `yaml:"name" json:"name"`
	Enabled        bool                    `yaml:"enabled" json:"enabled"`
	Brokers        []string                `yaml:"brokers" json:"brokers"`
	SASL           *kafkaclient.SASLConfig `yaml:"sasl,omitempty" json:"sasl,omitempty"`
	MaxConcurrency int                     `yaml:"max_concurrency,omitempty" json:"max_concurrency,omitempty"`
}

func (c ConfigCluster) validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: cluster name is required", ErrInvalidArgument)
	}
	if strings.Contains(c.Name, "/") {
		return fmt.Errorf("%w: cluster name %q must not contain '/'", ErrInvalidArgument, c.Name)
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("%w: cluster %s has no brokers", ErrInvalidArgument, c.Name)
	}
	return nil
}

func (c ConfigCluster) kafkaConfig(opts Options) *kafkaclient.Config {
	return &kafkaclient.Config{
		Brokers:         c.Brokers,
		SASL:            c.SASL,
		RequestTimeout:  opts.RequestTimeout,
		MetadataTimeout: opts.MetadataTimeout,
	}
}

// ClusterInfo summarizes an open session
type ClusterInfo struct {
	Name     string    `json:"name"`
	Brokers  []string  `json:"brokers"`
	Default  bool      `json:"default"`
	OpenedAt time.Time `json:"opened_at"`
}

// openFunc opens a session; tests replace it
type openFunc func(ctx context.Context, cc ConfigCluster, opts Options, history *storage.History) (*Session, error)

// Manager manages the sessions of several Kafka clusters
type Manager struct {
	sessions    map[string]*Session
	sessionsMu  sync.RWMutex
	defaultName string
	options     Options
	store       storage.Store
	history     *storage.History
	open        openFunc
	log         zerolog.Logger
}

// NewManager creates a new cluster manager. store may be nil, in which case
// connections are not saved and no message history is kept.
func NewManager(options Options, store storage.Store, historySize int) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		options:  options,
		store:    store,
		open:     Open,
		log:      logger.WithComponent("cluster-manager"),
	}
	if store != nil {
		m.history = storage.NewHistory(store, historySize)
	}
	return m
}

// AddCluster opens a session for config. When save is set and a store is
// configured, the connection is saved so RestoreClusters reopens it.
func (m *Manager) AddCluster(ctx context.Context, config ConfigCluster, save bool) error {
	if !config.Enabled {
		m.log.Info().Str("cluster", config.Name).Msg("cluster is disabled, skipping")
		return nil
	}
	if err := config.validate(); err != nil {
		return err
	}

	m.sessionsMu.RLock()
	_, exists := m.sessions[config.Name]
	m.sessionsMu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", ErrClusterExists, config.Name)
	}

	opts := m.options
	if config.MaxConcurrency > 0 {
		opts.Aggregator.MaxConcurrency = config.MaxConcurrency
	}

	session, err := m.open(ctx, config, opts, m.history)
	if err != nil {
		return fmt.Errorf("failed to open session for cluster %s: %w", config.Name, err)
	}

	m.sessionsMu.Lock()
	if _, exists := m.sessions[config.Name]; exists {
		m.sessionsMu.Unlock()
		session.Close()
		return fmt.Errorf("%w: %s", ErrClusterExists, config.Name)
	}
	m.sessions[config.Name] = session
	if m.defaultName == "" {
		m.defaultName = config.Name
	}
	m.sessionsMu.Unlock()

	if save && m.store != nil {
		if err := m.saveConnection(ctx, config); err != nil {
			m.log.Warn().Err(err).Str("cluster", config.Name).Msg("failed to save connection")
		}
	}

	m.log.Info().Str("cluster", config.Name).Int("brokers", len(config.Brokers)).Msg("added cluster")
	return nil
}

// RemoveCluster closes the session of a cluster and forgets its saved connection
func (m *Manager) RemoveCluster(ctx context.Context, clusterName string) error {
	m.sessionsMu.Lock()
	session, exists := m.sessions[clusterName]
	if !exists {
		m.sessionsMu.Unlock()
		return fmt.Errorf("%w: %s", ErrClusterNotFound, clusterName)
	}
	delete(m.sessions, clusterName)
	if m.defaultName == clusterName {
		m.defaultName = firstName(m.sessions)
	}
	m.sessionsMu.Unlock()

	session.Close()
	metrics.DropClientMetrics(clusterName)

	if m.store != nil {
		if err := m.store.Delete(ctx, storage.BucketSettings, connectionKeyPrefix+clusterName); err != nil {
			m.log.Warn().Err(err).Str("cluster", clusterName).Msg("failed to forget saved connection")
		}
	}

	m.log.Info().Str("cluster", clusterName).Msg("removed cluster")
	return nil
}

// GetCluster returns the session of a cluster. An empty name selects the
// default cluster, the first one added.
func (m *Manager) GetCluster(clusterName string) (*Session, bool) {
	m.sessionsMu.RLock()
	defer m.sessionsMu.RUnlock()

	if clusterName == "" {
		clusterName = m.defaultName
	}
	s, exists := m.sessions[clusterName]
	return s, exists
}

// GetAllClusters returns every open cluster, sorted by name
func (m *Manager) GetAllClusters() []ClusterInfo {
	m.sessionsMu.RLock()
	defer m.sessionsMu.RUnlock()

	result := make([]ClusterInfo, 0, len(m.sessions))
	for name, s := range m.sessions {
		result = append(result, ClusterInfo{
			Name:     name,
			Brokers:  s.config.Brokers,
			Default:  name == m.defaultName,
			OpenedAt: s.openedAt,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// RestoreClusters reopens every connection saved in the store. A connection
// that cannot be opened is logged and skipped.
func (m *Manager) RestoreClusters(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	entries, err := m.store.List(ctx, storage.BucketSettings)
	if err != nil {
		return fmt.Errorf("failed to load saved connections: %w", err)
	}

	names := make([]string, 0, len(entries))
	for key := range entries {
		if strings.HasPrefix(key, connectionKeyPrefix) {
			names = append(names, key)
		}
	}
	sort.Strings(names)

	for _, key := range names {
		var config ConfigCluster
		if err := json.Unmarshal(entries[key], &config); err != nil {
			m.log.Warn().Err(err).Str("key", key).Msg("ignoring malformed saved connection")
			continue
		}
		if _, exists := m.GetCluster(config.Name); exists {
			continue
		}
		if err := m.AddCluster(ctx, config, false); err != nil {
			m.log.Warn().Err(err).Str("cluster", config.Name).Msg("failed to restore saved connection")
		}
	}
	return nil
}

func (m *Manager) saveConnection(ctx context.Context, config ConfigCluster) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode connection: %w", err)
	}
	return m.store.Set(ctx, storage.BucketSettings, connectionKeyPrefix+config.Name, raw)
}

// Stop closes every session
func (m *Manager) Stop() {
	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()

	for name, s := range m.sessions {
		s.Close()
		metrics.DropClientMetrics(name)
	}
	m.sessions = make(map[string]*Session)
	m.defaultName = ""

	m.log.Info().Msg("cluster manager stopped")
}

func firstName(sessions map[string]*Session) string {
	names := make([]string, 0, len(sessions))
	for name := range sessions {
		names = append(names, name)
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[0]
}
