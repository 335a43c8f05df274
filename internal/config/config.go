package config

import (
	"KafkaScope/internal/aggregator"
	"KafkaScope/internal/cluster"
	"KafkaScope/internal/fetcher"
	"KafkaScope/internal/logger"
	"KafkaScope/internal/storage"
	kafkaclient "KafkaScope/pkg/kafka"
	"fmt"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
	"os"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "KAFKASCOPE_"

// DefaultSelfGroupSuffix marks the group ids of our own connections so group
// reports leave them out
const DefaultSelfGroupSuffix = "kafkascope"

// DefaultClusterName names the cluster built from the kafka section when no
// clusters are listed
const DefaultClusterName = "default"

const redacted = "******"

// Config represents the application configuration
type Config struct {
	Kafka      KafkaConfig             `yaml:"kafka" json:"kafka" envPrefix:"KAFKA_"`
	Clusters   []cluster.ConfigCluster `yaml:"clusters" json:"clusters"`
	Fetch      fetcher.Config          `yaml:"fetch" json:"fetch" envPrefix:"FETCH_"`
	Aggregator aggregator.Config       `yaml:"aggregator" json:"aggregator" envPrefix:"AGGREGATOR_"`
	HTTP       HTTPConfig              `yaml:"http" json:"http" envPrefix:"HTTP_"`
	Storage    storage.Config          `yaml:"storage" json:"storage" envPrefix:"STORAGE_"`
	Logging    logger.Config           `yaml:"logging" json:"logging" envPrefix:"LOG_"`
}

// KafkaConfig holds the client settings shared by every cluster. Brokers
// alone describe a single cluster when no clusters are listed.
type KafkaConfig struct {
	Brokers         []string               `yaml:"brokers" json:"brokers" env:"BROKERS" envSeparator:","`
	SASL            kafkaclient.SASLConfig `yaml:"sasl" json:"sasl" envPrefix:"SASL_"`
	SelfGroupSuffix string                 `yaml:"self_group_suffix" json:"self_group_suffix" env:"SELF_GROUP_SUFFIX"`
	RequestTimeout  time.Duration          `yaml:"request_timeout" json:"request_timeout" env:"REQUEST_TIMEOUT"`
	MetadataTimeout time.Duration          `yaml:"metadata_timeout" json:"metadata_timeout" env:"METADATA_TIMEOUT"`
}

// HTTPConfig holds the API server settings. WriteTimeout stays zero by
// default so live streams are not cut off.
type HTTPConfig struct {
	Address      string        `yaml:"address" json:"address" env:"ADDRESS"`
	MetricsPath  string        `yaml:"metrics_path" json:"metrics_path" env:"METRICS_PATH"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout" env:"IDLE_TIMEOUT"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Kafka: KafkaConfig{
			Brokers:         []string{"localhost:9092"},
			SelfGroupSuffix: DefaultSelfGroupSuffix,
			RequestTimeout:  10 * time.Second,
			MetadataTimeout: 30 * time.Second,
		},
		Fetch: fetcher.DefaultConfig(),
		HTTP: HTTPConfig{
			Address:     ":8080",
			MetricsPath: "/metrics",
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 120 * time.Second,
		},
		Storage: storage.Config{
			Backend:     "pebble",
			Dir:         "./data",
			HistorySize: storage.DefaultHistorySize,
			Redis: storage.RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "kafkascope:",
			},
		},
		Logging: logger.Config{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
		},
	}
}

// Load builds the configuration from the defaults, then the YAML file at
// path when one is given, then KAFKASCOPE_ environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// clusters only come from the file
	clusters := cfg.Clusters
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}
	cfg.Clusters = clusters

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Clusters) == 0 && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("no kafka brokers or clusters configured")
	}

	names := make(map[string]bool, len(c.Clusters))
	for _, cc := range c.Clusters {
		if cc.Name == "" {
			return fmt.Errorf("cluster name cannot be empty")
		}
		if names[cc.Name] {
			return fmt.Errorf("duplicate cluster name: %s", cc.Name)
		}
		names[cc.Name] = true
		if cc.Enabled && len(cc.Brokers) == 0 {
			return fmt.Errorf("cluster %s has no brokers", cc.Name)
		}
	}

	if c.Kafka.SASL.Mechanism != "" {
		switch strings.ToUpper(c.Kafka.SASL.Mechanism) {
		case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			return fmt.Errorf("unsupported SASL mechanism: %s", c.Kafka.SASL.Mechanism)
		}
	}

	if c.Fetch.SeekAttempts < 1 {
		return fmt.Errorf("fetch seek attempts must be at least 1")
	}
	if c.Fetch.Deadline.InitialWait <= 0 || c.Fetch.Deadline.IdleWait <= 0 {
		return fmt.Errorf("fetch waits must be positive")
	}
	if c.Aggregator.MaxConcurrency < 0 {
		return fmt.Errorf("aggregator max concurrency cannot be negative")
	}

	if c.HTTP.Address == "" {
		return fmt.Errorf("http server address cannot be empty")
	}
	if !strings.HasPrefix(c.HTTP.MetricsPath, "/") {
		return fmt.Errorf("metrics path must start with /: %q", c.HTTP.MetricsPath)
	}

	switch c.Storage.Backend {
	case "", "none", "pebble", "redis":
	default:
		return fmt.Errorf("invalid storage backend: %s", c.Storage.Backend)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// StorageEnabled reports whether a settings store should be opened
func (c *Config) StorageEnabled() bool {
	return c.Storage.Backend != "none"
}

// ClusterConfigs returns the clusters to connect on startup. The kafka
// section stands in as a single cluster when none are listed. Clusters
// without their own SASL settings inherit the kafka section's.
func (c *Config) ClusterConfigs() []cluster.ConfigCluster {
	var sasl *kafkaclient.SASLConfig
	if c.Kafka.SASL.Mechanism != "" {
		shared := c.Kafka.SASL
		sasl = &shared
	}

	if len(c.Clusters) == 0 {
		return []cluster.ConfigCluster{{
			Name:    DefaultClusterName,
			Enabled: true,
			Brokers: c.Kafka.Brokers,
			SASL:    sasl,
		}}
	}

	clusters := make([]cluster.ConfigCluster, len(c.Clusters))
	for i, cc := range c.Clusters {
		if cc.SASL == nil {
			cc.SASL = sasl
		}
		clusters[i] = cc
	}
	return clusters
}

// ClusterOptions returns the settings shared by every cluster session
func (c *Config) ClusterOptions() cluster.Options {
	return cluster.Options{
		SelfGroupSuffix: c.Kafka.SelfGroupSuffix,
		RequestTimeout:  c.Kafka.RequestTimeout,
		MetadataTimeout: c.Kafka.MetadataTimeout,
		Aggregator:      c.Aggregator,
		Fetch:           c.Fetch,
	}
}

// Redacted returns a copy safe to serve, with every secret masked
func (c *Config) Redacted() *Config {
	out := *c

	if out.Kafka.SASL.Password != "" {
		out.Kafka.SASL.Password = redacted
	}
	if out.Storage.Redis.Password != "" {
		out.Storage.Redis.Password = redacted
	}

	out.Clusters = make([]cluster.ConfigCluster, len(c.Clusters))
	for i, cc := range c.Clusters {
		if cc.SASL != nil && cc.SASL.Password != "" {
			sasl := *cc.SASL
			sasl.Password = redacted
			cc.SASL = &sasl
		}
		out.Clusters[i] = cc
	}
	return &out
}
