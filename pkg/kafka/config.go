package kafka

import (
	"crypto/tls"
	"fmt"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
	"strings"
	"time"
)

// SASLConfig holds optional SASL credentials
type SASLConfig struct {
	Mechanism string `yaml:"mechanism" json:"mechanism" env:"MECHANISM"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username  string `yaml:"username" json:"username" env:"USERNAME"`
	Password  string `yaml:"password" json:"password" env:"PASSWORD"`
}

// Config holds Kafka client configuration
type Config struct {
	Brokers         []string
	SASL            *SASLConfig
	RequestTimeout  time.Duration
	MetadataTimeout time.Duration
}

func (c *Config) withDefaults() *Config {
	cfg := *c
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MetadataTimeout == 0 {
		cfg.MetadataTimeout = 30 * time.Second
	}
	return &cfg
}

// BootstrapServers returns the broker list in librdkafka form
func (c *Config) BootstrapServers() string {
	return strings.Join(c.Brokers, ",")
}

// consumerConfigMap builds the librdkafka configuration for a consumer bound
// to groupID. Auto commit is always off: probe consumers must never move a
// group's position on their own.
func (c *Config) consumerConfigMap(groupID string, clientID string) (*kafka.ConfigMap, error) {
	cm := &kafka.ConfigMap{
		"bootstrap.servers":        c.BootstrapServers(),
		"group.id":                 groupID,
		"client.id":                clientID,
		"enable.auto.commit":       false,
		"enable.auto.offset.store": false,
		"auto.offset.reset":        "earliest",
		"socket.timeout.ms":        int(c.RequestTimeout.Milliseconds()),
		"log_level":                4,
	}
	if err := c.applySASL(cm); err != nil {
		return nil, err
	}
	return cm, nil
}

func (c *Config) producerConfigMap() (*kafka.ConfigMap, error) {
	cm := &kafka.ConfigMap{
		"bootstrap.servers":  c.BootstrapServers(),
		"message.timeout.ms": 5000,
		"log_level":          4,
	}
	if err := c.applySASL(cm); err != nil {
		return nil, err
	}
	return cm, nil
}

func (c *Config) applySASL(cm *kafka.ConfigMap) error {
	if c.SASL == nil || c.SASL.Mechanism == "" {
		return nil
	}

	mechanism := strings.ToUpper(c.SASL.Mechanism)
	protocol := "SASL_SSL"
	if mechanism == "PLAIN" {
		protocol = "SASL_PLAINTEXT"
	}

	for key, value := range map[string]string{
		"security.protocol": protocol,
		"sasl.mechanism":    mechanism,
		"sasl.username":     c.SASL.Username,
		"sasl.password":     c.SASL.Password,
	} {
		if err := cm.SetKey(key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

// franzOpts builds the franz-go client options matching this configuration
func (c *Config) franzOpts() ([]kgo.Opt, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(c.Brokers...),
		kgo.RequestTimeoutOverhead(c.RequestTimeout),
	}

	if c.SASL == nil || c.SASL.Mechanism == "" {
		return opts, nil
	}

	switch strings.ToUpper(c.SASL.Mechanism) {
	case "PLAIN":
		opts = append(opts, kgo.SASL(plain.Auth{
			User: c.SASL.Username,
			Pass: c.SASL.Password,
		}.AsMechanism()))
		return opts, nil

	case "SCRAM-SHA-256":
		opts = append(opts, kgo.SASL(scram.Auth{
			User: c.SASL.Username,
			Pass: c.SASL.Password,
		}.AsSha256Mechanism()))

	case "SCRAM-SHA-512":
		opts = append(opts, kgo.SASL(scram.Auth{
			User: c.SASL.Username,
			Pass: c.SASL.Password,
		}.AsSha512Mechanism()))

	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", c.SASL.Mechanism)
	}

	// Non-PLAIN mechanisms go over TLS, same as the librdkafka side
	opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	return opts, nil
}
