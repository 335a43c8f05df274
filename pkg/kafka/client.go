package kafka

import (
	"context"
	"fmt"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Client wraps a Kafka protocol client and its admin helper. It serves the
// requests librdkafka does not expose in raw form (group descriptions with
// undecoded assignments) and the topic and group administration calls.
type Client struct {
	client *kgo.Client
	admin  *kadm.Client
	config *Config
}

// NewClient creates a new protocol client. Extra options (hooks, logger) are
// appended after the connection options derived from cfg.
func NewClient(cfg *Config, extra ...kgo.Opt) (*Client, error) {
	cfg = cfg.withDefaults()

	opts, err := cfg.franzOpts()
	if err != nil {
		return nil, err
	}
	opts = append(opts, extra...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Client{
		client: client,
		admin:  kadm.NewClient(client),
		config: cfg,
	}, nil
}

// Close closes the underlying client
func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// Ping verifies that at least one broker is reachable
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	if err := c.client.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach brokers %s: %w", c.config.BootstrapServers(), err)
	}
	return nil
}
