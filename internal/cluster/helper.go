package cluster

import (
	"KafkaScope/internal/aggregator"
	"KafkaScope/internal/fetcher"
	kafkaclient "KafkaScope/pkg/kafka"
	"context"
	"fmt"
)

// consumerFactory opens short-lived consumers on the session's cluster
type consumerFactory struct {
	config     *kafkaclient.Config
	selfSuffix string
}

// OpenProbe opens a consumer bound to groupID. It never joins the group.
func (f *consumerFactory) OpenProbe(ctx context.Context, groupID string) (aggregator.Probe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := kafkaclient.NewConsumer(f.config, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to create probe consumer for group %s: %w", groupID, err)
	}
	return c, nil
}

// OpenFetchConn opens a consumer under a throwaway group id that group
// reports exclude
func (f *consumerFactory) OpenFetchConn(ctx context.Context) (fetcher.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := kafkaclient.NewConsumer(f.config, selfGroupID(f.selfSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch consumer: %w", err)
	}
	return c, nil
}

// OpenGroupConn opens a consumer that commits on behalf of groupID
func (f *consumerFactory) OpenGroupConn(ctx context.Context, groupID string) (groupConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := kafkaclient.NewConsumer(f.config, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for group %s: %w", groupID, err)
	}
	return c, nil
}
