package kafka

import (
	"context"
	"fmt"
	"sort"
)

// ListTopics returns every topic with its partitions, sorted by name
func (c *Client) ListTopics(ctx context.Context) ([]TopicMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.MetadataTimeout)
	defer cancel()

	details, err := c.admin.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}

	topics := make([]TopicMetadata, 0, len(details))
	for name, detail := range details {
		if detail.Err != nil {
			return nil, classify(fmt.Sprintf("describe topic %s", name), detail.Err)
		}

		partitions := make([]int32, 0, len(detail.Partitions))
		for p := range detail.Partitions {
			partitions = append(partitions, p)
		}
		sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

		topics = append(topics, TopicMetadata{Name: name, Partitions: partitions})
	}

	sort.Slice(topics, func(i, j int) bool {
		return topics[i].Name < topics[j].Name
	})

	return topics, nil
}

// CreateTopic creates a topic with the broker's default configuration
func (c *Client) CreateTopic(ctx context.Context, name string, partitions int32, replicationFactor int16) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	resps, err := c.admin.CreateTopics(ctx, partitions, replicationFactor, nil, name)
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", name, err)
	}
	for _, resp := range resps {
		if resp.Err != nil {
			return fmt.Errorf("failed to create topic %s: %w", name, resp.Err)
		}
	}
	return nil
}

// DeleteTopic deletes a topic
func (c *Client) DeleteTopic(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	resps, err := c.admin.DeleteTopics(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to delete topic %s: %w", name, err)
	}
	for _, resp := range resps {
		if resp.Err != nil {
			return classify(fmt.Sprintf("delete topic %s", name), resp.Err)
		}
	}
	return nil
}

// DeleteGroup deletes an empty consumer group
func (c *Client) DeleteGroup(ctx context.Context, group string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	resps, err := c.admin.DeleteGroups(ctx, group)
	if err != nil {
		return fmt.Errorf("failed to delete group %s: %w", group, err)
	}
	for _, resp := range resps {
		if resp.Err != nil {
			return fmt.Errorf("failed to delete group %s: %w", group, resp.Err)
		}
	}
	return nil
}
