package kafka

import (
	"context"
	"fmt"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kmsg"
	"sort"
)

// DescribeGroups lists every group known to the cluster and describes each
// one, keeping member assignments in their wire form
func (c *Client) DescribeGroups(ctx context.Context) ([]RawGroup, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.MetadataTimeout)
	defer cancel()

	listReq := kmsg.NewPtrListGroupsRequest()
	listResp, err := listReq.RequestWith(ctx, c.client)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	if err := kerr.ErrorForCode(listResp.ErrorCode); err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	if len(listResp.Groups) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(listResp.Groups))
	for _, g := range listResp.Groups {
		names = append(names, g.Group)
	}
	sort.Strings(names)

	describeReq := kmsg.NewPtrDescribeGroupsRequest()
	describeReq.Groups = names
	describeResp, err := describeReq.RequestWith(ctx, c.client)
	if err != nil {
		return nil, fmt.Errorf("failed to describe groups: %w", err)
	}

	groups := make([]RawGroup, 0, len(describeResp.Groups))
	for _, g := range describeResp.Groups {
		if err := kerr.ErrorForCode(g.ErrorCode); err != nil {
			return nil, fmt.Errorf("failed to describe group %s: %w", g.Group, err)
		}

		group := RawGroup{
			Name:         g.Group,
			ProtocolType: g.ProtocolType,
			State:        g.State,
			Members:      make([]RawMember, 0, len(g.Members)),
		}
		for _, m := range g.Members {
			group.Members = append(group.Members, RawMember{
				ID:         m.MemberID,
				ClientID:   m.ClientID,
				ClientHost: m.ClientHost,
				Assignment: m.MemberAssignment,
			})
		}
		groups = append(groups, group)
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Name < groups[j].Name
	})

	return groups, nil
}
