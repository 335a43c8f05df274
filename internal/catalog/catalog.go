package catalog

import (
	"KafkaScope/internal/assignment"
	kafkaclient "KafkaScope/pkg/kafka"
	"context"
	"strings"
)

// ConsumerProtocol is the protocol type of groups whose member assignments
// use the consumer protocol layout
const ConsumerProtocol = "consumer"

// Lister describes every group known to the cluster
type Lister interface {
	DescribeGroups(ctx context.Context) ([]kafkaclient.RawGroup, error)
}

// GroupDescriptor is a live consumer group with decoded member assignments
type GroupDescriptor struct {
	Name         string             `json:"name"`
	ProtocolType string             `json:"protocol_type"`
	State        string             `json:"state"`
	Members      []MemberDescriptor `json:"members"`
}

// MemberDescriptor is one member of a group
type MemberDescriptor struct {
	ID         string                       `json:"id"`
	ClientID   string                       `json:"client_id"`
	ClientHost string                       `json:"client_host"`
	Assignment []assignment.TopicAssignment `json:"assignment"`
}

// Topics returns every topic assigned to any member of the group
func (g GroupDescriptor) Topics() []string {
	seen := make(map[string]struct{})
	var topics []string
	for _, m := range g.Members {
		for _, a := range m.Assignment {
			if _, ok := seen[a.Topic]; ok {
				continue
			}
			seen[a.Topic] = struct{}{}
			topics = append(topics, a.Topic)
		}
	}
	return topics
}

// ListGroups returns every group except those whose name ends in selfSuffix.
// A member whose assignment cannot be decoded aborts the listing with a
// *MemberAssignmentError. Groups using a protocol other than the consumer
// protocol keep their members with empty assignments.
func ListGroups(ctx context.Context, lister Lister, selfSuffix string) ([]GroupDescriptor, error) {
	raw, err := lister.DescribeGroups(ctx)
	if err != nil {
		return nil, &CatalogError{Kind: ErrBroker, Err: err}
	}

	groups := make([]GroupDescriptor, 0, len(raw))
	for _, g := range raw {
		if IsSelfGroup(g.Name, selfSuffix) {
			continue
		}

		decodable := g.ProtocolType == ConsumerProtocol || g.ProtocolType == ""

		group := GroupDescriptor{
			Name:         g.Name,
			ProtocolType: g.ProtocolType,
			State:        g.State,
			Members:      make([]MemberDescriptor, 0, len(g.Members)),
		}
		for _, m := range g.Members {
			member := MemberDescriptor{
				ID:         m.ID,
				ClientID:   m.ClientID,
				ClientHost: m.ClientHost,
				Assignment: []assignment.TopicAssignment{},
			}

			if decodable {
				assigned, err := assignment.Decode(m.Assignment)
				if err != nil {
					return nil, &MemberAssignmentError{Group: g.Name, Member: m.ID, Cause: err}
				}
				member.Assignment = assigned
			}

			group.Members = append(group.Members, member)
		}

		groups = append(groups, group)
	}

	return groups, nil
}

// IsSelfGroup reports whether name belongs to one of our own house-keeping groups
func IsSelfGroup(name, selfSuffix string) bool {
	return selfSuffix != "" && strings.HasSuffix(name, selfSuffix)
}
