package aggregator

import (
	"KafkaScope/internal/catalog"
	"KafkaScope/internal/logger"
	"KafkaScope/internal/metrics"
	"KafkaScope/internal/offsets"
	"context"
	"fmt"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"time"
)

// Scope selects the key of the classification table
type Scope int

const (
	// ByGroup classifies consumer groups
	ByGroup Scope = iota
	// ByTopic classifies topics
	ByTopic
)

func (s Scope) String() string {
	if s == ByTopic {
		return "topic"
	}
	return "group"
}

// Probe is a short-lived connection bound to one group id
type Probe interface {
	offsets.Conn
	Close()
}

// ProbeFactory opens a probe connection configured with groupID
type ProbeFactory interface {
	OpenProbe(ctx context.Context, groupID string) (Probe, error)
}

// Config holds aggregation settings
type Config struct {
	// Cluster labels the per-group metrics
	Cluster string `yaml:"-" json:"-"`
	// SelfGroupSuffix excludes our own house-keeping groups from reports
	SelfGroupSuffix string `yaml:"self_group_suffix"`
	// MaxConcurrency bounds the number of groups probed at once; 0 is unbounded
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
}

// Result is the outcome of one aggregation
type Result struct {
	States map[string]State
	// Watermarks holds, per group, the sum of committed offsets (Low) and of
	// high watermarks (High) over the partitions the group committed to.
	// Only filled for ByGroup.
	Watermarks map[string]offsets.WatermarkPair
}

// Aggregator classifies groups or topics by probing every group with its own
// connection
type Aggregator struct {
	lister   catalog.Lister
	metadata offsets.MetadataReader
	factory  ProbeFactory
	config   Config
	log      zerolog.Logger
}

// New creates an aggregator. lister and metadata are long-lived handles;
// factory opens one probe per group per aggregation.
func New(lister catalog.Lister, metadata offsets.MetadataReader, factory ProbeFactory, cfg Config) *Aggregator {
	return &Aggregator{
		lister:   lister,
		metadata: metadata,
		factory:  factory,
		config:   cfg,
		log:      logger.WithComponent("aggregator"),
	}
}

// Aggregate builds the classification for scope. topicFilter, when set,
// restricts both committed offsets and assignments to that topic. The first
// failing group aborts the whole aggregation with a *GroupError.
func (a *Aggregator) Aggregate(ctx context.Context, scope Scope, topicFilter string) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.AggregationDuration.WithLabelValues(scope.String()).Observe(time.Since(start).Seconds())
	}()

	result, err := a.aggregate(ctx, scope, topicFilter)
	if err != nil {
		metrics.AggregationErrors.WithLabelValues(scope.String()).Inc()
		a.log.Error().Err(err).Str("scope", scope.String()).Str("topic", topicFilter).Msg("aggregation failed")
		return nil, err
	}

	a.log.Debug().
		Str("scope", scope.String()).
		Str("topic", topicFilter).
		Int("keys", len(result.States)).
		Dur("duration", time.Since(start)).
		Msg("aggregation complete")

	return result, nil
}

func (a *Aggregator) aggregate(ctx context.Context, scope Scope, topicFilter string) (*Result, error) {
	var seed []string
	if scope == ByTopic {
		topics, err := a.metadata.Metadata(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list topics: %w", err)
		}
		seed = make([]string, 0, len(topics))
		for _, t := range topics {
			seed = append(seed, t.Name)
		}
	}

	groups, err := catalog.ListGroups(ctx, a.lister, a.config.SelfGroupSuffix)
	if err != nil {
		return nil, err
	}

	tbl := newTable(seed)

	eg, egCtx := errgroup.WithContext(ctx)
	if a.config.MaxConcurrency > 0 {
		eg.SetLimit(a.config.MaxConcurrency)
	}

	for _, group := range groups {
		eg.Go(func() error {
			if err := a.probeGroup(egCtx, scope, topicFilter, group, tbl); err != nil {
				return &GroupError{Name: group.Name, Cause: err}
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return tbl.result(), nil
}

// probeGroup opens a connection bound to the group, reads its committed
// offsets and folds them, together with the member assignments, into tbl
func (a *Aggregator) probeGroup(ctx context.Context, scope Scope, topicFilter string, group catalog.GroupDescriptor, tbl *table) error {
	metrics.GroupsProbed.WithLabelValues(scope.String()).Inc()
	metrics.ConsumerGroupMembers.WithLabelValues(a.config.Cluster, group.Name).Set(float64(len(group.Members)))

	probe, err := a.factory.OpenProbe(ctx, group.Name)
	if err != nil {
		return fmt.Errorf("failed to open probe connection: %w", err)
	}
	metrics.ProbeConnections.Inc()
	defer func() {
		probe.Close()
		metrics.ProbeConnections.Dec()
	}()

	snapshot, err := offsets.CommittedOffsets(ctx, probe, "")
	if err != nil {
		return err
	}

	for tp, committed := range snapshot {
		if committed <= 0 {
			continue
		}
		if topicFilter != "" && tp.Topic != topicFilter {
			continue
		}

		switch scope {
		case ByTopic:
			tbl.markDisconnected(tp.Topic)
		case ByGroup:
			w, err := offsets.Watermarks(ctx, probe, tp.Topic, tp.Partition)
			if err != nil {
				return err
			}
			tbl.addWatermark(group.Name, offsets.WatermarkPair{Low: committed, High: w.High})
			tbl.markDisconnected(group.Name)
		}
	}

	for _, member := range group.Members {
		for _, assigned := range member.Assignment {
			if topicFilter != "" && assigned.Topic != topicFilter {
				continue
			}

			switch scope {
			case ByTopic:
				tbl.markConsuming(assigned.Topic)
			case ByGroup:
				tbl.markConsuming(group.Name)
			}
		}
	}

	a.log.Debug().
		Str("group", group.Name).
		Int("members", len(group.Members)).
		Int("committed_partitions", len(snapshot)).
		Msg("probed group")

	return nil
}
