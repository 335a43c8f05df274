package main

import (
	"KafkaScope/internal/aggregator"
	"KafkaScope/internal/cluster"
	"KafkaScope/internal/fetcher"
	"context"
	"encoding/json"
	"fmt"
	"github.com/spf13/cobra"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
)

// selectCluster picks the named cluster, or the first enabled one
func selectCluster(clusters []cluster.ConfigCluster, name string) (cluster.ConfigCluster, error) {
	for _, cc := range clusters {
		if name == "" && cc.Enabled {
			return cc, nil
		}
		if name != "" && cc.Name == name {
			return cc, nil
		}
	}
	if name == "" {
		return cluster.ConfigCluster{}, fmt.Errorf("%w: no enabled cluster configured", cluster.ErrClusterNotFound)
	}
	return cluster.ConfigCluster{}, fmt.Errorf("%w: %s", cluster.ErrClusterNotFound, name)
}

// withSession runs fn against a session on the selected cluster. One-shot
// commands keep no history.
func withSession(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, s *cluster.Session) error) error {
	if err := checkOutput(opts.output); err != nil {
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	cc, err := selectCluster(cfg.ClusterConfigs(), opts.cluster)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := cluster.Open(ctx, cc, cfg.ClusterOptions(), nil)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(ctx, s)
}

func checkOutput(output string) error {
	switch output {
	case "text", "json":
		return nil
	}
	return fmt.Errorf("invalid output format %q (expected text or json)", output)
}

func newGroupsCmd(opts *rootOptions) *cobra.Command {
	var topic string

	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Report the state of every consumer group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *cluster.Session) error {
				rows, err := s.GroupReport(ctx, topic)
				if err != nil {
					return err
				}
				return printGroups(cmd.OutOrStdout(), opts.output, rows)
			})
		},
	}

	cmd.Flags().StringVarP(&topic, "topic", "t", "", "Only report groups reading this topic")
	return cmd
}

func newTopicsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "Report the consumption state of every topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *cluster.Session) error {
				states, err := s.TopicReport(ctx)
				if err != nil {
					return err
				}
				return printTopics(cmd.OutOrStdout(), opts.output, states)
			})
		},
	}
}

func newMessagesCmd(opts *rootOptions) *cobra.Command {
	var n int64

	cmd := &cobra.Command{
		Use:   "messages TOPIC",
		Short: "Print the most recent messages of a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *cluster.Session) error {
				records, err := s.RecentMessages(ctx, args[0], n)
				if err != nil {
					return err
				}
				for _, r := range records {
					if err := printRecord(cmd.OutOrStdout(), opts.output, r); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().Int64VarP(&n, "count", "n", 20, "Number of most recent messages to print, across all partitions")
	return cmd
}

func newTailCmd(opts *rootOptions) *cobra.Command {
	var n int64

	cmd := &cobra.Command{
		Use:   "tail TOPIC",
		Short: "Print recent messages of a topic and follow new ones until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *cluster.Session) error {
				stream, err := s.LiveMessages(ctx, args[0], n)
				if err != nil {
					return err
				}
				for r := range stream.Records() {
					if err := printRecord(cmd.OutOrStdout(), opts.output, r); err != nil {
						return err
					}
				}
				if ctx.Err() != nil {
					return nil
				}
				return stream.Err()
			})
		},
	}

	cmd.Flags().Int64VarP(&n, "count", "n", 10, "Number of messages to replay from each partition before following")
	return cmd
}

func printGroups(w io.Writer, output string, rows []cluster.GroupReportRow) error {
	if output == "json" {
		return writeJSON(w, rows)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tSTATE\tCOMMITTED\tHIGH WATERMARK\tLAG")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", r.Name, r.State, r.CumulativeLow, r.CumulativeHigh, r.CumulativeHigh-r.CumulativeLow)
	}
	return tw.Flush()
}

func printTopics(w io.Writer, output string, states map[string]aggregator.State) error {
	if output == "json" {
		return writeJSON(w, states)
	}

	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOPIC\tSTATE")
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%s\n", name, states[name])
	}
	return tw.Flush()
}

// printRecord writes one record per line
func printRecord(w io.Writer, output string, r fetcher.MessageRecord) error {
	if output == "json" {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	line := fmt.Sprintf("p%d@%d ts=%d", r.Partition, r.Offset, r.Timestamp)
	if r.Key != nil {
		line += " key=" + payloadText(r.Key)
	}
	line += " value=" + payloadText(r.Value)
	_, err := fmt.Fprintln(w, line)
	return err
}

func payloadText(p *fetcher.Payload) string {
	if p == nil {
		return "<none>"
	}
	if p.Structured != nil {
		return string(p.Structured)
	}
	return strings.ReplaceAll(p.Text, "\n", `\n`)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
