package main

import (
	"KafkaScope/internal/api"
	"KafkaScope/internal/cluster"
	"KafkaScope/internal/config"
	"KafkaScope/internal/logger"
	"KafkaScope/internal/storage"
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const shutdownTimeout = 30 * time.Second

type rootOptions struct {
	configPath string
	cluster    string
	output     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "kafkascope",
		Short:         "KafkaScope inspects Kafka consumer groups, topics and messages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML configuration file")
	flags.StringVar(&opts.cluster, "cluster", "", "Cluster to use (defaults to the first configured)")
	flags.StringVarP(&opts.output, "output", "o", "text", "Output format (text|json)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newGroupsCmd(opts))
	cmd.AddCommand(newTopicsCmd(opts))
	cmd.AddCommand(newMessagesCmd(opts))
	cmd.AddCommand(newTailCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "version: %s\ncommit:  %s\ndate:    %s\n", Version, GitCommit, BuildDate)
			return err
		},
	}
}

// loadConfig loads the configuration and sets up logging
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("address") {
				cfg.HTTP.Address = address
			}
			return serve(cfg)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "HTTP listen address (overrides http.address)")
	return cmd
}

func serve(cfg *config.Config) error {
	l := logger.WithComponent("main")
	l.Info().Str("version", Version).Msg("Starting KafkaScope...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.Store
	if cfg.StorageEnabled() {
		s, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer s.Close()
		store = s
		l.Info().Str("backend", cfg.Storage.Backend).Msg("Store opened")
	}

	manager := cluster.NewManager(cfg.ClusterOptions(), store, cfg.Storage.HistorySize)
	defer manager.Stop()

	for _, cc := range cfg.ClusterConfigs() {
		if err := manager.AddCluster(ctx, cc, false); err != nil {
			l.Error().Err(err).Str("cluster", cc.Name).Msg("Failed to add cluster")
		}
	}
	if err := manager.RestoreClusters(ctx); err != nil {
		l.Error().Err(err).Msg("Failed to restore saved clusters")
	}

	handler := api.NewHandler(api.NewManagerClusters(manager), store, cfg.Redacted())
	srv := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler.Routes(cfg.HTTP.MetricsPath),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		l.Info().
			Str("address", cfg.HTTP.Address).
			Str("metrics_path", cfg.HTTP.MetricsPath).
			Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		l.Info().Msg("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("HTTP server shutdown error")
	}

	l.Info().Msg("Shutdown complete")
	return nil
}
