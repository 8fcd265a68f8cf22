package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/artifortress/artifortress/pkg/api"
	"github.com/artifortress/artifortress/pkg/config"
	"github.com/artifortress/artifortress/pkg/log"
	"github.com/artifortress/artifortress/pkg/manager"
	"github.com/artifortress/artifortress/pkg/objectstore"
	"github.com/artifortress/artifortress/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "artifortress",
	Short: "Artifortress - artifact repository with a transactional core",
	Long: `Artifortress is an artifact repository that keeps truth in PostgreSQL
and bytes in content-addressed object storage. Uploads are verified
against their declared digest, publishes are atomic with an outbox
event, and reads are gated by policy and quarantine.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Artifortress version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serverCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the Artifortress server",
	Long: `Run the Artifortress server: the HTTP API, the outbox and search-job
sweeps, the metrics collector, and the dependency health watch.

Configuration comes from Section__Key environment variables
(ConnectionStrings__Postgres, ObjectStorage__Endpoint, ...), optionally
layered over a YAML file given with --config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		migrate, _ := cmd.Flags().GetBool("migrate")

		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON,
		})
		logger := log.Logger.With().
			Str("version", Version).
			Logger()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := storage.New(storage.Config{DSN: cfg.Postgres.DSN})
		if err != nil {
			return fmt.Errorf("failed to open truth store: %w", err)
		}
		defer store.Close()

		if migrate {
			logger.Info().Msg("applying schema migrations")
			if err := store.Migrate(ctx); err != nil {
				return err
			}
		}

		objects, err := objectstore.NewS3Client(ctx, cfg.ObjectStorage)
		if err != nil {
			return fmt.Errorf("failed to build object store client: %w", err)
		}

		mgr, err := manager.New(cfg, store, objects, logger)
		if err != nil {
			return fmt.Errorf("failed to wire manager: %w", err)
		}
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("failed to start manager: %w", err)
		}

		server := api.NewServer(mgr, cfg.Server, logger)
		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()

		select {
		case <-ctx.Done():
			logger.Info().Msg("shutdown signal received")
		case err := <-errCh:
			mgr.Stop()
			return err
		}

		if err := server.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("api server shutdown failed")
		}
		mgr.Stop()
		logger.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	serverCmd.Flags().String("config", "", "Optional YAML config file layered under the environment")
	serverCmd.Flags().Bool("migrate", true, "Apply pending schema migrations before serving")
}
