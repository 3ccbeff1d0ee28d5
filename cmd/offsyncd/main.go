// Command offsyncd runs the offline-first sync core as a daemon, or
// performs one-shot queue and status operations against its database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kelvinhuang/offsync/internal/config"
	"github.com/kelvinhuang/offsync/internal/connectivity"
	"github.com/kelvinhuang/offsync/internal/db"
	"github.com/kelvinhuang/offsync/internal/engine"
	"github.com/kelvinhuang/offsync/internal/logging"
	"github.com/kelvinhuang/offsync/internal/queue"
	"github.com/kelvinhuang/offsync/internal/remote"
	"github.com/kelvinhuang/offsync/internal/store"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "offsyncd",
		Short:         "offline-first entity sync daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(runCmd(), syncCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup wires the full stack from configuration.
func setup() (*engine.Engine, *connectivity.ProbeMonitor, *db.DB, *logrus.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	log := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		database.Close()
		return nil, nil, nil, nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := migrator.Up(); err != nil {
		database.Close()
		return nil, nil, nil, nil, err
	}

	client := remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Resource, cfg.Remote.Timeout)
	monitor := connectivity.NewProbeMonitor(cfg.Probe.URL, cfg.Probe.Interval, log)

	eng := engine.New(
		store.NewLocalStore(database.DB),
		queue.NewSyncQueue(database.DB),
		client,
		monitor,
		engine.Config{
			EntityType:    cfg.Remote.Resource,
			DrainInterval: cfg.Drain.Interval,
			DrainTimeout:  cfg.Drain.Timeout,
			BackoffMin:    cfg.Drain.BackoffMin,
			BackoffMax:    cfg.Drain.BackoffMax,
		},
		log,
	)

	return eng, monitor, database, log, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the background sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, monitor, database, log, err := setup()
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			monitor.Start(ctx)
			eng.Start(ctx)

			log.Info("offsyncd running")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh

			log.Info("shutting down")
			eng.Stop()
			monitor.Stop()
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "run one drain pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, monitor, database, _, err := setup()
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			// One immediate probe so the drain sees real connectivity.
			monitor.Start(ctx)
			defer monitor.Stop()
			time.Sleep(100 * time.Millisecond)

			if err := eng.SyncPending(ctx); err != nil {
				return err
			}

			status, err := eng.Status(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("pending records: %d, queued entries: %d\n",
				status.PendingRecords, status.QueuedEntries)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, database, _, err := setup()
			if err != nil {
				return err
			}
			defer database.Close()

			status, err := eng.Status(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("online:          %v\n", status.Online)
			fmt.Printf("pending records: %d\n", status.PendingRecords)
			fmt.Printf("queued entries:  %d\n", status.QueuedEntries)
			fmt.Printf("conflicts:       %d\n", status.Conflicts)
			if status.LastDrain != nil {
				fmt.Printf("last drain:      %s\n", status.LastDrain.Format(time.RFC3339))
			}
			return nil
		},
	}
}
