package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldworks/fieldsync/internal/config"
	"github.com/fieldworks/fieldsync/internal/engine"
	"github.com/fieldworks/fieldsync/internal/netmon"
	"github.com/fieldworks/fieldsync/internal/resolve"
	"github.com/fieldworks/fieldsync/internal/status"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon",
	Long: `Run the long-lived sync daemon.

The daemon:
  1. Probes backend connectivity on an interval
  2. Reconciles (push, then pull) on every offline-to-online transition
  3. Serves connection/sync status to UI clients over WebSocket
  4. Watches the config file and hot-applies rotated credentials`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.OperatorID == "" {
			return fmt.Errorf("operator_id is not configured")
		}

		strategy, err := resolve.ParseStrategy(cfg.Strategy)
		if err != nil {
			return err
		}

		logger := newLogger(cfg, "[daemon] ")

		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		backend, err := newBackend(cfg)
		if err != nil {
			return err
		}

		eng := engine.New(db, backend, &engine.Config{
			Strategy:    strategy,
			MaxAttempts: cfg.MaxAttempts,
			PruneAbsent: cfg.PruneAbsent,
			Logger:      newLogger(cfg, "[engine] "),
		})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sup := engine.NewSupervisor(eng, cfg.OperatorID, newLogger(cfg, "[supervisor] "))

		srv := status.NewServer(&status.Config{
			Addr:   cfg.StatusAddr,
			Logger: newLogger(cfg, "[status] "),
		})
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			if err := srv.Stop(); err != nil {
				logger.Printf("Error stopping status server: %v", err)
			}
		}()

		monitor := netmon.New(netmon.Config{
			Probe:    backend.Ping,
			Interval: cfg.ProbeInterval,
			OnOnline: sup.Trigger,
			Syncing:  eng.Syncing,
			Logger:   newLogger(cfg, "[netmon] "),
		})

		publishSnapshot := func(s netmon.Status) {
			snap := status.Snapshot{
				Connected: s.Connected,
				Syncing:   s.Syncing,
			}
			snap.PendingOps, _ = db.PendingCount(ctx)
			snap.ExhaustedOps, _ = db.ExhaustedCount(ctx)
			snap.DirtyRows, _ = db.DirtyCount(ctx)
			snap.LastSync, _ = db.GetState(ctx, "last_sync", "")
			srv.PublishSnapshot(snap)
		}
		monitor.Subscribe(publishSnapshot)

		// Surface the syncing facet as soon as a cycle starts; probe ticks
		// alone would miss reconciliations shorter than the interval.
		sup.OnCycleStart(func() { monitor.NoteSyncing(true) })
		sup.Start(ctx)
		defer sup.Wait()

		monitor.Start()
		defer monitor.Stop()

		// Hot-reload the config file so rotated backend credentials are
		// picked up without a restart.
		if configPath != "" {
			watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
				backend.SetAuthToken(next.AuthToken)
			}, logger)
			if err != nil {
				logger.Printf("Warning: config watching disabled: %v", err)
			} else if err := watcher.Start(); err != nil {
				logger.Printf("Warning: config watching disabled: %v", err)
			} else {
				defer watcher.Stop()
			}
		}

		logger.Printf("Daemon started (operator=%s, backend=%s, status=%s)",
			cfg.OperatorID, cfg.BackendURL, srv.GetAddr())

		// Trim acknowledged queue entries once a day so the queue table
		// stays bounded on long-lived devices.
		purge := time.NewTicker(24 * time.Hour)
		defer purge.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Println("Shutdown signal received")
				return nil

			case res := <-sup.Results():
				data := status.SyncCompleteData{}
				if res.Report != nil {
					data = status.SyncCompleteData{
						Drained:   res.Report.Drained,
						Pushed:    res.Report.Pushed,
						Pulled:    res.Report.Pulled,
						Conflicts: res.Report.Conflicts,
						Failed:    res.Report.Failed,
						Duration:  res.Report.Duration.Round(time.Millisecond).String(),
					}
				}
				if res.Err != nil {
					data.Error = res.Err.Error()
				}
				srv.PublishSyncComplete(data)
				monitor.NoteSyncing(false)
				publishSnapshot(monitor.Status())

			case <-purge.C:
				cutoff := time.Now().AddDate(0, 0, -7)
				if n, err := db.PurgeSucceeded(ctx, cutoff); err != nil {
					logger.Printf("Warning: queue purge failed: %v", err)
				} else if n > 0 {
					logger.Printf("Purged %d acknowledged operations", n)
				}
			}
		}
	},
}
