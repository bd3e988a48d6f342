package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldworks/fieldsync/internal/engine"
	"github.com/fieldworks/fieldsync/internal/resolve"
)

var (
	syncPushOnly bool
	syncPullOnly bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation cycle now",
	Long: `Run one reconciliation cycle against the backend.

By default this pushes queued operations and dirty rows, then pulls the
operator's scoped rowset back down. Use --push-only or --pull-only to run
half a cycle.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncPushOnly && syncPullOnly {
			return fmt.Errorf("--push-only and --pull-only are mutually exclusive")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !syncPushOnly && cfg.OperatorID == "" {
			return fmt.Errorf("operator_id is not configured")
		}

		strategy, err := resolve.ParseStrategy(cfg.Strategy)
		if err != nil {
			return err
		}

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

		ctx := cmd.Context()
		start := time.Now()

		var rep *engine.Report
		switch {
		case syncPushOnly:
			rep, err = eng.Push(ctx)
		case syncPullOnly:
			rep, err = eng.Pull(ctx, cfg.OperatorID)
		default:
			rep, err = eng.Reconcile(ctx, cfg.OperatorID)
		}
		if err != nil {
			return err
		}

		fmt.Printf("Sync complete in %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Drained:   %d\n", rep.Drained)
		fmt.Printf("   Pushed:    %d\n", rep.Pushed)
		fmt.Printf("   Pulled:    %d\n", rep.Pulled)
		fmt.Printf("   Conflicts: %d\n", rep.Conflicts)
		if rep.Exhausted > 0 {
			fmt.Printf("   Exhausted: %d\n", rep.Exhausted)
		}
		if rep.Pruned > 0 {
			fmt.Printf("   Pruned:    %d\n", rep.Pruned)
		}
		if rep.Failed > 0 {
			fmt.Printf("   Failed:    %d (will retry on next sync)\n", rep.Failed)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncPushOnly, "push-only", false, "push local changes without pulling")
	syncCmd.Flags().BoolVar(&syncPullOnly, "pull-only", false, "pull the scoped rowset without pushing")
}
