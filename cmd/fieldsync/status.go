package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local mirror and queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()

		dirty, err := db.DirtyCount(ctx)
		if err != nil {
			return err
		}
		pending, err := db.PendingCount(ctx)
		if err != nil {
			return err
		}
		exhausted, err := db.ExhaustedCount(ctx)
		if err != nil {
			return err
		}
		lastSync, err := db.GetState(ctx, "last_sync", "never")
		if err != nil {
			return err
		}

		fmt.Printf("Mirror:     %s\n", cfg.DatabasePath)
		fmt.Printf("Dirty rows: %d\n", dirty)
		fmt.Printf("Pending:    %d\n", pending)
		fmt.Printf("Exhausted:  %d\n", exhausted)
		fmt.Printf("Last sync:  %s\n", lastSync)

		// Reachability is reported best-effort; status still works
		// fully offline.
		if cfg.BackendURL != "" {
			backend, err := newBackend(cfg)
			if err != nil {
				return err
			}
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := backend.Ping(probeCtx); err != nil {
				fmt.Printf("Backend:    unreachable (%s)\n", cfg.BackendURL)
			} else {
				fmt.Printf("Backend:    connected (%s)\n", cfg.BackendURL)
			}
		}

		return nil
	},
}
