package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldworks/fieldsync/internal/store"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the operation queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending and exhausted operations",
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

		pending, err := db.PendingOperations(ctx)
		if err != nil {
			return err
		}
		exhausted, err := db.ExhaustedOperations(ctx)
		if err != nil {
			return err
		}

		if len(pending) == 0 && len(exhausted) == 0 {
			fmt.Println("Queue is empty")
			return nil
		}

		printOps := func(label string, ops []*store.Operation) {
			if len(ops) == 0 {
				return
			}
			fmt.Printf("%s (%d):\n", label, len(ops))
			for _, op := range ops {
				fmt.Printf("  %s  %-6s %s/%s  attempts=%d  %s\n",
					op.ID[:8], op.Type, op.Table, op.RecordID,
					op.Attempts, op.CreatedAt.Local().Format(time.RFC3339))
			}
		}

		printOps("Pending", pending)
		printOps("Exhausted", exhausted)
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Reset exhausted operations so the next sync retries them",
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

		n, err := db.ResetExhausted(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Reset %d operation(s) to pending\n", n)
		return nil
	},
}

var queueConflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Show recent conflict resolutions",
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

		entries, err := db.RecentConflicts(cmd.Context(), 20)
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No conflicts logged")
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%s  %s/%s  resolved by %s\n",
				e.ResolvedAt.Local().Format(time.RFC3339),
				e.Table, e.RecordID, e.Resolution)
		}
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueConflictsCmd)
}
