package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fieldworks/fieldsync/internal/config"
	"github.com/fieldworks/fieldsync/internal/remote"
	"github.com/fieldworks/fieldsync/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline sync engine for field-service work orders",
	Long: `fieldsync keeps a local SQLite mirror of work-order data in step with
the central backend. Crews read and write the mirror while offline; once
connectivity returns, queued mutations replay against the backend and the
operator's scoped rowset is pulled back down with field-level conflict
resolution.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default: ./fieldsync.yaml)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queueCmd)
}

// loadConfig reads the configuration for the current invocation.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger, rotating output with lumberjack when
// a log file is configured.
func newLogger(cfg *config.Config, prefix string) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogBackups,
			Compress:   true,
		}
	}
	return log.New(out, prefix, log.LstdFlags)
}

// openStore opens the local mirror and makes sure the schema exists.
func openStore(cfg *config.Config) (*store.DB, error) {
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// newBackend builds the HTTP backend client from configuration.
func newBackend(cfg *config.Config) (*remote.Client, error) {
	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("backend_url is not configured")
	}
	return remote.NewClient(remote.ClientConfig{
		BaseURL:   cfg.BackendURL,
		AuthToken: cfg.AuthToken,
		Timeout:   cfg.Timeout,
	}), nil
}
