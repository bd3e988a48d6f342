// Package config loads fieldsync configuration from file and environment.
//
// Configuration comes from fieldsync.yaml (or any format viper reads),
// overridable per-key through FIELDSYNC_* environment variables. Field
// devices get their backend credentials rotated by provisioning tools, so
// the daemon also watches the config file and hot-applies changes.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full daemon/CLI configuration.
type Config struct {
	// Backend connection.
	BackendURL string        `mapstructure:"backend_url"`
	AuthToken  string        `mapstructure:"auth_token"`
	Timeout    time.Duration `mapstructure:"timeout"`

	// OperatorID scopes pulls to the authenticated operator's visible
	// rows.
	OperatorID string `mapstructure:"operator_id"`

	// DatabasePath is the local mirror location.
	DatabasePath string `mapstructure:"database_path"`

	// Strategy names the pull conflict strategy.
	Strategy string `mapstructure:"strategy"`

	// MaxAttempts caps queue retries before an operation is parked.
	MaxAttempts int `mapstructure:"max_attempts"`

	// PruneAbsent enables deletion of synced rows missing from the
	// remote scoped rowset.
	PruneAbsent bool `mapstructure:"prune_absent"`

	// ProbeInterval is how often the network monitor probes the backend.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// StatusAddr is the local status server address.
	StatusAddr string `mapstructure:"status_addr"`

	// Logging.
	LogFile    string `mapstructure:"log_file"`     // empty = stderr
	LogMaxSize int    `mapstructure:"log_max_size"` // megabytes per rotated file
	LogBackups int    `mapstructure:"log_backups"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("timeout", 15*time.Second)
	v.SetDefault("database_path", ".fieldsync/mirror.db")
	v.SetDefault("strategy", "last_modified")
	v.SetDefault("max_attempts", 10)
	v.SetDefault("prune_absent", false)
	v.SetDefault("probe_interval", 10*time.Second)
	v.SetDefault("status_addr", "127.0.0.1:9180")
	v.SetDefault("log_max_size", 10)
	v.SetDefault("log_backups", 3)
}

// Load reads configuration from the given file path. An empty path looks
// for fieldsync.yaml in the working directory; a missing default file is
// fine and leaves defaults plus environment in effect.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FIELDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("fieldsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the fields every mode of operation requires.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive (got %d)", c.MaxAttempts)
	}
	return nil
}
