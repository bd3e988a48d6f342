package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fieldsync.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	// No config file: defaults apply.
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Strategy != "last_modified" {
		t.Errorf("Strategy = %q, want last_modified", cfg.Strategy)
	}
	if cfg.MaxAttempts != 10 {
		t.Errorf("MaxAttempts = %d, want 10", cfg.MaxAttempts)
	}
	if cfg.PruneAbsent {
		t.Error("PruneAbsent must default to off")
	}
	if cfg.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want 15s", cfg.Timeout)
	}
	if cfg.ProbeInterval != 10*time.Second {
		t.Errorf("ProbeInterval = %v, want 10s", cfg.ProbeInterval)
	}
	if cfg.DatabasePath == "" {
		t.Error("DatabasePath default missing")
	}
	if cfg.StatusAddr != "127.0.0.1:9180" {
		t.Errorf("StatusAddr = %q", cfg.StatusAddr)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
backend_url: https://api.example.com
auth_token: secret
operator_id: op-7
database_path: /tmp/test-mirror.db
strategy: merge
max_attempts: 5
prune_absent: true
probe_interval: 30s
log_file: /tmp/fieldsync.log
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.BackendURL != "https://api.example.com" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.AuthToken != "secret" || cfg.OperatorID != "op-7" {
		t.Errorf("credentials not loaded: %+v", cfg)
	}
	if cfg.Strategy != "merge" || cfg.MaxAttempts != 5 || !cfg.PruneAbsent {
		t.Errorf("sync settings not loaded: %+v", cfg)
	}
	if cfg.ProbeInterval != 30*time.Second {
		t.Errorf("ProbeInterval = %v, want 30s", cfg.ProbeInterval)
	}
	if cfg.LogFile != "/tmp/fieldsync.log" {
		t.Errorf("LogFile = %q", cfg.LogFile)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("an explicitly named missing config must be an error")
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	path := writeConfig(t, `
backend_url: https://file.example.com
database_path: /tmp/test-mirror.db
`)
	t.Setenv("FIELDSYNC_BACKEND_URL", "https://env.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BackendURL != "https://env.example.com" {
		t.Errorf("BackendURL = %q, want the environment override", cfg.BackendURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{DatabasePath: "/tmp/m.db", MaxAttempts: 10}, false},
		{"missing database path", Config{MaxAttempts: 10}, true},
		{"zero max attempts", Config{DatabasePath: "/tmp/m.db"}, true},
		{"negative max attempts", Config{DatabasePath: "/tmp/m.db", MaxAttempts: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadInvalidConfigRejected(t *testing.T) {
	path := writeConfig(t, `
database_path: ""
`)
	if _, err := Load(path); err == nil {
		t.Fatal("config with empty database_path must fail validation")
	}
}
