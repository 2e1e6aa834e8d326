package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDaemonConfig(t *testing.T) {
	cfg := NewDaemonConfig()

	if cfg.Daemon.MaxPetitions != 100 {
		t.Errorf("Expected MaxPetitions=100, got %d", cfg.Daemon.MaxPetitions)
	}
	if cfg.Daemon.SessionPoolSize != 5 {
		t.Errorf("Expected SessionPoolSize=5, got %d", cfg.Daemon.SessionPoolSize)
	}
	if cfg.Daemon.LedgerSize != 10000 {
		t.Errorf("Expected LedgerSize=10000, got %d", cfg.Daemon.LedgerSize)
	}
	if cfg.Daemon.ReconnectInterval != 30*time.Second {
		t.Errorf("Expected ReconnectInterval=30s, got %v", cfg.Daemon.ReconnectInterval)
	}
	if cfg.Storage.Provider != "local" {
		t.Errorf("Expected provider local, got %s", cfg.Storage.Provider)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

func TestDaemonConfigLoadSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "daemon.conf")

	cfg := NewDaemonConfig()
	cfg.Daemon.MaxPetitions = 20
	cfg.Daemon.SessionPoolSize = 2
	cfg.Daemon.LogLevel = "debug"
	cfg.Daemon.ReconnectInterval = 5 * time.Second
	cfg.Storage.Provider = "s3"
	cfg.Storage.Bucket = "archive"
	cfg.Storage.Region = "eu-west-1"
	cfg.Proxy.Mode = "basic"
	cfg.Proxy.Host = "proxy.internal"
	cfg.Proxy.Port = 3128
	cfg.Update.Enabled = true
	cfg.Update.CheckURL = "https://updates.example.com/latest"

	if err := SaveDaemonConfig(cfg, configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 && os.PathSeparator == '/' {
		t.Errorf("Expected 0600 permissions, got %o", perm)
	}

	loaded, err := LoadDaemonConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.Daemon != cfg.Daemon {
		t.Errorf("Daemon section mismatch: expected %+v, got %+v", cfg.Daemon, loaded.Daemon)
	}
	if loaded.Storage != cfg.Storage {
		t.Errorf("Storage section mismatch: expected %+v, got %+v", cfg.Storage, loaded.Storage)
	}
	if loaded.Proxy != cfg.Proxy {
		t.Errorf("Proxy section mismatch: expected %+v, got %+v", cfg.Proxy, loaded.Proxy)
	}
	if loaded.Update != cfg.Update {
		t.Errorf("Update section mismatch: expected %+v, got %+v", cfg.Update, loaded.Update)
	}
}

func TestLoadDaemonConfig_MissingFile(t *testing.T) {
	cfg, err := LoadDaemonConfig(filepath.Join(t.TempDir(), "missing.conf"))
	if err != nil {
		t.Fatalf("Missing file should not be an error, got %v", err)
	}
	if cfg.Daemon.MaxPetitions != 100 {
		t.Errorf("Expected defaults, got MaxPetitions=%d", cfg.Daemon.MaxPetitions)
	}
}

func TestLoadDaemonConfig_PartialFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "daemon.conf")
	content := "[daemon]\nmax_petitions = 7\n\n[storage]\nprovider = azure\ncontainer = data\naccount_url = https://acct.blob.core.windows.net/\n"
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadDaemonConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Daemon.MaxPetitions != 7 {
		t.Errorf("Expected MaxPetitions=7, got %d", cfg.Daemon.MaxPetitions)
	}
	if cfg.Daemon.SessionPoolSize != 5 {
		t.Errorf("Unset keys should keep defaults, got SessionPoolSize=%d", cfg.Daemon.SessionPoolSize)
	}
	if cfg.Storage.Provider != "azure" || cfg.Storage.Container != "data" {
		t.Errorf("Unexpected storage section %+v", cfg.Storage)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestDaemonConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*DaemonConfig)
		wantErr error
	}{
		{"defaults", func(*DaemonConfig) {}, nil},
		{"zero petitions", func(c *DaemonConfig) { c.Daemon.MaxPetitions = 0 }, ErrInvalidMaxPetitions},
		{"huge pool", func(c *DaemonConfig) { c.Daemon.SessionPoolSize = 65 }, ErrInvalidSessionPoolSize},
		{"empty ledger", func(c *DaemonConfig) { c.Daemon.LedgerSize = 0 }, ErrInvalidLedgerSize},
		{"unknown provider", func(c *DaemonConfig) { c.Storage.Provider = "ftp" }, ErrUnknownProvider},
		{"s3 without bucket", func(c *DaemonConfig) { c.Storage.Provider = "s3" }, ErrMissingBucket},
		{"azure without container", func(c *DaemonConfig) { c.Storage.Provider = "azure" }, ErrMissingContainer},
		{"azure without account", func(c *DaemonConfig) {
			c.Storage.Provider = "azure"
			c.Storage.Container = "data"
		}, ErrMissingAzureAccount},
		{"local without root", func(c *DaemonConfig) { c.Storage.Root = " " }, ErrMissingRoot},
		{"bad proxy", func(c *DaemonConfig) { c.Proxy.Mode = "socks" }, ErrUnknownProxyMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDaemonConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReconnectEvery(t *testing.T) {
	cfg := NewDaemonConfig()
	cfg.Daemon.ReconnectInterval = 0
	if got := cfg.ReconnectEvery(); got != 30*time.Second {
		t.Errorf("Expected fallback of 30s, got %v", got)
	}
}
