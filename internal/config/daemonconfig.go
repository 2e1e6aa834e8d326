// Package config provides configuration management for cloudcmd.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/rescale/cloudcmd/internal/constants"
)

// DaemonConfig represents the daemon configuration.
//
// Config file location:
//   - Windows: %APPDATA%\cloudcmd\daemon.conf
//   - Unix: ~/.config/cloudcmd/daemon.conf
//
// INI format:
//
//	[daemon]
//	max_petitions = 100
//	session_pool_size = 5
//	ledger_size = 10000
//	socket_path =
//	log_file = /home/me/.config/cloudcmd/logs/daemon.log
//	log_level = info
//	reconnect_interval = 30s
//
//	[storage]
//	provider = s3
//	bucket = my-bucket
//	region = us-east-1
//
//	[proxy]
//	mode = no-proxy
//
//	[update]
//	enabled = true
//	check_url = https://example.com/cloudcmd/latest
type DaemonConfig struct {
	Daemon  DaemonCoreConfig
	Storage StorageConfig
	Proxy   ProxyConfig
	Update  UpdateConfig
}

// DaemonCoreConfig contains core daemon settings.
type DaemonCoreConfig struct {
	// MaxPetitions caps petitions in the Running state.
	// Minimum: 1, Maximum: 1000, Default: 100
	MaxPetitions int `ini:"max_petitions"`

	// SessionPoolSize is the number of anonymous sessions kept for public-link browsing.
	// Minimum: 1, Maximum: 64, Default: 5
	SessionPoolSize int `ini:"session_pool_size"`

	// LedgerSize bounds the completed transfer history.
	// Minimum: 1, Default: 10000
	LedgerSize int `ini:"ledger_size"`

	// SocketPath overrides the IPC endpoint. Empty means the platform default.
	SocketPath string `ini:"socket_path"`

	// LogFile is where the daemon writes its rotating log. Empty disables file logging.
	LogFile string `ini:"log_file"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `ini:"log_level"`

	// ReconnectInterval is how often pending connections are retried.
	ReconnectInterval time.Duration `ini:"reconnect_interval"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Provider is one of "s3", "azure", "local".
	Provider string `ini:"provider"`

	// S3
	Bucket          string `ini:"bucket"`
	Region          string `ini:"region"`
	Endpoint        string `ini:"endpoint"`
	AccessKeyID     string `ini:"access_key_id"`
	SecretAccessKey string `ini:"secret_access_key"`

	// Azure
	Container        string `ini:"container"`
	AccountURL       string `ini:"account_url"`
	ConnectionString string `ini:"connection_string"`

	// Local
	Root string `ini:"root"`
}

// ProxyConfig configures the outbound HTTP proxy used by storage and update checks.
type ProxyConfig struct {
	// Mode is one of "no-proxy", "system", "basic", "ntlm".
	Mode     string `ini:"mode"`
	Host     string `ini:"host"`
	Port     int    `ini:"port"`
	User     string `ini:"user"`
	Password string `ini:"password"`
	NoProxy  string `ini:"no_proxy"`
}

// UpdateConfig configures the latest-version check pushed to shells.
type UpdateConfig struct {
	Enabled  bool   `ini:"enabled"`
	CheckURL string `ini:"check_url"`
}

// DaemonConfig validation errors
var (
	ErrInvalidMaxPetitions    = errors.New("max_petitions must be between 1 and 1000")
	ErrInvalidSessionPoolSize = errors.New("session_pool_size must be between 1 and 64")
	ErrInvalidLedgerSize      = errors.New("ledger_size must be positive")
	ErrUnknownProvider        = errors.New("storage provider must be one of s3, azure, local")
	ErrMissingBucket          = errors.New("bucket is required for the s3 provider")
	ErrMissingContainer       = errors.New("container is required for the azure provider")
	ErrMissingAzureAccount    = errors.New("account_url or connection_string is required for the azure provider")
	ErrMissingRoot            = errors.New("root is required for the local provider")
	ErrUnknownProxyMode       = errors.New("proxy mode must be one of no-proxy, system, basic, ntlm")
)

// ConfigDirectory returns the per-user configuration directory.
//   - Windows: %APPDATA%\cloudcmd
//   - Unix: ~/.config/cloudcmd
func ConfigDirectory() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", errors.New("neither APPDATA nor USERPROFILE environment variable set")
			}
			appData = filepath.Join(userProfile, "AppData", "Roaming")
		}
		return filepath.Join(appData, constants.AppName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", constants.AppName), nil
}

// DefaultDaemonConfigPath returns the default path for the daemon.conf file.
func DefaultDaemonConfigPath() (string, error) {
	dir, err := ConfigDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "daemon.conf"), nil
}

// NewDaemonConfig creates a new DaemonConfig with default values.
func NewDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		Daemon: DaemonCoreConfig{
			MaxPetitions:      constants.MaxConcurrentPetitions,
			SessionPoolSize:   constants.FolderSessionPoolSize,
			LedgerSize:        constants.MaxCompletedTransfers,
			LogFile:           filepath.Join(LogDirectory(), "daemon.log"),
			LogLevel:          "info",
			ReconnectInterval: constants.ReconnectInterval,
		},
		Storage: StorageConfig{
			Provider: "local",
			Root:     DefaultLocalRoot(),
		},
		Proxy: ProxyConfig{
			Mode: "no-proxy",
		},
		Update: UpdateConfig{
			Enabled: false,
		},
	}
}

// LoadDaemonConfig loads configuration from the daemon.conf file.
// If path is empty, uses the default path.
// If the file doesn't exist, returns a config with default values and no error.
// If the file exists but is invalid, returns an error.
func LoadDaemonConfig(path string) (*DaemonConfig, error) {
	cfg := NewDaemonConfig()

	if path == "" {
		var err error
		path, err = DefaultDaemonConfigPath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load daemon.conf: %w", err)
	}

	sections := []struct {
		name   string
		target interface{}
	}{
		{"daemon", &cfg.Daemon},
		{"storage", &cfg.Storage},
		{"proxy", &cfg.Proxy},
		{"update", &cfg.Update},
	}
	for _, s := range sections {
		if !iniFile.HasSection(s.name) {
			continue
		}
		if err := iniFile.Section(s.name).MapTo(s.target); err != nil {
			return nil, fmt.Errorf("failed to parse [%s] section: %w", s.name, err)
		}
	}

	return cfg, nil
}

// SaveDaemonConfig saves configuration to the daemon.conf file.
// If path is empty, uses the default path.
// Creates parent directories if they don't exist.
func SaveDaemonConfig(cfg *DaemonConfig, path string) error {
	if path == "" {
		var err error
		path, err = DefaultDaemonConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()
	sections := []struct {
		name   string
		source interface{}
	}{
		{"daemon", &cfg.Daemon},
		{"storage", &cfg.Storage},
		{"proxy", &cfg.Proxy},
		{"update", &cfg.Update},
	}
	for _, s := range sections {
		section, err := iniFile.NewSection(s.name)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", s.name, err)
		}
		if err := section.ReflectFrom(s.source); err != nil {
			return fmt.Errorf("failed to write %s section: %w", s.name, err)
		}
	}

	// Write to a temporary file, tighten permissions, then rename into place
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks if the daemon configuration is valid.
// Returns nil if valid, or an error describing what's wrong.
func (cfg *DaemonConfig) Validate() error {
	if cfg.Daemon.MaxPetitions < 1 || cfg.Daemon.MaxPetitions > 1000 {
		return ErrInvalidMaxPetitions
	}
	if cfg.Daemon.SessionPoolSize < 1 || cfg.Daemon.SessionPoolSize > 64 {
		return ErrInvalidSessionPoolSize
	}
	if cfg.Daemon.LedgerSize < 1 {
		return ErrInvalidLedgerSize
	}

	switch strings.ToLower(cfg.Storage.Provider) {
	case "s3":
		if strings.TrimSpace(cfg.Storage.Bucket) == "" {
			return ErrMissingBucket
		}
	case "azure":
		if strings.TrimSpace(cfg.Storage.Container) == "" {
			return ErrMissingContainer
		}
		if cfg.Storage.AccountURL == "" && cfg.Storage.ConnectionString == "" {
			return ErrMissingAzureAccount
		}
	case "local":
		if strings.TrimSpace(cfg.Storage.Root) == "" {
			return ErrMissingRoot
		}
	default:
		return ErrUnknownProvider
	}

	switch strings.ToLower(cfg.Proxy.Mode) {
	case "", "no-proxy", "system", "basic", "ntlm":
	default:
		return ErrUnknownProxyMode
	}

	return nil
}

// ReconnectEvery returns the reconnect interval, falling back to the default
// when the config leaves it unset.
func (cfg *DaemonConfig) ReconnectEvery() time.Duration {
	if cfg.Daemon.ReconnectInterval <= 0 {
		return constants.ReconnectInterval
	}
	return cfg.Daemon.ReconnectInterval
}
