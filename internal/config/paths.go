package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/rescale/cloudcmd/internal/constants"
)

// LogDirectory returns the directory holding daemon logs.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\cloudcmd\logs
//   - Unix: ~/.config/cloudcmd/logs
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), constants.AppName+"-logs")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, constants.AppName, "logs")
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), constants.AppName+"-logs")
		}
		return filepath.Join(homeDir, ".config", constants.AppName, "logs")
	}
	return filepath.Join(configDir, constants.AppName, "logs")
}

// EnsureLogDirectory creates the log directory with owner-only permissions.
func EnsureLogDirectory() error {
	return os.MkdirAll(LogDirectory(), 0700)
}

// DefaultLocalRoot is the directory served by the local provider when none is configured.
func DefaultLocalRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), constants.AppName+"-storage")
	}
	return filepath.Join(home, constants.AppName+"-storage")
}

// PIDFilePath returns where the daemon records its process id.
func PIDFilePath() string {
	dir, err := ConfigDirectory()
	if err != nil {
		return filepath.Join(os.TempDir(), constants.AppName+".pid")
	}
	return filepath.Join(dir, "daemon.pid")
}
