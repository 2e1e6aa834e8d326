//go:build !windows

package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rescale/cloudcmd/internal/config"
	"github.com/rescale/cloudcmd/internal/constants"
)

// DefaultAddress returns the path to the daemon's Unix domain socket.
// On Mac/Linux: ~/.config/cloudcmd/cloudcmd.sock
func DefaultAddress() string {
	dir, err := config.ConfigDirectory()
	if err != nil {
		return filepath.Join(os.TempDir(), constants.AppName+".sock")
	}
	return filepath.Join(dir, constants.AppName+".sock")
}

// listen creates the Unix domain socket listener.
func listen(sockPath string) (net.Listener, error) {
	// Ensure socket directory exists
	if err := os.MkdirAll(filepath.Dir(sockPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	// A socket that still answers belongs to a running daemon
	if conn, err := net.Dial("unix", sockPath); err == nil {
		conn.Close()
		return nil, fmt.Errorf("another server is listening on %s", sockPath)
	}

	// Remove any stale socket file
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}

	// Set socket permissions (user only)
	if err := os.Chmod(sockPath, 0600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	return listener, nil
}

// cleanup removes the socket file. Called on shutdown.
func cleanup(sockPath string) {
	os.Remove(sockPath)
}

func dial(ctx context.Context, sockPath string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: constants.IPCDialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", sockPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return nil, ErrServerNotRunning
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", sockPath, err)
	}
	return conn, nil
}
