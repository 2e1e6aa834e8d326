//go:build windows

package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"

	"github.com/rescale/cloudcmd/internal/constants"
)

// ERROR_FILE_NOT_FOUND means no server created the pipe.
const ERROR_FILE_NOT_FOUND = syscall.Errno(2)

// DefaultAddress returns the per-user named pipe.
func DefaultAddress() string {
	user := os.Getenv("USERNAME")
	if user == "" {
		return `\\.\pipe\` + constants.AppName
	}
	return `\\.\pipe\` + constants.AppName + "-" + user
}

// getCurrentUserSID returns the SID of the current process owner.
func getCurrentUserSID() (string, error) {
	token, err := windows.OpenCurrentProcessToken()
	if err != nil {
		return "", fmt.Errorf("failed to open process token: %w", err)
	}
	defer token.Close()

	user, err := token.GetTokenUser()
	if err != nil {
		return "", fmt.Errorf("failed to get token user: %w", err)
	}
	return user.User.Sid.String(), nil
}

// listen creates the named pipe listener. Only the daemon owner may connect.
func listen(pipe string) (net.Listener, error) {
	sid, err := getCurrentUserSID()
	if err != nil {
		return nil, err
	}

	cfg := &winio.PipeConfig{
		SecurityDescriptor: "D:P(A;;GA;;;" + sid + ")",
		InputBufferSize:    4096,
		OutputBufferSize:   4096,
	}
	listener, err := winio.ListenPipe(pipe, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create named pipe: %w", err)
	}
	return listener, nil
}

// cleanup is a no-op: the pipe disappears with its listener.
func cleanup(string) {}

func dial(ctx context.Context, pipe string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.IPCDialTimeout)
	defer cancel()

	conn, err := winio.DialPipeContext(ctx, pipe)
	if err != nil {
		var errno syscall.Errno
		if errors.As(err, &errno) && errno == ERROR_FILE_NOT_FOUND {
			return nil, ErrServerNotRunning
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", pipe, err)
	}
	return conn, nil
}
