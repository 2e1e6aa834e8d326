package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrAlreadyRunning is returned by AcquirePIDFile when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("daemon is already running")

// daemonChildEnv marks the re-executed background process.
const daemonChildEnv = "CLOUDCMD_DAEMON_CHILD"

// PIDFile is a locked file holding the daemon's process id. The lock is held
// for as long as the file stays open.
type PIDFile struct {
	path string
	f    *os.File
}

// AcquirePIDFile creates or opens path, locks it and writes the current pid.
// It fails with ErrAlreadyRunning when another process holds the lock.
func AcquirePIDFile(path string) (*PIDFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create PID file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open PID file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		if pid := ReadPIDFile(path); pid != 0 {
			return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
		}
		return nil, ErrAlreadyRunning
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to truncate PID file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}
	return &PIDFile{path: path, f: f}, nil
}

// Path returns the file location.
func (p *PIDFile) Path() string {
	return p.path
}

// Release removes the file and drops the lock.
func (p *PIDFile) Release() error {
	os.Remove(p.path)
	return p.f.Close()
}

// ReadPIDFile reads the PID from path.
// Returns 0 if the file doesn't exist or is invalid.
func ReadPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// IsDaemonRunning returns the pid recorded in path if that process is alive, 0 otherwise.
func IsDaemonRunning(path string) int {
	pid := ReadPIDFile(path)
	if pid == 0 || !processAlive(pid) {
		return 0
	}
	return pid
}

// IsDaemonChild returns true if we're running as the re-executed background process.
func IsDaemonChild() bool {
	return os.Getenv(daemonChildEnv) == "1"
}
