package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DaemonLogConfig configures the daemon logger.
type DaemonLogConfig struct {
	// LogFile is the path to write logs (empty = no file logging)
	LogFile string

	// Console enables console output (default: true for foreground)
	Console bool
}

// DaemonWriter fans daemon log lines out to the console and a rotating file.
type DaemonWriter struct {
	mu      sync.Mutex
	writers []io.Writer
	file    *lumberjack.Logger
}

// NewDaemonWriter builds the writer described by cfg. With neither console
// nor file configured it discards output.
func NewDaemonWriter(cfg DaemonLogConfig) *DaemonWriter {
	w := &DaemonWriter{}

	if cfg.Console {
		w.writers = append(w.writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	if cfg.LogFile != "" {
		w.file = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		w.writers = append(w.writers, zerolog.ConsoleWriter{
			Out:        w.file,
			TimeFormat: "2006-01-02 15:04:05.000",
			NoColor:    true,
		})
	}

	return w
}

// Write implements io.Writer for zerolog.
func (w *DaemonWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, out := range w.writers {
		_, _ = out.Write(p)
	}
	return len(p), nil
}

// Rotate forces the file logger to start a new file.
func (w *DaemonWriter) Rotate() error {
	if w.file == nil {
		return nil
	}
	return w.file.Rotate()
}

// Close closes the file logger if open.
func (w *DaemonWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// NewDaemonLogger creates a Logger configured for daemon use along with its writer,
// so the caller can close the log file on shutdown.
func NewDaemonLogger(cfg DaemonLogConfig) (*Logger, *DaemonWriter) {
	writer := NewDaemonWriter(cfg)
	logger := NewLogger("daemon", writer)
	logger.zlog = logger.zlog.With().Str("stage", "daemon").Logger()
	return logger, writer
}
