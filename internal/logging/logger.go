// Package logging provides structured logging for both the CLI client and the daemon.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with mode-specific behavior.
type Logger struct {
	zlog   zerolog.Logger
	mode   string    // "cli" or "daemon"
	output io.Writer // current output writer
}

// NewLogger creates a new logger for the specified mode.
// CLI mode writes human-readable lines to stderr so that command output on
// stdout stays clean; daemon mode writes to the supplied writer (console,
// rotating file or both, see NewDaemonWriter).
func NewLogger(mode string, out io.Writer) *Logger {
	if out == nil {
		out = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		}
	}

	return &Logger{
		zlog:   zerolog.New(out).With().Timestamp().Logger(),
		mode:   mode,
		output: out,
	}
}

// NewDefaultCLILogger creates a default CLI logger.
func NewDefaultCLILogger() *Logger {
	return NewLogger("cli", nil)
}

// NewNopLogger returns a logger that discards everything. Handy in tests.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop(), mode: "cli", output: io.Discard}
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// Fatal returns a fatal level event.
func (l *Logger) Fatal() *zerolog.Event {
	return l.zlog.Fatal()
}

// With creates a child logger context with additional fields.
func (l *Logger) With() zerolog.Context {
	return l.zlog.With()
}

// Sub returns a child Logger built from ctx, keeping this logger's mode and output.
//
//	plog := logger.Sub(logger.With().Str("petition", id))
func (l *Logger) Sub(ctx zerolog.Context) *Logger {
	return &Logger{
		zlog:   ctx.Logger(),
		mode:   l.mode,
		output: l.output,
	}
}

// SetOutput changes the output writer for the logger.
// The shell uses this to route log lines above its progress bars.
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	if l.mode == "cli" {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: "15:04:05",
		}
	}
	l.zlog = zerolog.New(w).With().Timestamp().Logger()
}

// Output returns the current output writer.
func (l *Logger) Output() io.Writer {
	return l.output
}

// Mode returns "cli" or "daemon".
func (l *Logger) Mode() string {
	return l.mode
}

// Debugf logs a debug message with printf-style formatting.
// This is only shown when debug/verbose mode is enabled.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Infof logs an info message with printf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Errorf logs an error message with printf-style formatting.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// ParseLevel maps a config string ("debug", "info", ...) to a zerolog level,
// falling back to info for anything it does not recognize.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return level
}

func init() {
	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Configure global logger
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
