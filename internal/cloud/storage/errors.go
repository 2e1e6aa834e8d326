// Package storage classifies low-level storage errors into engine outcomes.
package storage

import (
	"context"
	"errors"
	"io/fs"
	nethttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/engine"
)

// IsDiskFullError checks if an error is likely caused by running out of disk space.
//
// Checks for common error strings across different operating systems:
//   - Linux/Unix: "no space left on device", "enospc"
//   - Windows: "out of disk space", "insufficient disk space"
//   - Generic: "disk full", "not enough space"
//   - Quota: "disk quota exceeded"
func IsDiskFullError(err error) bool {
	return containsAny(err,
		"no space left on device",
		"disk full",
		"out of disk space",
		"insufficient disk space",
		"not enough space",
		"enospc",
		"disk quota exceeded",
	)
}

// IsNetworkError checks if an error is network-related and worth retrying.
func IsNetworkError(err error) bool {
	return containsAny(err,
		"connection", // refused, reset, ...
		"timeout",
		"network",
		"eof",
		"broken pipe",
		"tls handshake",
	)
}

// IsCredentialError checks if an error is authentication/authorization related.
func IsCredentialError(err error) bool {
	return containsAny(err,
		"403",
		"unauthorized",
		"expired",
		"expiredtoken",
		"invalid token",
		"access denied",
	)
}

func containsAny(err error, indicators ...string) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, indicator := range indicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// Classify wraps err in an *engine.Error. Errors that already carry a code
// are returned unchanged; provider-specific codes are mapped before this.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var e *engine.Error
	if errors.As(err, &e) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return engine.Wrap(engine.EIncomplete, err)
	case errors.Is(err, fs.ErrNotExist):
		return engine.Wrap(engine.ENoent, err)
	case errors.Is(err, fs.ErrPermission):
		return engine.Wrap(engine.EAccess, err)
	case errors.Is(err, fs.ErrExist):
		return engine.Wrap(engine.EExist, err)
	case IsDiskFullError(err):
		return engine.Wrap(engine.EWrite, err)
	case IsCredentialError(err):
		return engine.Wrap(engine.EAccess, err)
	case errors.Is(err, context.DeadlineExceeded), IsNetworkError(err):
		return engine.Wrap(engine.ETempUnavail, err)
	default:
		return engine.Wrap(engine.EFailed, err)
	}
}

// Retryable reports whether an operation that failed with err may succeed
// if repeated later.
func Retryable(err error) bool {
	switch engine.CodeOf(err) {
	case engine.EAgain, engine.ERateLimit, engine.EOverQuota, engine.ETempUnavail:
		return true
	}
	return false
}

// RetryAfter reads a Retry-After header as seconds, falling back to
// constants.ThrottleDefaultDelay.
func RetryAfter(header nethttp.Header) int64 {
	fallback := int64(constants.ThrottleDefaultDelay / time.Second)
	v := header.Get("Retry-After")
	if v == "" {
		return fallback
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs >= 0 {
		return secs
	}
	if at, err := nethttp.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return int64(d.Round(time.Second) / time.Second)
		}
		return 0
	}
	return fallback
}
