// Package diskspace checks free space on the filesystem a download lands on.
package diskspace

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// InsufficientSpaceError indicates that there is not enough disk space available.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space for %s: need %s, have %s available",
		e.Path, humanize.IBytes(uint64(e.RequiredBytes)), humanize.IBytes(uint64(e.AvailableBytes)))
}

// CheckAvailableSpace reports an InsufficientSpaceError when the filesystem
// holding targetPath has less than requiredBytes*safetyMargin free. The
// parent directory of targetPath must exist. When free space cannot be
// determined (network or virtual filesystems) it returns nil and lets the
// write fail on its own.
func CheckAvailableSpace(targetPath string, requiredBytes int64, safetyMargin float64) error {
	if requiredBytes <= 0 {
		return nil
	}
	available, ok := availableBytes(filepath.Dir(targetPath))
	if !ok {
		return nil
	}

	required := int64(float64(requiredBytes) * safetyMargin)
	if available < required {
		return &InsufficientSpaceError{
			Path:           targetPath,
			RequiredBytes:  required,
			AvailableBytes: available,
		}
	}
	return nil
}

// GetAvailableSpace returns the available space in bytes for the filesystem
// containing path. Returns 0 if unable to determine.
func GetAvailableSpace(path string) int64 {
	available, _ := availableBytes(filepath.Dir(path))
	return available
}

// IsInsufficientSpaceError checks if err is or wraps an InsufficientSpaceError.
func IsInsufficientSpaceError(err error) bool {
	var target *InsufficientSpaceError
	return errors.As(err, &target)
}
