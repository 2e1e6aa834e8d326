// Package localfs holds the local filesystem rules shared by uploads and
// downloads: which names are hidden, how in-progress downloads are named,
// and how a local folder is walked for upload.
package localfs

import (
	"path/filepath"
	"strings"
)

// partialMarker sits between the target name and the random suffix of an
// in-progress download.
const partialMarker = ".part-"

// IsHidden returns true if the file or directory at the given path is hidden.
// On Unix systems, this checks if the base name starts with a dot.
func IsHidden(path string) bool {
	return IsHiddenName(filepath.Base(path))
}

// IsHiddenName returns true if the given filename (not path) represents a hidden file.
// Special entries "." and ".." are not considered hidden.
func IsHiddenName(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return strings.HasPrefix(name, ".")
}

// PartialPattern is the os.CreateTemp pattern for a download into target.
// The file sits next to target and is renamed over it on success.
func PartialPattern(target string) string {
	return "." + filepath.Base(target) + partialMarker + "*"
}

// IsPartialName reports whether name is an in-progress download.
func IsPartialName(name string) bool {
	return IsHiddenName(name) && strings.Contains(name, partialMarker)
}
