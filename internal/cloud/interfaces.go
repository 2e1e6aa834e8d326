// Package cloud defines the object-store contract the concrete engine runs
// on. Providers under cloud/providers implement Backend for one service each.
//
// Paths are engine paths ("/a/b", root "/"). Providers translate them to
// object keys under their configured prefix. Errors are *engine.Error values
// so the engine can tell retryable conditions (EOverQuota, ETempUnavail,
// ERateLimit) from final ones (ENoent, EAccess, ...).
package cloud

import (
	"context"
	"io"
	"time"
)

// Object describes one entry of a backend listing.
type Object struct {
	Path    string
	Size    int64
	ModTime time.Time
	Dir     bool
}

// Backend is a minimal object store.
type Backend interface {
	// Location names the bucket, container or directory served.
	Location() string

	// Stat returns the object or virtual folder at path. The root always exists.
	Stat(ctx context.Context, path string) (Object, error)

	// List returns the direct children of the folder at path, or every file
	// below it when recursive is set. Listings are sorted by path.
	List(ctx context.Context, path string, recursive bool) ([]Object, error)

	// Get writes the object at path to w and returns the number of bytes written.
	Get(ctx context.Context, path string, w io.Writer) (int64, error)

	// Put stores size bytes read from r as the object at path.
	Put(ctx context.Context, path string, r io.Reader, size int64) error

	// Delete removes the object at path. Deleting a folder removes its marker,
	// not its contents.
	Delete(ctx context.Context, path string) error

	// Anonymous returns an unauthenticated opener for public links.
	Anonymous() (LinkOpener, error)
}

// LinkOpener resolves public links into read-only backends.
type LinkOpener interface {
	OpenLink(ctx context.Context, link string) (Backend, error)
}
