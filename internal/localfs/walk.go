package localfs

import (
	"io/fs"
	"path/filepath"
	"time"
)

// FileEntry is a regular file found by WalkFiles.
type FileEntry struct {
	Path    string // full local path
	Rel     string // slash-separated path relative to the walk root
	Size    int64
	ModTime time.Time
}

// WalkOptions configures WalkFiles.
type WalkOptions struct {
	// IncludeHidden includes hidden files and descends into hidden directories.
	IncludeHidden bool
}

// WalkFunc is called for every file. A non-nil error stops the walk.
type WalkFunc func(entry FileEntry) error

// WalkFiles visits every regular file below root in lexical order.
// In-progress downloads are never visited. An error reading a directory
// stops the walk.
func WalkFiles(root string, opts WalkOptions, fn WalkFunc) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if path != root && !opts.IncludeHidden && IsHiddenName(name) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() || IsPartialName(name) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return fn(FileEntry{
			Path:    path,
			Rel:     filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	})
}
