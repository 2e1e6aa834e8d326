// Package local serves a directory on the local filesystem as a cloud.Backend.
// It backs development setups and tests; public links are subdirectories of
// the root opened read-only.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rescale/cloudcmd/internal/cloud"
	"github.com/rescale/cloudcmd/internal/cloud/storage"
	"github.com/rescale/cloudcmd/internal/engine"
	"github.com/rescale/cloudcmd/internal/localfs"
)

// LinkScheme prefixes public links understood by OpenLink.
const LinkScheme = "local://"

// Backend stores objects as files below root.
type Backend struct {
	root     string
	readOnly bool
}

// New serves root, creating it if needed.
func New(root string) (*Backend, error) {
	if root == "" {
		return nil, fmt.Errorf("local backend root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", abs, err)
	}
	return &Backend{root: abs}, nil
}

func (b *Backend) Location() string {
	return LinkScheme + filepath.ToSlash(b.root)
}

func (b *Backend) full(p string) string {
	return filepath.Join(b.root, filepath.FromSlash(engine.CleanPath(p)))
}

func (b *Backend) object(p string, fi fs.FileInfo) cloud.Object {
	o := cloud.Object{Path: engine.CleanPath(p), ModTime: fi.ModTime(), Dir: fi.IsDir()}
	if !o.Dir {
		o.Size = fi.Size()
	}
	return o
}

func (b *Backend) Stat(ctx context.Context, p string) (cloud.Object, error) {
	if err := ctx.Err(); err != nil {
		return cloud.Object{}, storage.Classify(err)
	}
	fi, err := os.Stat(b.full(p))
	if err != nil {
		return cloud.Object{}, storage.Classify(err)
	}
	return b.object(p, fi), nil
}

func (b *Backend) List(ctx context.Context, p string, recursive bool) ([]cloud.Object, error) {
	p = engine.CleanPath(p)
	dir := b.full(p)

	var out []cloud.Object
	if recursive {
		err := filepath.WalkDir(dir, func(name string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(b.root, name)
			if err != nil {
				return err
			}
			out = append(out, b.object(filepath.ToSlash(rel), fi))
			return nil
		})
		if err != nil {
			return nil, storage.Classify(err)
		}
	} else {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, storage.Classify(err)
		}
		for _, e := range entries {
			fi, err := e.Info()
			if err != nil {
				continue // removed while listing
			}
			out = append(out, b.object(path.Join(p, e.Name()), fi))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (b *Backend) Get(ctx context.Context, p string, w io.Writer) (int64, error) {
	f, err := os.Open(b.full(p))
	if err != nil {
		return 0, storage.Classify(err)
	}
	defer f.Close()

	n, err := io.Copy(w, &ctxReader{ctx: ctx, r: f})
	if err != nil {
		return n, storage.Classify(err)
	}
	return n, nil
}

func (b *Backend) Put(ctx context.Context, p string, r io.Reader, size int64) error {
	if b.readOnly {
		return engine.NewError(engine.EAccess, 0)
	}
	target := b.full(p)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return storage.Classify(err)
	}

	// Write next to the target and rename so readers never see a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(target), localfs.PartialPattern(target))
	if err != nil {
		return storage.Classify(err)
	}
	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && size >= 0 && n != size {
		err = engine.Wrap(engine.ERead, fmt.Errorf("read %d of %d bytes", n, size))
	}
	if err == nil {
		err = os.Rename(tmp.Name(), target)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return storage.Classify(err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, p string) error {
	if b.readOnly {
		return engine.NewError(engine.EAccess, 0)
	}
	if engine.CleanPath(p) == "/" {
		return engine.NewError(engine.EArgs, 0)
	}
	target := b.full(p)
	if _, err := os.Lstat(target); err != nil {
		return storage.Classify(err)
	}
	return storage.Classify(os.RemoveAll(target))
}

func (b *Backend) Anonymous() (cloud.LinkOpener, error) {
	return &opener{root: b.root}, nil
}

type opener struct {
	root string
}

// OpenLink opens local://<dir>, where dir is relative to the served root.
func (o *opener) OpenLink(ctx context.Context, link string) (cloud.Backend, error) {
	rel, ok := strings.CutPrefix(link, LinkScheme)
	if !ok {
		return nil, engine.NewError(engine.EArgs, 0)
	}
	dir := filepath.Join(o.root, filepath.FromSlash(engine.CleanPath(rel)))
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, storage.Classify(err)
	}
	if !fi.IsDir() {
		return nil, engine.NewError(engine.EArgs, 0)
	}
	return &Backend{root: dir, readOnly: true}, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

var _ cloud.Backend = (*Backend)(nil)
