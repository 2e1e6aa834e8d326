package objectstore

import (
	"context"
	"sync"

	"github.com/rescale/cloudcmd/internal/cloud"
	"github.com/rescale/cloudcmd/internal/engine"
)

// folderSession browses a public link with anonymous access. Its requests
// share the engine's goroutines and global listeners.
type folderSession struct {
	engine *Engine
	opener cloud.LinkOpener

	mu      sync.Mutex
	link    string
	backend cloud.Backend
}

func (f *folderSession) Location() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.link
}

func (f *folderSession) OpenLink(link string, l engine.RequestListener) {
	f.engine.request(&engine.Request{Type: engine.RequestOpenLink, Link: link}, l, func(ctx context.Context, req *engine.Request) error {
		b, err := f.opener.OpenLink(ctx, link)
		if err != nil {
			return err
		}
		f.mu.Lock()
		f.link = link
		f.backend = b
		f.mu.Unlock()
		return nil
	})
}

func (f *folderSession) CloseLink() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.link = ""
	f.backend = nil
}

func (f *folderSession) bound() (cloud.Backend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.backend == nil {
		return nil, engine.NewError(engine.EAccess, 0)
	}
	return f.backend, nil
}

func (f *folderSession) FetchNodes(l engine.RequestListener) {
	f.engine.request(&engine.Request{Type: engine.RequestFetchNodes}, l, func(ctx context.Context, req *engine.Request) error {
		b, err := f.bound()
		if err != nil {
			return err
		}
		objs, err := b.List(ctx, "/", true)
		if err != nil {
			return err
		}
		req.TotalBytes = int64(len(objs))
		req.TransferredBytes = req.TotalBytes
		return nil
	})
}

func (f *folderSession) List(p string, recursive bool, l engine.RequestListener) {
	p = engine.CleanPath(p)
	f.engine.request(&engine.Request{Type: engine.RequestList, Path: p, Flag: recursive}, l, func(ctx context.Context, req *engine.Request) error {
		b, err := f.bound()
		if err != nil {
			return err
		}
		nodes, err := listNodes(ctx, b, p, recursive)
		req.Nodes = nodes
		return err
	})
}

func (f *folderSession) Stat(p string, l engine.RequestListener) {
	p = engine.CleanPath(p)
	f.engine.request(&engine.Request{Type: engine.RequestStat, Path: p}, l, func(ctx context.Context, req *engine.Request) error {
		b, err := f.bound()
		if err != nil {
			return err
		}
		n, err := statNode(ctx, b, p)
		if err != nil {
			return err
		}
		req.Node = &n
		return nil
	})
}

var _ engine.FolderSession = (*folderSession)(nil)
