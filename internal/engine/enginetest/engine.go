// Package enginetest provides an in-memory engine.Engine for tests.
//
// Requests finish on their own goroutine, the way a real engine delivers
// callbacks from internal threads. Transfers stay in flight until the test
// drives them with Progress and Finish, unless AutoComplete is set.
package enginetest

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/cloudcmd/internal/engine"
)

type transferEntry struct {
	tr *engine.Transfer
	l  engine.TransferListener
}

// Engine is an in-memory engine.Engine.
type Engine struct {
	mu        sync.Mutex
	nodes     map[string]engine.Node
	links     map[string]string
	transfers map[int]*transferEntry
	nextTag   int

	requestListeners  []engine.RequestListener
	transferListeners []engine.TransferListener
	globalListeners   []engine.GlobalListener

	account    engine.AccountDetails
	accountErr error
	overQuota  bool
	failures   map[engine.RequestType]error
	failPaths  map[string]error
	calls      map[engine.RequestType]int

	// AutoComplete finishes every transfer right after it starts.
	AutoComplete bool

	retries  atomic.Int32
	sessions atomic.Int32
	closed   atomic.Bool
}

// New returns an empty engine with a root folder.
func New() *Engine {
	e := &Engine{
		nodes:     make(map[string]engine.Node),
		links:     make(map[string]string),
		transfers: make(map[int]*transferEntry),
		failures:  make(map[engine.RequestType]error),
		failPaths: make(map[string]error),
		calls:     make(map[engine.RequestType]int),
	}
	e.nodes["/"] = engine.Node{Handle: engine.HandleFor("/"), Name: "", Path: "/", Type: engine.NodeFolder}
	return e
}

// AddFile creates a file node, and any missing parent folders.
func (e *Engine) AddFile(p string, size int64) engine.Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	p = engine.CleanPath(p)
	e.addParents(p)
	n := engine.Node{Handle: engine.HandleFor(p), Name: path.Base(p), Path: p, Type: engine.NodeFile, Size: size, ModTime: time.Now()}
	e.nodes[p] = n
	return n
}

// AddFolder creates a folder node, and any missing parent folders.
func (e *Engine) AddFolder(p string) engine.Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	p = engine.CleanPath(p)
	e.addParents(p)
	n := engine.Node{Handle: engine.HandleFor(p), Name: path.Base(p), Path: p, Type: engine.NodeFolder}
	e.nodes[p] = n
	return n
}

func (e *Engine) addParents(p string) {
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		if _, ok := e.nodes[dir]; !ok {
			e.nodes[dir] = engine.Node{Handle: engine.HandleFor(dir), Name: path.Base(dir), Path: dir, Type: engine.NodeFolder}
		}
	}
}

// AddLink makes link open the subtree at root for folder sessions.
func (e *Engine) AddLink(link, root string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.links[link] = engine.CleanPath(root)
}

// SetAccount sets the answer to GetAccountDetails.
func (e *Engine) SetAccount(details engine.AccountDetails, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.account = details
	e.accountErr = err
}

// SetOverQuota sets the answer to QueryTransferQuota.
func (e *Engine) SetOverQuota(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overQuota = v
}

// Fail makes every request of type t finish with err. A nil err clears it.
func (e *Engine) Fail(t engine.RequestType, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.failures, t)
		return
	}
	e.failures[t] = err
}

// FailPath makes auto-completed transfers of remote path p finish with err.
func (e *Engine) FailPath(p string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failPaths[engine.CleanPath(p)] = err
}

// Calls returns how many requests of type t were issued.
func (e *Engine) Calls(t engine.RequestType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[t]
}

// Retries returns how many times RetryPendingConnections ran.
func (e *Engine) Retries() int {
	return int(e.retries.Load())
}

// FolderSessions returns how many folder sessions were created.
func (e *Engine) FolderSessions() int {
	return int(e.sessions.Load())
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	return e.closed.Load()
}

func (e *Engine) Location() string { return "memory://test" }

// request runs fn to fill req and delivers the callbacks asynchronously.
func (e *Engine) request(req *engine.Request, l engine.RequestListener, fn func(req *engine.Request) error) {
	e.mu.Lock()
	e.calls[req.Type]++
	forced := e.failures[req.Type]
	global := append([]engine.RequestListener(nil), e.requestListeners...)
	e.mu.Unlock()

	go func() {
		for _, g := range global {
			g.OnRequestStart(req)
		}
		if l != nil {
			l.OnRequestStart(req)
		}

		err := forced
		if err == nil && fn != nil {
			err = fn(req)
		}

		for _, g := range global {
			g.OnRequestFinish(req, err)
		}
		if l != nil {
			l.OnRequestFinish(req, err)
		}
	}()
}

func (e *Engine) FetchNodes(l engine.RequestListener) {
	e.request(&engine.Request{Type: engine.RequestFetchNodes}, l, func(req *engine.Request) error {
		e.mu.Lock()
		req.TotalBytes = int64(len(e.nodes))
		e.mu.Unlock()
		req.TransferredBytes = req.TotalBytes
		if l != nil {
			l.OnRequestUpdate(req)
		}
		return nil
	})
}

func (e *Engine) Stat(p string, l engine.RequestListener) {
	p = engine.CleanPath(p)
	e.request(&engine.Request{Type: engine.RequestStat, Path: p}, l, func(req *engine.Request) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		n, ok := e.nodes[p]
		if !ok {
			return engine.NewError(engine.ENoent, 0)
		}
		req.Node = &n
		return nil
	})
}

func (e *Engine) List(p string, recursive bool, l engine.RequestListener) {
	p = engine.CleanPath(p)
	e.request(&engine.Request{Type: engine.RequestList, Path: p, Flag: recursive}, l, func(req *engine.Request) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		nodes, err := listLocked(e.nodes, p, recursive)
		req.Nodes = nodes
		return err
	})
}

func listLocked(nodes map[string]engine.Node, p string, recursive bool) ([]engine.Node, error) {
	n, ok := nodes[p]
	if !ok {
		return nil, engine.NewError(engine.ENoent, 0)
	}
	if !n.IsFolder() {
		return []engine.Node{n}, nil
	}

	prefix := strings.TrimSuffix(p, "/") + "/"
	var out []engine.Node
	for candidate, child := range nodes {
		if candidate == p || !strings.HasPrefix(candidate, prefix) {
			continue
		}
		rest := strings.TrimPrefix(candidate, prefix)
		if recursive {
			if !child.IsFolder() {
				out = append(out, child)
			}
		} else if !strings.Contains(rest, "/") {
			out = append(out, child)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (e *Engine) Remove(p string, l engine.RequestListener) {
	p = engine.CleanPath(p)
	e.request(&engine.Request{Type: engine.RequestRemove, Path: p}, l, func(req *engine.Request) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.nodes[p]; !ok {
			return engine.NewError(engine.ENoent, 0)
		}
		prefix := strings.TrimSuffix(p, "/") + "/"
		for candidate := range e.nodes {
			if candidate == p || strings.HasPrefix(candidate, prefix) {
				delete(e.nodes, candidate)
			}
		}
		return nil
	})
}

func (e *Engine) GetAccountDetails(l engine.RequestListener) {
	e.request(&engine.Request{Type: engine.RequestAccountDetails}, l, func(req *engine.Request) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.accountErr != nil {
			return e.accountErr
		}
		details := e.account
		req.Account = &details
		return nil
	})
}

func (e *Engine) QueryTransferQuota(size int64, l engine.RequestListener) {
	e.request(&engine.Request{Type: engine.RequestQueryTransferQuota, Number: size}, l, func(req *engine.Request) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		req.Flag = e.overQuota
		return nil
	})
}

func (e *Engine) StartDownload(remotePath, localPath string, l engine.TransferListener) {
	remotePath = engine.CleanPath(remotePath)
	e.mu.Lock()
	n := e.nodes[remotePath]
	e.mu.Unlock()
	e.startTransfer(&engine.Transfer{
		Type:       engine.TransferDownload,
		LocalPath:  localPath,
		RemotePath: remotePath,
		NodeHandle: engine.HandleFor(remotePath),
		FileName:   path.Base(remotePath),
		TotalBytes: n.Size,
	}, l)
}

func (e *Engine) StartUpload(localPath, remotePath string, l engine.TransferListener) {
	remotePath = engine.CleanPath(remotePath)
	var size int64
	if fi, err := os.Stat(localPath); err == nil {
		size = fi.Size()
	}
	e.startTransfer(&engine.Transfer{
		TotalBytes: size,
		Type:       engine.TransferUpload,
		LocalPath:  localPath,
		RemotePath: remotePath,
		NodeHandle: engine.HandleFor(remotePath),
		FileName:   path.Base(remotePath),
	}, l)
}

func (e *Engine) startTransfer(tr *engine.Transfer, l engine.TransferListener) {
	e.mu.Lock()
	e.nextTag++
	tr.Tag = e.nextTag
	tr.State = engine.TransferQueued
	tr.StartTime = time.Now()
	e.transfers[tr.Tag] = &transferEntry{tr: tr, l: l}
	auto := e.AutoComplete
	failure := e.failPaths[tr.RemotePath]
	e.mu.Unlock()

	if snapshot, ls, ok := e.mutate(tr.Tag, func(tr *engine.Transfer) { tr.State = engine.TransferActive }); ok {
		for _, t := range ls {
			t.OnTransferStart(snapshot)
		}
	}

	if auto {
		tag, total := tr.Tag, tr.TotalBytes
		go func() {
			if failure == nil {
				e.Progress(tag, total)
			}
			e.Finish(tag, failure)
		}()
	}
}

// mutate applies fn to the in-flight transfer under the lock and returns a
// snapshot plus the listeners to notify (per-call first, then global).
func (e *Engine) mutate(tag int, fn func(tr *engine.Transfer)) (*engine.Transfer, []engine.TransferListener, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.transfers[tag]
	if !ok {
		return nil, nil, false
	}
	fn(entry.tr)

	var ls []engine.TransferListener
	if entry.l != nil {
		ls = append(ls, entry.l)
	}
	ls = append(ls, e.transferListeners...)
	return entry.tr.Clone(), ls, true
}

// SetTotal changes the size of an in-flight transfer without notifying.
func (e *Engine) SetTotal(tag int, total int64) {
	e.mutate(tag, func(tr *engine.Transfer) { tr.TotalBytes = total })
}

// Progress reports transferred bytes for tag.
func (e *Engine) Progress(tag int, transferred int64) {
	snapshot, ls, ok := e.mutate(tag, func(tr *engine.Transfer) {
		tr.TransferredBytes = transferred
		tr.UpdateTime = time.Now()
	})
	if !ok {
		return
	}
	for _, t := range ls {
		t.OnTransferUpdate(snapshot)
	}
}

// TemporaryError reports a retryable failure for tag.
func (e *Engine) TemporaryError(tag int, err error) {
	snapshot, ls, ok := e.mutate(tag, func(tr *engine.Transfer) {
		tr.State = engine.TransferRetrying
		tr.LastError = err
	})
	if !ok {
		return
	}
	for _, t := range ls {
		t.OnTransferTemporaryError(snapshot, err)
	}
}

// Finish ends tag with err and removes it from the in-flight set.
func (e *Engine) Finish(tag int, err error) {
	snapshot, ls, ok := e.mutate(tag, func(tr *engine.Transfer) {
		switch engine.CodeOf(err) {
		case engine.OK:
			tr.State = engine.TransferCompleted
		case engine.EIncomplete:
			tr.State = engine.TransferCancelled
		default:
			tr.State = engine.TransferFailed
			tr.LastError = err
		}
		delete(e.transfers, tag)
		if err == nil && tr.Type == engine.TransferUpload {
			p := tr.RemotePath
			e.addParents(p)
			e.nodes[p] = engine.Node{Handle: engine.HandleFor(p), Name: path.Base(p), Path: p, Type: engine.NodeFile, Size: tr.TotalBytes}
		}
	})
	if !ok {
		panic(fmt.Sprintf("enginetest: finish of unknown transfer %d", tag))
	}
	for _, t := range ls {
		t.OnTransferFinish(snapshot, err)
	}
}

// Tags returns the tags of in-flight transfers in start order.
func (e *Engine) Tags() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	tags := make([]int, 0, len(e.transfers))
	for tag := range e.transfers {
		tags = append(tags, tag)
	}
	sort.Ints(tags)
	return tags
}

// WaitTransfers polls until n transfers are in flight or timeout elapses.
func (e *Engine) WaitTransfers(n int, timeout time.Duration) []int {
	deadline := time.Now().Add(timeout)
	for {
		tags := e.Tags()
		if len(tags) >= n || time.Now().After(deadline) {
			return tags
		}
		time.Sleep(time.Millisecond)
	}
}

func (e *Engine) Transfers() []*engine.Transfer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*engine.Transfer, 0, len(e.transfers))
	for _, entry := range e.transfers {
		out = append(out, entry.tr.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

func (e *Engine) CancelTransfer(tag int, l engine.RequestListener) {
	e.request(&engine.Request{Type: engine.RequestCancelTransfer, Tag: tag}, l, func(req *engine.Request) error {
		e.mu.Lock()
		_, ok := e.transfers[tag]
		e.mu.Unlock()
		if !ok {
			return engine.NewError(engine.ENoent, 0)
		}
		e.Finish(tag, engine.NewError(engine.EIncomplete, 0))
		return nil
	})
}

func (e *Engine) PauseTransfer(tag int, pause bool, l engine.RequestListener) {
	e.request(&engine.Request{Type: engine.RequestPauseTransfer, Tag: tag, Flag: pause}, l, func(req *engine.Request) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		entry, ok := e.transfers[tag]
		if !ok {
			return engine.NewError(engine.ENoent, 0)
		}
		if pause {
			entry.tr.State = engine.TransferPaused
		} else {
			entry.tr.State = engine.TransferActive
		}
		return nil
	})
}

func (e *Engine) NodePath(h engine.Handle) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	for p, n := range e.nodes {
		if n.Handle == h {
			return p
		}
	}
	return ""
}

// FireAccountUpdate delivers OnAccountUpdate to global listeners.
func (e *Engine) FireAccountUpdate() {
	e.mu.Lock()
	ls := append([]engine.GlobalListener(nil), e.globalListeners...)
	e.mu.Unlock()
	for _, l := range ls {
		l.OnAccountUpdate()
	}
}

func (e *Engine) NewFolderSession() (engine.FolderSession, error) {
	e.sessions.Add(1)
	return &folderSession{engine: e}, nil
}

func (e *Engine) AddRequestListener(l engine.RequestListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requestListeners = append(e.requestListeners, l)
}

func (e *Engine) RemoveRequestListener(l engine.RequestListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, x := range e.requestListeners {
		if x == l {
			e.requestListeners = append(e.requestListeners[:i], e.requestListeners[i+1:]...)
			return
		}
	}
}

func (e *Engine) AddTransferListener(l engine.TransferListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transferListeners = append(e.transferListeners, l)
}

func (e *Engine) RemoveTransferListener(l engine.TransferListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, x := range e.transferListeners {
		if x == l {
			e.transferListeners = append(e.transferListeners[:i], e.transferListeners[i+1:]...)
			return
		}
	}
}

func (e *Engine) AddGlobalListener(l engine.GlobalListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.globalListeners = append(e.globalListeners, l)
}

func (e *Engine) RemoveGlobalListener(l engine.GlobalListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, x := range e.globalListeners {
		if x == l {
			e.globalListeners = append(e.globalListeners[:i], e.globalListeners[i+1:]...)
			return
		}
	}
}

func (e *Engine) RetryPendingConnections() {
	e.retries.Add(1)
}

func (e *Engine) Close() error {
	e.closed.Store(true)
	return nil
}

// folderSession browses a subtree registered with AddLink.
type folderSession struct {
	engine *Engine
	mu     sync.Mutex
	root   string
}

func (f *folderSession) Location() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.root
}

func (f *folderSession) OpenLink(link string, l engine.RequestListener) {
	f.engine.request(&engine.Request{Type: engine.RequestOpenLink, Link: link}, l, func(req *engine.Request) error {
		f.engine.mu.Lock()
		root, ok := f.engine.links[link]
		f.engine.mu.Unlock()
		if !ok {
			return engine.NewError(engine.ENoent, 0)
		}
		f.mu.Lock()
		f.root = root
		f.mu.Unlock()
		return nil
	})
}

func (f *folderSession) CloseLink() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.root = ""
}

func (f *folderSession) resolve(p string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.root == "" {
		return "", engine.NewError(engine.EAccess, 0)
	}
	return engine.CleanPath(path.Join(f.root, p)), nil
}

func (f *folderSession) FetchNodes(l engine.RequestListener) {
	f.engine.request(&engine.Request{Type: engine.RequestFetchNodes}, l, nil)
}

func (f *folderSession) List(p string, recursive bool, l engine.RequestListener) {
	f.engine.request(&engine.Request{Type: engine.RequestList, Path: p, Flag: recursive}, l, func(req *engine.Request) error {
		full, err := f.resolve(p)
		if err != nil {
			return err
		}
		f.engine.mu.Lock()
		defer f.engine.mu.Unlock()
		nodes, err := listLocked(f.engine.nodes, full, recursive)
		req.Nodes = nodes
		return err
	})
}

func (f *folderSession) Stat(p string, l engine.RequestListener) {
	f.engine.request(&engine.Request{Type: engine.RequestStat, Path: p}, l, func(req *engine.Request) error {
		full, err := f.resolve(p)
		if err != nil {
			return err
		}
		f.engine.mu.Lock()
		defer f.engine.mu.Unlock()
		n, ok := f.engine.nodes[full]
		if !ok {
			return engine.NewError(engine.ENoent, 0)
		}
		req.Node = &n
		return nil
	})
}

var _ engine.Engine = (*Engine)(nil)
