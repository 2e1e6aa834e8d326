// Package objectstore implements engine.Engine on top of a cloud.Backend.
//
// Every call returns immediately. Requests run on their own goroutine and
// report to the global request listeners first, then to the per-call one.
// Transfers run on their own goroutine too, wait for one of MaxActive slots,
// and report to the per-call listener first, then to the global ones.
// Retryable backend errors (throttling, network) are reported as temporary
// errors and the transfer is attempted again after a delay.
package objectstore

import (
	"context"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rescale/cloudcmd/internal/cloud"
	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/engine"
	"github.com/rescale/cloudcmd/internal/logging"
)

// Options tunes the engine. Zero values use the defaults from constants.
type Options struct {
	// MaxActive bounds transfers moving bytes at once.
	MaxActive int
	// MaxAttempts bounds attempts per transfer on retryable errors.
	MaxAttempts int
	// RetryDelay is the first backoff delay; it doubles up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// UpdateInterval is the minimum spacing between update callbacks.
	UpdateInterval time.Duration
	// BandwidthLimit is the allowance over the bandwidth window, 0 for unlimited.
	BandwidthLimit int64
	// BandwidthWindow is the span account queries report usage over.
	BandwidthWindow time.Duration

	Logger *logging.Logger
}

func (o *Options) applyDefaults() {
	if o.MaxActive <= 0 {
		o.MaxActive = constants.MaxActiveTransfers
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = constants.MaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = constants.RetryInitialDelay
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = constants.RetryMaxDelay
	}
	if o.UpdateInterval <= 0 {
		o.UpdateInterval = constants.TransferUpdateInterval
	}
	if o.BandwidthWindow <= 0 {
		o.BandwidthWindow = constants.BandwidthWindowHours * time.Hour
	}
	if o.Logger == nil {
		o.Logger = logging.NewNopLogger()
	}
}

// Engine runs requests and transfers against one backend.
type Engine struct {
	backend cloud.Backend
	opts    Options
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	slots  *semaphore.Weighted

	// life orders spawning goroutines against Close.
	life   sync.RWMutex
	wg     sync.WaitGroup
	closed bool

	mu        sync.Mutex
	transfers map[int]*transfer
	nextTag   int
	paths     map[engine.Handle]string
	wake      chan struct{}

	requestListeners  []engine.RequestListener
	transferListeners []engine.TransferListener
	globalListeners   []engine.GlobalListener

	usage          *bandwidth
	overQuotaUntil atomic.Int64 // unix nanoseconds, 0 when not throttled
}

// New returns an engine over backend.
func New(backend cloud.Backend, opts Options) *Engine {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		backend:   backend,
		opts:      opts,
		logger:    opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
		slots:     semaphore.NewWeighted(int64(opts.MaxActive)),
		transfers: make(map[int]*transfer),
		paths:     map[engine.Handle]string{engine.HandleFor("/"): "/"},
		wake:      make(chan struct{}),
		usage:     newBandwidth(opts.BandwidthWindow),
	}
}

func (e *Engine) Location() string {
	return e.backend.Location()
}

// spawn runs fn on a goroutine Close waits for. After Close, fn still runs
// so its callbacks are delivered, but nothing waits for it.
func (e *Engine) spawn(fn func()) {
	e.life.RLock()
	defer e.life.RUnlock()
	if e.closed {
		go fn()
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// request runs fn on its own goroutine and delivers start and finish.
func (e *Engine) request(req *engine.Request, l engine.RequestListener, fn func(ctx context.Context, req *engine.Request) error) {
	e.mu.Lock()
	global := slices.Clone(e.requestListeners)
	e.mu.Unlock()

	e.spawn(func() {
		for _, g := range global {
			g.OnRequestStart(req)
		}
		if l != nil {
			l.OnRequestStart(req)
		}

		var err error
		if e.ctx.Err() != nil {
			err = engine.NewError(engine.EIncomplete, 0)
		} else if fn != nil {
			err = fn(e.ctx, req)
		}
		if err != nil {
			e.logger.Debug().Str("request", req.Type.String()).Err(err).Msg("Request failed")
		}

		for _, g := range global {
			g.OnRequestFinish(req, err)
		}
		if l != nil {
			l.OnRequestFinish(req, err)
		}
	})
}

// remember records the path of a node so NodePath can resolve its handle.
func (e *Engine) remember(n engine.Node) {
	e.mu.Lock()
	e.paths[n.Handle] = n.Path
	e.mu.Unlock()
}

func (e *Engine) forget(p string) {
	prefix := p + "/"
	e.mu.Lock()
	defer e.mu.Unlock()
	for h, candidate := range e.paths {
		if candidate == p || strings.HasPrefix(candidate, prefix) {
			delete(e.paths, h)
		}
	}
}

func toNode(o cloud.Object) engine.Node {
	p := engine.CleanPath(o.Path)
	n := engine.Node{
		Handle:  engine.HandleFor(p),
		Name:    path.Base(p),
		Path:    p,
		Type:    engine.NodeFile,
		Size:    o.Size,
		ModTime: o.ModTime,
	}
	if p == "/" {
		n.Name = ""
	}
	if o.Dir {
		n.Type = engine.NodeFolder
		n.Size = 0
	}
	return n
}

func statNode(ctx context.Context, b cloud.Backend, p string) (engine.Node, error) {
	o, err := b.Stat(ctx, engine.CleanPath(p))
	if err != nil {
		return engine.Node{}, err
	}
	return toNode(o), nil
}

func listNodes(ctx context.Context, b cloud.Backend, p string, recursive bool) ([]engine.Node, error) {
	n, err := statNode(ctx, b, p)
	if err != nil {
		return nil, err
	}
	if !n.IsFolder() {
		return []engine.Node{n}, nil
	}
	objs, err := b.List(ctx, n.Path, recursive)
	if err != nil {
		return nil, err
	}
	nodes := make([]engine.Node, 0, len(objs))
	for _, o := range objs {
		nodes = append(nodes, toNode(o))
	}
	return nodes, nil
}

func (e *Engine) FetchNodes(l engine.RequestListener) {
	e.request(&engine.Request{Type: engine.RequestFetchNodes}, l, func(ctx context.Context, req *engine.Request) error {
		objs, err := e.backend.List(ctx, "/", true)
		if err != nil {
			return err
		}
		req.TotalBytes = int64(len(objs))
		for i, o := range objs {
			e.remember(toNode(o))
			req.TransferredBytes = int64(i + 1)
		}
		if l != nil {
			l.OnRequestUpdate(req)
		}
		return nil
	})
}

func (e *Engine) Stat(p string, l engine.RequestListener) {
	p = engine.CleanPath(p)
	e.request(&engine.Request{Type: engine.RequestStat, Path: p}, l, func(ctx context.Context, req *engine.Request) error {
		n, err := statNode(ctx, e.backend, p)
		if err != nil {
			return err
		}
		e.remember(n)
		req.Node = &n
		return nil
	})
}

func (e *Engine) List(p string, recursive bool, l engine.RequestListener) {
	p = engine.CleanPath(p)
	e.request(&engine.Request{Type: engine.RequestList, Path: p, Flag: recursive}, l, func(ctx context.Context, req *engine.Request) error {
		nodes, err := listNodes(ctx, e.backend, p, recursive)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			e.remember(n)
		}
		req.Nodes = nodes
		return nil
	})
}

func (e *Engine) Remove(p string, l engine.RequestListener) {
	p = engine.CleanPath(p)
	e.request(&engine.Request{Type: engine.RequestRemove, Path: p}, l, func(ctx context.Context, req *engine.Request) error {
		if p == "/" {
			return engine.NewError(engine.EArgs, 0)
		}
		n, err := statNode(ctx, e.backend, p)
		if err != nil {
			return err
		}
		if n.IsFolder() {
			files, err := e.backend.List(ctx, p, true)
			if err != nil {
				return err
			}
			for _, f := range files {
				if err := e.backend.Delete(ctx, f.Path); err != nil && engine.CodeOf(err) != engine.ENoent {
					return err
				}
			}
		}
		if err := e.backend.Delete(ctx, p); err != nil && !(n.IsFolder() && engine.CodeOf(err) == engine.ENoent) {
			return err
		}
		e.forget(p)
		return nil
	})
}

func (e *Engine) GetAccountDetails(l engine.RequestListener) {
	e.request(&engine.Request{Type: engine.RequestAccountDetails}, l, func(ctx context.Context, req *engine.Request) error {
		objs, err := e.backend.List(ctx, "/", true)
		if err != nil {
			return err
		}
		var used int64
		for _, o := range objs {
			used += o.Size
		}

		now := time.Now()
		req.Account = &engine.AccountDetails{
			TemporalBandwidth:         e.usage.Total(now),
			TemporalBandwidthInterval: int(e.opts.BandwidthWindow / time.Hour),
			TemporalBandwidthValid:    true,
			BandwidthLimit:            e.opts.BandwidthLimit,
			OverQuotaDelay:            int64(e.throttledFor(now) / time.Second),
			StorageUsed:               used,
		}
		return nil
	})
}

func (e *Engine) QueryTransferQuota(size int64, l engine.RequestListener) {
	e.request(&engine.Request{Type: engine.RequestQueryTransferQuota, Number: size}, l, func(ctx context.Context, req *engine.Request) error {
		now := time.Now()
		req.Flag = e.throttledFor(now) > 0 ||
			(e.opts.BandwidthLimit > 0 && e.usage.Total(now)+size > e.opts.BandwidthLimit)
		return nil
	})
}

// throttledFor returns the remaining backend-advertised cooldown.
func (e *Engine) throttledFor(now time.Time) time.Duration {
	until := e.overQuotaUntil.Load()
	if until == 0 {
		return 0
	}
	if d := time.Unix(0, until).Sub(now); d > 0 {
		return d
	}
	return 0
}

// throttled records a cooldown reported by the backend.
func (e *Engine) throttled(seconds int64) {
	until := time.Now().Add(time.Duration(seconds) * time.Second).UnixNano()
	for {
		cur := e.overQuotaUntil.Load()
		if cur >= until || e.overQuotaUntil.CompareAndSwap(cur, until) {
			return
		}
	}
}

// clearThrottle ends a recorded cooldown once data moves again and tells
// global listeners the account changed.
func (e *Engine) clearThrottle() {
	if e.overQuotaUntil.Swap(0) == 0 {
		return
	}
	e.logger.Info().Msg("Backend accepting transfers again")
	e.fireAccountUpdate()
}

func (e *Engine) fireAccountUpdate() {
	e.mu.Lock()
	ls := slices.Clone(e.globalListeners)
	e.mu.Unlock()
	for _, l := range ls {
		l.OnAccountUpdate()
	}
}

func (e *Engine) NodePath(h engine.Handle) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paths[h]
}

func (e *Engine) Transfers() []*engine.Transfer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*engine.Transfer, 0, len(e.transfers))
	for _, t := range e.transfers {
		out = append(out, t.tr.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

func (e *Engine) CancelTransfer(tag int, l engine.RequestListener) {
	e.request(&engine.Request{Type: engine.RequestCancelTransfer, Tag: tag}, l, func(ctx context.Context, req *engine.Request) error {
		e.mu.Lock()
		t, ok := e.transfers[tag]
		e.mu.Unlock()
		if !ok {
			return engine.NewError(engine.ENoent, 0)
		}
		t.cancel()
		return nil
	})
}

func (e *Engine) PauseTransfer(tag int, pause bool, l engine.RequestListener) {
	e.request(&engine.Request{Type: engine.RequestPauseTransfer, Tag: tag, Flag: pause}, l, func(ctx context.Context, req *engine.Request) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		t, ok := e.transfers[tag]
		if !ok {
			return engine.NewError(engine.ENoent, 0)
		}
		if pause {
			t.gate.pause()
			t.tr.State = engine.TransferPaused
		} else {
			t.gate.resume()
			if t.started {
				t.tr.State = engine.TransferActive
			} else {
				t.tr.State = engine.TransferQueued
			}
		}
		return nil
	})
}

// RetryPendingConnections cuts short the backoff of transfers waiting to retry.
func (e *Engine) RetryPendingConnections() {
	e.mu.Lock()
	defer e.mu.Unlock()
	close(e.wake)
	e.wake = make(chan struct{})
}

func (e *Engine) wakeChan() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wake
}

func (e *Engine) NewFolderSession() (engine.FolderSession, error) {
	opener, err := e.backend.Anonymous()
	if err != nil {
		return nil, err
	}
	return &folderSession{engine: e, opener: opener}, nil
}

func (e *Engine) AddRequestListener(l engine.RequestListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requestListeners = append(e.requestListeners, l)
}

func (e *Engine) RemoveRequestListener(l engine.RequestListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requestListeners = slices.DeleteFunc(e.requestListeners, func(x engine.RequestListener) bool { return x == l })
}

func (e *Engine) AddTransferListener(l engine.TransferListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transferListeners = append(e.transferListeners, l)
}

func (e *Engine) RemoveTransferListener(l engine.TransferListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transferListeners = slices.DeleteFunc(e.transferListeners, func(x engine.TransferListener) bool { return x == l })
}

func (e *Engine) AddGlobalListener(l engine.GlobalListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.globalListeners = append(e.globalListeners, l)
}

func (e *Engine) RemoveGlobalListener(l engine.GlobalListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.globalListeners = slices.DeleteFunc(e.globalListeners, func(x engine.GlobalListener) bool { return x == l })
}

// Close cancels in-flight work and waits until every callback has been delivered.
func (e *Engine) Close() error {
	e.life.Lock()
	if e.closed {
		e.life.Unlock()
		return nil
	}
	e.closed = true
	e.life.Unlock()

	e.cancel()
	e.wg.Wait()
	return nil
}

var _ engine.Engine = (*Engine)(nil)
