package objectstore

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rescale/cloudcmd/internal/cloud"
	"github.com/rescale/cloudcmd/internal/cloud/storage"
	"github.com/rescale/cloudcmd/internal/diskspace"
	"github.com/rescale/cloudcmd/internal/engine"
	"github.com/rescale/cloudcmd/internal/localfs"
	"github.com/rescale/cloudcmd/internal/progress"
)

// transfer is one in-flight upload or download. tr, started and the
// gate's state change under Engine.mu; the rest is owned by the goroutine
// running the transfer.
type transfer struct {
	tr      *engine.Transfer
	l       engine.TransferListener
	started bool

	kind   engine.TransferType
	local  string
	remote string

	ctx        context.Context
	cancel     context.CancelFunc
	gate       *gate
	lastUpdate time.Time
}

func (e *Engine) StartDownload(remotePath, localPath string, l engine.TransferListener) {
	remotePath = engine.CleanPath(remotePath)
	e.start(&engine.Transfer{
		Type:       engine.TransferDownload,
		LocalPath:  localPath,
		RemotePath: remotePath,
		NodeHandle: engine.HandleFor(remotePath),
		FileName:   path.Base(remotePath),
	}, l)
}

func (e *Engine) StartUpload(localPath, remotePath string, l engine.TransferListener) {
	remotePath = engine.CleanPath(remotePath)
	tr := &engine.Transfer{
		Type:       engine.TransferUpload,
		LocalPath:  localPath,
		RemotePath: remotePath,
		NodeHandle: engine.HandleFor(remotePath),
		FileName:   path.Base(remotePath),
	}
	if fi, err := os.Stat(localPath); err == nil && !fi.IsDir() {
		tr.TotalBytes = fi.Size()
	}
	e.start(tr, l)
}

func (e *Engine) start(tr *engine.Transfer, l engine.TransferListener) {
	ctx, cancel := context.WithCancel(e.ctx)
	t := &transfer{
		tr:     tr,
		l:      l,
		kind:   tr.Type,
		local:  tr.LocalPath,
		remote: tr.RemotePath,
		ctx:    ctx,
		cancel: cancel,
		gate:   &gate{},
	}

	e.mu.Lock()
	e.nextTag++
	tr.Tag = e.nextTag
	tr.State = engine.TransferQueued
	tr.StartTime = time.Now()
	e.transfers[tr.Tag] = t
	e.mu.Unlock()

	e.spawn(func() { e.run(t) })
}

// mutate applies fn to the transfer under the lock and returns a snapshot
// plus the listeners to notify, per-call first.
func (e *Engine) mutate(t *transfer, fn func(tr *engine.Transfer)) (*engine.Transfer, []engine.TransferListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fn != nil {
		fn(t.tr)
	}
	var ls []engine.TransferListener
	if t.l != nil {
		ls = append(ls, t.l)
	}
	ls = append(ls, slices.Clone(e.transferListeners)...)
	return t.tr.Clone(), ls
}

func (e *Engine) run(t *transfer) {
	snapshot, ls := e.mutate(t, nil)
	for _, l := range ls {
		l.OnTransferStart(snapshot)
	}

	err := e.slots.Acquire(t.ctx, 1)
	if err == nil {
		err = e.attempt(t)
		e.slots.Release(1)
	}
	e.finish(t, err)
}

// attempt moves the data, retrying temporary failures with backoff. An
// over-quota failure waits for the advertised cooldown instead.
func (e *Engine) attempt(t *transfer) error {
	delay := e.opts.RetryDelay
	for n := 1; ; n++ {
		e.mutate(t, func(tr *engine.Transfer) {
			t.started = true
			if tr.State != engine.TransferPaused {
				tr.State = engine.TransferActive
			}
			tr.TransferredBytes = 0
		})

		err := e.move(t)
		if err == nil {
			e.clearThrottle()
			return nil
		}
		err = storage.Classify(err)
		if t.ctx.Err() != nil {
			return engine.Wrap(engine.EIncomplete, t.ctx.Err())
		}
		if !storage.Retryable(err) || n >= e.opts.MaxAttempts {
			return err
		}

		wait, wakeable := delay, true
		if engine.CodeOf(err) == engine.EOverQuota {
			seconds := engine.ValueOf(err)
			e.throttled(seconds)
			wait, wakeable = time.Duration(seconds)*time.Second, false
		} else {
			delay = min(delay*2, e.opts.MaxRetryDelay)
		}

		snapshot, ls := e.mutate(t, func(tr *engine.Transfer) {
			tr.State = engine.TransferRetrying
			tr.LastError = err
		})
		e.logger.Warn().
			Int("tag", snapshot.Tag).
			Int("attempt", n).
			Dur("retry_in", wait).
			Err(err).
			Msg("Transfer failed temporarily")
		for _, l := range ls {
			l.OnTransferTemporaryError(snapshot, err)
		}

		if err := e.sleep(t.ctx, wait, wakeable); err != nil {
			return engine.Wrap(engine.EIncomplete, err)
		}
	}
}

// sleep waits d. A wakeable wait ends early when RetryPendingConnections
// is called; an advertised over-quota cooldown is always served in full.
func (e *Engine) sleep(ctx context.Context, d time.Duration, wakeable bool) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	var wake <-chan struct{}
	if wakeable {
		wake = e.wakeChan()
	}
	select {
	case <-timer.C:
		return nil
	case <-wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) move(t *transfer) error {
	if t.kind == engine.TransferUpload {
		return e.upload(t)
	}
	return e.download(t)
}

func (e *Engine) download(t *transfer) error {
	o, err := e.backend.Stat(t.ctx, t.remote)
	if err != nil {
		return err
	}
	if o.Dir {
		return engine.NewError(engine.EArgs, 0)
	}
	e.remember(toNode(o))
	e.mutate(t, func(tr *engine.Transfer) { tr.TotalBytes = o.Size })

	dir := filepath.Dir(t.local)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := diskspace.CheckAvailableSpace(t.local, o.Size, 1.0); err != nil {
		return engine.Wrap(engine.EWrite, err)
	}
	tmp, err := os.CreateTemp(dir, localfs.PartialPattern(t.local))
	if err != nil {
		return err
	}

	m := e.newMeter(t)
	_, err = e.backend.Get(t.ctx, t.remote, &meteredWriter{w: tmp, m: m})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), t.local)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	m.flush()
	return nil
}

func (e *Engine) upload(t *transfer) error {
	f, err := os.Open(t.local)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return engine.NewError(engine.EArgs, 0)
	}
	size := fi.Size()
	e.mutate(t, func(tr *engine.Transfer) { tr.TotalBytes = size })

	m := e.newMeter(t)
	src := progress.NewReader(&gatedReader{r: f, g: t.gate, ctx: t.ctx}, m.reached)
	if err := e.backend.Put(t.ctx, t.remote, src, size); err != nil {
		return err
	}
	e.remember(toNode(cloud.Object{Path: t.remote, Size: size, ModTime: time.Now()}))
	m.flush()
	return nil
}

func (e *Engine) finish(t *transfer, err error) {
	if err != nil && t.ctx.Err() != nil {
		err = engine.Wrap(engine.EIncomplete, t.ctx.Err())
	}
	t.cancel()

	e.mu.Lock()
	tr := t.tr
	switch engine.CodeOf(err) {
	case engine.OK:
		tr.State = engine.TransferCompleted
	case engine.EIncomplete:
		tr.State = engine.TransferCancelled
	default:
		tr.State = engine.TransferFailed
		tr.LastError = err
	}
	tr.UpdateTime = time.Now()
	delete(e.transfers, tr.Tag)
	e.mu.Unlock()

	snapshot, ls := e.mutate(t, nil)
	e.logger.Debug().
		Int("tag", snapshot.Tag).
		Str("type", snapshot.Type.String()).
		Str("state", snapshot.State.String()).
		Str("remote", snapshot.RemotePath).
		Msg("Transfer finished")
	for _, l := range ls {
		l.OnTransferFinish(snapshot, err)
	}
}

// meter counts bytes moved by one attempt and emits throttled updates.
type meter struct {
	e     *Engine
	t     *transfer
	start time.Time
	done  int64
}

func (e *Engine) newMeter(t *transfer) *meter {
	return &meter{e: e, t: t, start: time.Now()}
}

func (m *meter) wait() error {
	return m.t.gate.wait(m.t.ctx)
}

func (m *meter) add(n int) {
	if n <= 0 {
		return
	}
	m.done += int64(n)
	now := time.Now()
	m.e.usage.Add(now, int64(n))
	if now.Sub(m.t.lastUpdate) < m.e.opts.UpdateInterval {
		return
	}
	m.report(now)
}

// reached is the progress.Reader callback: current is the running total.
func (m *meter) reached(current int64) {
	m.add(int(current - m.done))
}

// flush reports the final byte count.
func (m *meter) flush() {
	m.report(time.Now())
}

func (m *meter) report(now time.Time) {
	m.t.lastUpdate = now
	var speed int64
	if elapsed := now.Sub(m.start).Seconds(); elapsed > 0 {
		speed = int64(float64(m.done) / elapsed)
	}
	snapshot, ls := m.e.mutate(m.t, func(tr *engine.Transfer) {
		tr.TransferredBytes = m.done
		tr.Speed = speed
		tr.UpdateTime = now
	})
	for _, l := range ls {
		l.OnTransferUpdate(snapshot)
	}
}

type meteredWriter struct {
	w io.Writer
	m *meter
}

func (w *meteredWriter) Write(p []byte) (int, error) {
	if err := w.m.wait(); err != nil {
		return 0, err
	}
	n, err := w.w.Write(p)
	w.m.add(n)
	return n, err
}

// gatedReader holds reads while the transfer is paused.
type gatedReader struct {
	r   io.Reader
	g   *gate
	ctx context.Context
}

func (r *gatedReader) Read(p []byte) (int, error) {
	if err := r.g.wait(r.ctx); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// gate blocks data movement while a transfer is paused.
type gate struct {
	mu     sync.Mutex
	paused chan struct{}
}

func (g *gate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused == nil {
		g.paused = make(chan struct{})
	}
}

func (g *gate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused != nil {
		close(g.paused)
		g.paused = nil
	}
}

func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.paused
	g.mu.Unlock()
	if ch == nil {
		return ctx.Err()
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
