// Package transfer keeps daemon-wide transfer state: the history of finished
// transfers, the over-quota condition reported by the engine, and the
// textual transfer listing built from both.
package transfer

import (
	"container/list"
	"sync"

	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/engine"
)

// PathResolver turns a node handle into its current remote path.
type PathResolver func(engine.Handle) string

// LedgerStats holds counts over the ledger contents.
type LedgerStats struct {
	Completed int
	Failed    int
	Cancelled int
	Downloads int
	Uploads   int
}

// Total returns the number of entries counted.
func (s LedgerStats) Total() int {
	return s.Completed + s.Failed + s.Cancelled
}

// Ledger is a bounded history of finished transfers, newest first.
//
// It is registered with the engine as a global transfer listener, so
// OnTransferFinish runs on engine goroutines while commands read it; all
// access goes through mu.
type Ledger struct {
	mu      sync.RWMutex
	max     int
	entries *list.List // of *engine.Transfer, front is newest
	paths   map[engine.Handle]string
	refs    map[engine.Handle]int
	resolve PathResolver
}

// NewLedger returns a ledger holding at most max entries. A max of zero or
// less uses constants.MaxCompletedTransfers. resolve may be nil.
func NewLedger(max int, resolve PathResolver) *Ledger {
	if max <= 0 {
		max = constants.MaxCompletedTransfers
	}
	return &Ledger{
		max:     max,
		entries: list.New(),
		paths:   make(map[engine.Handle]string),
		refs:    make(map[engine.Handle]int),
		resolve: resolve,
	}
}

func (l *Ledger) OnTransferStart(*engine.Transfer)                 {}
func (l *Ledger) OnTransferUpdate(*engine.Transfer)                {}
func (l *Ledger) OnTransferTemporaryError(*engine.Transfer, error) {}

// OnTransferFinish records a copy of tr. The node path is looked up now
// because the node may be renamed or removed later.
func (l *Ledger) OnTransferFinish(tr *engine.Transfer, err error) {
	snapshot := tr.Clone()
	if err != nil && snapshot.LastError == nil {
		snapshot.LastError = err
	}

	path := ""
	if l.resolve != nil && tr.NodeHandle != engine.InvalidHandle {
		path = l.resolve(tr.NodeHandle)
	}
	l.Add(snapshot, path)
}

// Add pushes tr to the front, evicting the oldest entry when full. An empty
// path leaves the path cache untouched.
func (l *Ledger) Add(tr *engine.Transfer, path string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries.PushFront(tr)
	l.refs[tr.NodeHandle]++
	if path != "" {
		l.paths[tr.NodeHandle] = path
	}

	for l.entries.Len() > l.max {
		oldest := l.entries.Remove(l.entries.Back()).(*engine.Transfer)
		h := oldest.NodeHandle
		l.refs[h]--
		if l.refs[h] <= 0 {
			delete(l.refs, h)
			delete(l.paths, h)
		}
	}
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries.Len()
}

// Max returns the capacity.
func (l *Ledger) Max() int {
	return l.max
}

// Snapshot returns copies of up to limit entries, newest first. A limit of
// zero or less returns everything.
func (l *Ledger) Snapshot(limit int) []*engine.Transfer {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.entries.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*engine.Transfer, 0, n)
	for e := l.entries.Front(); e != nil && len(out) < n; e = e.Next() {
		out = append(out, e.Value.(*engine.Transfer).Clone())
	}
	return out
}

// Path returns the path recorded for h when its transfer finished.
func (l *Ledger) Path(h engine.Handle) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.paths[h]
	return p, ok
}

// Stats returns counts over the current entries.
func (l *Ledger) Stats() LedgerStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var stats LedgerStats
	for e := l.entries.Front(); e != nil; e = e.Next() {
		tr := e.Value.(*engine.Transfer)
		switch tr.State {
		case engine.TransferFailed:
			stats.Failed++
		case engine.TransferCancelled:
			stats.Cancelled++
		default:
			stats.Completed++
		}
		if tr.Type == engine.TransferUpload {
			stats.Uploads++
		} else {
			stats.Downloads++
		}
	}
	return stats
}

var _ engine.TransferListener = (*Ledger)(nil)
