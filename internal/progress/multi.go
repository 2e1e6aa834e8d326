package progress

import (
	"sync"

	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/engine"
)

// Multi aggregates a batch of transfers into one bar and one outcome.
//
// Callers call OnNewTransfer before submitting each member, pass the Multi
// itself as that member's transfer listener, then block in WaitMultiEnd.
// Members are tracked by tag while in flight; on finish their bytes move
// into the finished totals so no transfer is ever counted twice.
type Multi struct {
	opts Options

	mu   sync.Mutex
	cond *sync.Cond

	started  int
	finished int

	finishedTransferred int64
	finishedTotal       int64
	ongoingTransferred  map[int]int64
	ongoingTotal        map[int]int64

	finalErr error
	state    barState
}

// NewMulti returns an empty aggregator.
func NewMulti(opts Options) *Multi {
	m := &Multi{
		opts:               opts.normalized(),
		ongoingTransferred: make(map[int]int64),
		ongoingTotal:       make(map[int]int64),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// OnNewTransfer announces one more member. It must be called before the
// member is submitted to the engine.
func (m *Multi) OnNewTransfer() {
	m.mu.Lock()
	m.started++
	m.mu.Unlock()
}

func (m *Multi) OnTransferStart(tr *engine.Transfer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.finished = false
	m.update(tr)
}

func (m *Multi) OnTransferUpdate(tr *engine.Transfer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.update(tr)
}

func (m *Multi) OnTransferTemporaryError(*engine.Transfer, error) {}

// OnTransferFinish moves the member's bytes into the finished totals and
// records the first failure seen.
func (m *Multi) OnTransferFinish(tr *engine.Transfer, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.finished++
	if m.finalErr == nil && err != nil {
		m.finalErr = err
	}

	delete(m.ongoingTransferred, tr.Tag)
	delete(m.ongoingTotal, tr.Tag)
	m.finishedTransferred += tr.TransferredBytes
	m.finishedTotal += tr.TotalBytes

	m.cond.Broadcast()
}

// update must be called with mu held.
func (m *Multi) update(tr *engine.Transfer) {
	m.ongoingTransferred[tr.Tag] = tr.TransferredBytes
	m.ongoingTotal[tr.Tag] = tr.TotalBytes

	transferred, total := m.totals()
	percent := Percent(transferred, total)
	if m.state.draw(m.opts.Out, TransferPrefix, m.opts.Columns, transferred, total, percent, total) {
		m.opts.notify(transferred, total)
	}
}

// totals must be called with mu held.
func (m *Multi) totals() (transferred, total int64) {
	transferred, total = m.finishedTransferred, m.finishedTotal
	for tag, n := range m.ongoingTransferred {
		transferred += n
		total += m.ongoingTotal[tag]
	}
	return transferred, total
}

// WaitMultiEnd blocks until as many members have finished as had been
// announced when it was called.
func (m *Multi) WaitMultiEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	target := m.started
	for m.finished < target {
		m.cond.Wait()
	}
}

// Percent returns the aggregate progress in [0,100].
func (m *Multi) Percent() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Percent(m.totals())
}

// FinalError returns the first member failure, or nil if none failed.
func (m *Multi) FinalError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalErr
}

// Started returns the number of announced members.
func (m *Multi) Started() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Finished returns the number of members that reported an outcome.
func (m *Multi) Finished() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished
}

// TotalBytes returns the summed totals of finished and in-flight members.
func (m *Multi) TotalBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, total := m.totals()
	return total
}

// NotifyCompleted tells the client the batch is over.
func (m *Multi) NotifyCompleted() {
	m.opts.notify(constants.ProgressCompleted, m.TotalBytes())
}

var _ engine.TransferListener = (*Multi)(nil)
