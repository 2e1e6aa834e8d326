package listener

import (
	"sync/atomic"
	"time"

	"github.com/rescale/cloudcmd/internal/engine"
)

// Transfer is a blocking wrapper around one transfer.
type Transfer struct {
	forward   []engine.TransferListener
	finishing atomic.Bool
	result    completion[*engine.Transfer]
}

// NewTransfer returns a listener that also re-delivers every callback to forward.
func NewTransfer(forward ...engine.TransferListener) *Transfer {
	return &Transfer{
		forward: forward,
		result:  completion[*engine.Transfer]{done: make(chan struct{})},
	}
}

func (t *Transfer) OnTransferStart(tr *engine.Transfer) {
	for _, f := range t.forward {
		f.OnTransferStart(tr)
	}
}

func (t *Transfer) OnTransferUpdate(tr *engine.Transfer) {
	for _, f := range t.forward {
		f.OnTransferUpdate(tr)
	}
}

func (t *Transfer) OnTransferTemporaryError(tr *engine.Transfer, err error) {
	for _, f := range t.forward {
		f.OnTransferTemporaryError(tr, err)
	}
}

// OnTransferFinish records the outcome once; later calls are ignored.
func (t *Transfer) OnTransferFinish(tr *engine.Transfer, err error) {
	if !t.finishing.CompareAndSwap(false, true) {
		return
	}
	for _, f := range t.forward {
		f.OnTransferFinish(tr, err)
	}
	t.result.complete(tr.Clone(), err)
}

// Wait blocks until the transfer finishes.
func (t *Transfer) Wait() {
	t.result.wait()
}

// TryWait blocks for at most timeout and returns ErrTimeout if the transfer
// is still running.
func (t *Transfer) TryWait(timeout time.Duration) error {
	return t.result.tryWait(timeout)
}

// Done is closed once the transfer has finished.
func (t *Transfer) Done() <-chan struct{} {
	return t.result.done
}

// Finished reports whether the outcome is available.
func (t *Transfer) Finished() bool {
	return t.result.finished()
}

// Err returns the transfer's outcome, or nil while it is still running.
func (t *Transfer) Err() error {
	if !t.result.finished() {
		return nil
	}
	return t.result.err
}

// Transfer returns a snapshot of the finished transfer, or nil while it is
// still running.
func (t *Transfer) Transfer() *engine.Transfer {
	if !t.result.finished() {
		return nil
	}
	return t.result.value
}
