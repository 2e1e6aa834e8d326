package listener

import (
	"sync/atomic"
	"time"

	"github.com/rescale/cloudcmd/internal/engine"
)

// Request is a blocking wrapper around one asynchronous engine request.
//
//	l := listener.NewRequest(watcher)
//	eng.GetAccountDetails(l)
//	l.Wait()
//	if err := l.Err(); err != nil { ... }
type Request struct {
	forward   []engine.RequestListener
	finishing atomic.Bool
	result    completion[*engine.Request]
}

// NewRequest returns a listener that also re-delivers every callback to forward.
func NewRequest(forward ...engine.RequestListener) *Request {
	return &Request{
		forward: forward,
		result:  completion[*engine.Request]{done: make(chan struct{})},
	}
}

func (r *Request) OnRequestStart(req *engine.Request) {
	for _, f := range r.forward {
		f.OnRequestStart(req)
	}
}

func (r *Request) OnRequestUpdate(req *engine.Request) {
	for _, f := range r.forward {
		f.OnRequestUpdate(req)
	}
}

func (r *Request) OnRequestTemporaryError(req *engine.Request, err error) {
	for _, f := range r.forward {
		f.OnRequestTemporaryError(req, err)
	}
}

// OnRequestFinish records the outcome. Subscribers see the finish before any
// waiter is released. A second finish for the same request is ignored.
func (r *Request) OnRequestFinish(req *engine.Request, err error) {
	if !r.finishing.CompareAndSwap(false, true) {
		return
	}
	for _, f := range r.forward {
		f.OnRequestFinish(req, err)
	}
	var snapshot *engine.Request
	if req != nil {
		c := *req
		snapshot = &c
	}
	r.result.complete(snapshot, err)
}

// Wait blocks until the request finishes. It never returns if the engine
// never finishes the request.
func (r *Request) Wait() {
	r.result.wait()
}

// TryWait blocks for at most timeout and returns ErrTimeout if the request is
// still running. A zero timeout only polls.
func (r *Request) TryWait(timeout time.Duration) error {
	return r.result.tryWait(timeout)
}

// Done is closed once the request has finished.
func (r *Request) Done() <-chan struct{} {
	return r.result.done
}

// Finished reports whether the outcome is available.
func (r *Request) Finished() bool {
	return r.result.finished()
}

// Err returns the request's outcome, or nil while it is still running.
func (r *Request) Err() error {
	if !r.result.finished() {
		return nil
	}
	return r.result.err
}

// Request returns the finished request's payload. Only valid after the
// request finished; nil before that.
func (r *Request) Request() *engine.Request {
	if !r.result.finished() {
		return nil
	}
	return r.result.value
}
