package daemon

import (
	"sync"
	"time"
)

// worker is the handle of one petition being executed.
type worker struct {
	petition *Petition
	started  time.Time
	done     chan struct{}
}

// registry tracks running workers and the ones that finished but were not
// reclaimed yet.
type registry struct {
	mu       sync.Mutex
	running  map[*worker]struct{}
	finished []*worker
	peak     int
	wg       sync.WaitGroup
}

func newRegistry() *registry {
	return &registry{running: make(map[*worker]struct{})}
}

// start records a worker for p. It must be called before the worker's
// goroutine is started.
func (r *registry) start(p *Petition) *worker {
	w := &worker{petition: p, started: time.Now(), done: make(chan struct{})}
	r.wg.Add(1)

	r.mu.Lock()
	r.running[w] = struct{}{}
	if n := len(r.running); n > r.peak {
		r.peak = n
	}
	r.mu.Unlock()
	return w
}

// finish moves w to the finished list. Called by the worker itself, last.
func (r *registry) finish(w *worker) {
	r.mu.Lock()
	delete(r.running, w)
	r.finished = append(r.finished, w)
	r.mu.Unlock()

	close(w.done)
	r.wg.Done()
}

// reclaim joins every finished worker and returns how many were reclaimed.
func (r *registry) reclaim() int {
	r.mu.Lock()
	finished := r.finished
	r.finished = nil
	r.mu.Unlock()

	for _, w := range finished {
		<-w.done
	}
	return len(finished)
}

// wait blocks until no worker is running.
func (r *registry) wait() {
	r.wg.Wait()
}

func (r *registry) runningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

func (r *registry) peakRunning() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}
