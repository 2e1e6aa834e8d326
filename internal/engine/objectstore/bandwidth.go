package objectstore

import (
	"sync"
	"time"
)

type sample struct {
	at    time.Time
	bytes int64
}

// bandwidth sums bytes moved over a sliding window. Samples are merged per
// second so the window holds at most one entry per second of activity.
type bandwidth struct {
	mu      sync.Mutex
	window  time.Duration
	samples []sample
}

func newBandwidth(window time.Duration) *bandwidth {
	return &bandwidth{window: window}
}

// Add records n bytes moved at now.
func (b *bandwidth) Add(now time.Time, n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if last := len(b.samples) - 1; last >= 0 && now.Sub(b.samples[last].at) < time.Second {
		b.samples[last].bytes += n
	} else {
		b.samples = append(b.samples, sample{at: now, bytes: n})
	}
	b.prune(now)
}

// Total returns the bytes moved within the window ending at now.
func (b *bandwidth) Total(now time.Time) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(now)
	var total int64
	for _, s := range b.samples {
		total += s.bytes
	}
	return total
}

func (b *bandwidth) prune(now time.Time) {
	i := 0
	for i < len(b.samples) && now.Sub(b.samples[i].at) > b.window {
		i++
	}
	if i > 0 {
		b.samples = append(b.samples[:0], b.samples[i:]...)
	}
}
