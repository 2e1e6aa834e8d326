// Package listener bridges the engine's callback API to blocking command code.
//
// A Request or Transfer listener is created right before an engine call and
// handed to it; the issuing goroutine then blocks in Wait or TryWait until
// the engine delivers the single finish callback. Listeners
// can forward every callback to additional subscribers, which is how
// cross-cutting checks such as session invalidation observe all requests.
package listener

import (
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by TryWait when the operation did not finish in time.
// The outcome is unknown; it must not be read as success or failure.
var ErrTimeout = errors.New("operation did not complete in time")

// completion is a single-shot result slot: one writer (the engine callback),
// any number of waiters.
type completion[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// complete stores the outcome and releases waiters. Only the first call has
// any effect; it reports whether this call was the one that completed.
func (c *completion[T]) complete(value T, err error) bool {
	first := false
	c.once.Do(func() {
		c.value = value
		c.err = err
		first = true
		close(c.done)
	})
	return first
}

func (c *completion[T]) wait() {
	<-c.done
}

func (c *completion[T]) tryWait(timeout time.Duration) error {
	if timeout <= 0 {
		select {
		case <-c.done:
			return nil
		default:
			return ErrTimeout
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return nil
	case <-timer.C:
		return ErrTimeout
	}
}

func (c *completion[T]) finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
