// Package resources holds the fixed-size pool of anonymous sessions used to
// browse public links alongside the main session.
package resources

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/engine"
)

// ErrNotOccupied is returned when releasing a session the pool did not hand out.
var ErrNotOccupied = errors.New("session is not checked out from this pool")

// SessionFactory creates one anonymous session.
type SessionFactory func() (engine.FolderSession, error)

// PoolStats holds counts for the sessions command.
type PoolStats struct {
	Size     int
	Free     int
	Occupied int
}

// Pool hands out anonymous sessions. Acquire blocks on a counting semaphore
// until one is free; the free and occupied lists are guarded by mu.
type Pool struct {
	sem  *semaphore.Weighted
	size int

	mu       sync.Mutex
	free     []engine.FolderSession
	occupied []engine.FolderSession
}

// NewPool creates size sessions up front. A size of zero or less uses
// constants.FolderSessionPoolSize.
func NewPool(size int, factory SessionFactory) (*Pool, error) {
	if size <= 0 {
		size = constants.FolderSessionPoolSize
	}

	free := make([]engine.FolderSession, 0, size)
	for i := 0; i < size; i++ {
		s, err := factory()
		if err != nil {
			return nil, fmt.Errorf("failed to create folder session %d of %d: %w", i+1, size, err)
		}
		free = append(free, s)
	}

	return &Pool{
		sem:      semaphore.NewWeighted(int64(size)),
		size:     size,
		free:     free,
		occupied: make([]engine.FolderSession, 0, size),
	}, nil
}

// Acquire blocks until a session is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (engine.FolderSession, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.free[0]
	p.free = p.free[1:]
	p.occupied = append(p.occupied, s)
	return s, nil
}

// Release unbinds s from its link and returns it to the free queue.
func (p *Pool) Release(s engine.FolderSession) error {
	p.mu.Lock()
	idx := -1
	for i, o := range p.occupied {
		if o == s {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mu.Unlock()
		return ErrNotOccupied
	}
	p.occupied = append(p.occupied[:idx], p.occupied[idx+1:]...)
	s.CloseLink()
	p.free = append(p.free, s)
	p.mu.Unlock()

	p.sem.Release(1)
	return nil
}

// Stats returns the current counts.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Size: p.size, Free: len(p.free), Occupied: len(p.occupied)}
}
