package resources

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/engine"
	"github.com/rescale/cloudcmd/internal/engine/enginetest"
)

func newTestPool(t *testing.T, size int) (*Pool, *enginetest.Engine) {
	t.Helper()
	eng := enginetest.New()
	pool, err := NewPool(size, eng.NewFolderSession)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	return pool, eng
}

func TestNewPool_CreatesSessionsUpFront(t *testing.T) {
	pool, eng := newTestPool(t, 0)

	if eng.FolderSessions() != constants.FolderSessionPoolSize {
		t.Errorf("Expected %d sessions, got %d", constants.FolderSessionPoolSize, eng.FolderSessions())
	}
	want := PoolStats{Size: constants.FolderSessionPoolSize, Free: constants.FolderSessionPoolSize}
	if got := pool.Stats(); got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestNewPool_FactoryError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := NewPool(3, func() (engine.FolderSession, error) {
		calls++
		if calls == 2 {
			return nil, boom
		}
		return enginetest.New().NewFolderSession()
	})
	if !errors.Is(err, boom) {
		t.Errorf("Expected factory error, got %v", err)
	}
}

func TestPool_AcquireRelease(t *testing.T) {
	pool, _ := newTestPool(t, 2)
	ctx := context.Background()

	a, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	b, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if a == b {
		t.Fatal("Two holders must not share a session")
	}
	if got := pool.Stats(); got.Free != 0 || got.Occupied != 2 {
		t.Errorf("Expected all occupied, got %+v", got)
	}

	if err := pool.Release(a); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := pool.Release(a); !errors.Is(err, ErrNotOccupied) {
		t.Errorf("Double release should fail, got %v", err)
	}
	if got := pool.Stats(); got.Free != 1 || got.Occupied != 1 {
		t.Errorf("Expected one free, got %+v", got)
	}
}

func TestPool_AcquireBlocksWhenExhausted(t *testing.T) {
	pool, _ := newTestPool(t, 1)
	held, _ := pool.Acquire(context.Background())

	got := make(chan engine.FolderSession, 1)
	go func() {
		s, err := pool.Acquire(context.Background())
		if err == nil {
			got <- s
		}
	}()

	select {
	case <-got:
		t.Fatal("Acquire should block while the pool is exhausted")
	case <-time.After(20 * time.Millisecond):
	}

	if err := pool.Release(held); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	select {
	case s := <-got:
		if s != held {
			t.Error("Expected the released session to be handed out")
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for blocked Acquire")
	}
}

func TestPool_AcquireContextCancel(t *testing.T) {
	pool, _ := newTestPool(t, 1)
	if _, err := pool.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if got := pool.Stats(); got.Occupied != 1 {
		t.Errorf("Failed acquire must not change the lists, got %+v", got)
	}
}

func TestPool_ReleaseClosesLink(t *testing.T) {
	pool, eng := newTestPool(t, 1)
	eng.AddFolder("/public")
	eng.AddLink("https://example.test/share", "/public")

	s, _ := pool.Acquire(context.Background())
	done := make(chan error, 1)
	s.OpenLink("https://example.test/share", &finishFunc{fn: func(err error) { done <- err }})
	if err := <-done; err != nil {
		t.Fatalf("OpenLink failed: %v", err)
	}
	if s.Location() != "/public" {
		t.Fatalf("Expected bound session, got %q", s.Location())
	}

	if err := pool.Release(s); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if s.Location() != "" {
		t.Errorf("Released session should be unbound, got %q", s.Location())
	}
}

func TestPool_ConcurrentHolders(t *testing.T) {
	pool, _ := newTestPool(t, 3)

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := pool.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			current.Add(-1)
			if err := pool.Release(s); err != nil {
				t.Errorf("Release failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak.Load() > 3 {
		t.Errorf("At most 3 holders allowed, saw %d", peak.Load())
	}
	if got := pool.Stats(); got.Free != 3 || got.Occupied != 0 {
		t.Errorf("All sessions should be back, got %+v", got)
	}
}

type finishFunc struct {
	engine.BaseRequestListener
	fn func(error)
}

func (f *finishFunc) OnRequestFinish(_ *engine.Request, err error) { f.fn(err) }
