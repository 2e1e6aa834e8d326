package transfer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/engine"
)

func TestLedger_BoundAndEviction(t *testing.T) {
	l := NewLedger(0, nil)
	if l.Max() != constants.MaxCompletedTransfers {
		t.Fatalf("Expected default capacity %d, got %d", constants.MaxCompletedTransfers, l.Max())
	}

	for i := 1; i <= constants.MaxCompletedTransfers+1; i++ {
		p := fmt.Sprintf("/file-%d", i)
		l.Add(&engine.Transfer{Tag: i, NodeHandle: engine.HandleFor(p)}, p)
	}

	if l.Len() != constants.MaxCompletedTransfers {
		t.Fatalf("Expected %d entries, got %d", constants.MaxCompletedTransfers, l.Len())
	}

	entries := l.Snapshot(0)
	if entries[0].Tag != constants.MaxCompletedTransfers+1 {
		t.Errorf("Newest entry should be first, got tag %d", entries[0].Tag)
	}
	if last := entries[len(entries)-1].Tag; last != 2 {
		t.Errorf("Oldest surviving entry should be tag 2, got %d", last)
	}
	for _, tr := range entries {
		if tr.Tag == 1 {
			t.Fatal("The first inserted entry should have been evicted")
		}
	}

	if _, ok := l.Path(engine.HandleFor("/file-1")); ok {
		t.Error("Evicted entry's path should be dropped")
	}
	if p, ok := l.Path(engine.HandleFor("/file-2")); !ok || p != "/file-2" {
		t.Errorf("Expected surviving path /file-2, got %q (%v)", p, ok)
	}
}

func TestLedger_SharedHandleKeepsPath(t *testing.T) {
	l := NewLedger(2, nil)
	h := engine.HandleFor("/same")

	l.Add(&engine.Transfer{Tag: 1, NodeHandle: h}, "/same")
	l.Add(&engine.Transfer{Tag: 2, NodeHandle: h}, "/same")
	l.Add(&engine.Transfer{Tag: 3, NodeHandle: engine.HandleFor("/other")}, "/other")

	if p, ok := l.Path(h); !ok || p != "/same" {
		t.Errorf("Path must survive while another entry refers to it, got %q (%v)", p, ok)
	}

	l.Add(&engine.Transfer{Tag: 4, NodeHandle: engine.HandleFor("/other")}, "/other")
	if _, ok := l.Path(h); ok {
		t.Error("Path should go once no entry refers to it")
	}
}

func TestLedger_OnTransferFinish(t *testing.T) {
	resolved := 0
	l := NewLedger(10, func(h engine.Handle) string {
		resolved++
		if h == engine.HandleFor("/docs/a.txt") {
			return "/docs/a.txt"
		}
		return ""
	})

	tr := &engine.Transfer{Tag: 5, NodeHandle: engine.HandleFor("/docs/a.txt"), State: engine.TransferCompleted, TransferredBytes: 10}
	l.OnTransferFinish(tr, nil)
	tr.TransferredBytes = 0

	failure := engine.NewError(engine.EWrite, 0)
	l.OnTransferFinish(&engine.Transfer{Tag: 6, State: engine.TransferFailed}, failure)

	entries := l.Snapshot(0)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[1].TransferredBytes != 10 {
		t.Error("Ledger must store a copy, not the engine's transfer")
	}
	if entries[0].LastError != failure {
		t.Errorf("Failure should be recorded, got %v", entries[0].LastError)
	}
	if resolved != 1 {
		t.Errorf("Only transfers with a node handle should be resolved, got %d lookups", resolved)
	}
	if p, _ := l.Path(engine.HandleFor("/docs/a.txt")); p != "/docs/a.txt" {
		t.Errorf("Expected path cached at completion, got %q", p)
	}
}

func TestLedger_SnapshotLimit(t *testing.T) {
	l := NewLedger(10, nil)
	for i := 1; i <= 5; i++ {
		l.Add(&engine.Transfer{Tag: i}, "")
	}

	got := l.Snapshot(3)
	if len(got) != 3 || got[0].Tag != 5 || got[2].Tag != 3 {
		t.Errorf("Unexpected limited snapshot: %+v", got)
	}

	got[0].Tag = 99
	if l.Snapshot(1)[0].Tag != 5 {
		t.Error("Snapshot must return copies")
	}
}

func TestLedger_Stats(t *testing.T) {
	l := NewLedger(10, nil)
	l.Add(&engine.Transfer{Type: engine.TransferDownload, State: engine.TransferCompleted}, "")
	l.Add(&engine.Transfer{Type: engine.TransferUpload, State: engine.TransferFailed}, "")
	l.Add(&engine.Transfer{Type: engine.TransferUpload, State: engine.TransferCancelled}, "")

	stats := l.Stats()
	want := LedgerStats{Completed: 1, Failed: 1, Cancelled: 1, Downloads: 1, Uploads: 2}
	if stats != want {
		t.Errorf("Expected %+v, got %+v", want, stats)
	}
	if stats.Total() != 3 {
		t.Errorf("Expected total 3, got %d", stats.Total())
	}
}

func TestLedger_ConcurrentWritersAndReaders(t *testing.T) {
	l := NewLedger(100, nil)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				l.OnTransferFinish(&engine.Transfer{Tag: w*1000 + i, NodeHandle: engine.Handle(i + 1)}, nil)
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = l.Snapshot(10)
				_ = l.Stats()
			}
		}()
	}
	wg.Wait()

	if l.Len() != 100 {
		t.Errorf("Expected ledger at capacity, got %d", l.Len())
	}
}
