package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/engine"
	"github.com/rescale/cloudcmd/internal/engine/enginetest"
	"github.com/rescale/cloudcmd/internal/events"
	"github.com/rescale/cloudcmd/internal/listener"
	"github.com/rescale/cloudcmd/internal/logging"
	"github.com/rescale/cloudcmd/internal/resources"
	"github.com/rescale/cloudcmd/internal/transfer"
)

type fixture struct {
	eng   *enginetest.Engine
	exec  *Executor
	quota *transfer.QuotaWatcher
	bus   *events.EventBus
	pool  *resources.Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	eng := enginetest.New()
	eng.AutoComplete = true

	bus := events.NewEventBus(64)
	t.Cleanup(bus.Close)
	pool, err := resources.NewPool(2, eng.NewFolderSession)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	logger := logging.NewNopLogger()
	quota := transfer.NewQuotaWatcher(eng, bus, logger)
	ledger := transfer.NewLedger(100, eng.NodePath)
	eng.AddTransferListener(ledger)

	exec := NewExecutor(Env{
		Engine: eng,
		Pool:   pool,
		Ledger: ledger,
		Quota:  quota,
		Bus:    bus,
		Logger: logger,
	})
	return &fixture{eng: eng, exec: exec, quota: quota, bus: bus, pool: pool}
}

func (f *fixture) run(t *testing.T, args ...string) (ExitCode, string) {
	t.Helper()
	return f.runWith(t, &Invocation{Args: args})
}

func (f *fixture) runWith(t *testing.T, inv *Invocation) (ExitCode, string) {
	t.Helper()
	var out bytes.Buffer
	inv.Out = &out

	done := make(chan ExitCode, 1)
	go func() { done <- f.exec.Execute(context.Background(), inv) }()
	select {
	case code := <-done:
		return code, out.String()
	case <-time.After(5 * time.Second):
		t.Fatalf("Timeout running %v", inv.Args)
		return 0, ""
	}
}

// scriptedAsker answers from a fixed list and records the prompts.
type scriptedAsker struct {
	mu      sync.Mutex
	answers []string
	prompts []string
}

func (a *scriptedAsker) Ask(prompt string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prompts = append(a.prompts, prompt)
	if len(a.answers) == 0 {
		return "", errors.New("no more answers")
	}
	answer := a.answers[0]
	a.answers = a.answers[1:]
	return answer, nil
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want ExitCode
	}{
		{nil, OK},
		{engine.NewError(engine.ENoent, 0), NotFound},
		{engine.NewError(engine.EArgs, 0), EArgs},
		{engine.NewError(engine.EAccess, 0), NotPermitted},
		{engine.NewError(engine.ESid, 0), NotLoggedIn},
		{engine.NewError(engine.EOverQuota, 30), EUnexpected},
		{errors.New("plain"), EUnexpected},
	}
	for _, tt := range tests {
		if got := ExitCodeFor(tt.err); got != tt.want {
			t.Errorf("ExitCodeFor(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if ReqConfirm.String() != "REQCONFIRM" || ExitCode(-7).String() != "-7" {
		t.Error("Unexpected exit code names")
	}
}

func TestParseConfirmation(t *testing.T) {
	tests := []struct {
		in   string
		want Confirmation
		ok   bool
	}{
		{"y", ConfirmYes, true},
		{" YES ", ConfirmYes, true},
		{"n", ConfirmNo, true},
		{"No", ConfirmNo, true},
		{"a", ConfirmAll, true},
		{"all", ConfirmAll, true},
		{"none", ConfirmNone, true},
		{"maybe", ConfirmNo, false},
		{"", ConfirmNo, false},
	}
	for _, tt := range tests {
		got, ok := ParseConfirmation(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseConfirmation(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestConfirm_ReasksUntilValid(t *testing.T) {
	a := &scriptedAsker{answers: []string{"what", "?", "a"}}
	got, err := Confirm(a, "Sure? ")
	if err != nil || got != ConfirmAll {
		t.Fatalf("Expected all, got %v, %v", got, err)
	}
	if len(a.prompts) != 3 || a.prompts[0] != "Sure? " || a.prompts[2] != constants.PromptConfirmRetry {
		t.Errorf("Unexpected prompts %q", a.prompts)
	}

	if _, err := Confirm(nil, "Sure? "); !errors.Is(err, ErrNotInteractive) {
		t.Errorf("Expected ErrNotInteractive, got %v", err)
	}
}

func TestExecute_UnknownAndEmpty(t *testing.T) {
	f := newFixture(t)
	if code, out := f.run(t, "frobnicate"); code != EArgs || !strings.Contains(out, "Command not found") {
		t.Errorf("Expected EARGS, got %v %q", code, out)
	}
	if code, _ := f.run(t); code != OK {
		t.Errorf("Empty petition should be OK, got %v", code)
	}
}

func TestExecute_RecoversPanic(t *testing.T) {
	f := newFixture(t)
	f.exec.commands["boom"] = command{run: func(context.Context, *Invocation) ExitCode { panic("kaboom") }}

	code, out := f.run(t, "boom")
	if code != EUnexpected || !strings.Contains(out, "Unexpected failure") {
		t.Errorf("Expected EUNEXPECTED, got %v %q", code, out)
	}
}

func TestGet_File(t *testing.T) {
	f := newFixture(t)
	f.eng.AddFile("/docs/a.txt", 10)
	dir := t.TempDir()

	sub := f.bus.Subscribe(events.EventProgress)
	defer sub.Close()

	code, out := f.runWith(t, &Invocation{Args: []string{"get", "/docs/a.txt", dir}, ClientID: 4})
	if code != OK {
		t.Fatalf("Expected OK, got %v: %q", code, out)
	}
	if !strings.Contains(out, filepath.Join(dir, "a.txt")) {
		t.Errorf("Expected destination in output, got %q", out)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-sub.C:
			p := ev.(*events.ProgressEvent)
			if p.Target() != 4 {
				t.Fatalf("Progress must be routed to the issuing client, got %d", p.Target())
			}
			if p.Transferred == constants.ProgressCompleted {
				return
			}
		case <-deadline:
			t.Fatal("Timeout waiting for completion notification")
		}
	}
}

func TestGet_Folder(t *testing.T) {
	f := newFixture(t)
	f.eng.AddFile("/docs/a.txt", 10)
	f.eng.AddFile("/docs/sub/b.txt", 20)

	code, out := f.run(t, "get", "/docs", t.TempDir())
	if code != OK || !strings.Contains(out, "2 files") {
		t.Fatalf("Expected OK with 2 files, got %v: %q", code, out)
	}
	if f.eng.Calls(engine.RequestQueryTransferQuota) != 1 {
		t.Error("Expected one quota check for the whole folder")
	}
}

func TestGet_FolderFirstFailure(t *testing.T) {
	f := newFixture(t)
	f.eng.AddFile("/docs/a.txt", 10)
	f.eng.AddFile("/docs/b.txt", 10)
	f.eng.FailPath("/docs/b.txt", engine.NewError(engine.EAccess, 0))

	code, out := f.run(t, "get", "/docs", t.TempDir())
	if code != NotPermitted || !strings.Contains(out, "Download failed") {
		t.Errorf("Expected NOTPERMITTED, got %v: %q", code, out)
	}
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)
	if code, _ := f.run(t, "get", "/missing"); code != NotFound {
		t.Errorf("Expected NOTFOUND, got %v", code)
	}
	if code, _ := f.run(t, "get"); code != EArgs {
		t.Errorf("Expected EARGS, got %v", code)
	}
}

func TestGet_OverQuota(t *testing.T) {
	f := newFixture(t)
	f.eng.AddFile("/big.bin", 1<<20)
	f.quota.OnTransferTemporaryError(&engine.Transfer{}, engine.NewError(engine.EOverQuota, 120))

	code, out := f.run(t, "get", "/big.bin", t.TempDir())
	if code != NotPermitted || !strings.Contains(out, "--ignore-quota-warn") {
		t.Fatalf("Expected quota warning, got %v: %q", code, out)
	}
	if len(f.eng.Tags()) != 0 {
		t.Error("No transfer should have started")
	}

	if code, out := f.run(t, "get", "--ignore-quota-warn", "/big.bin", t.TempDir()); code != OK {
		t.Errorf("Expected OK with --ignore-quota-warn, got %v: %q", code, out)
	}
}

func TestPut(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	one := filepath.Join(dir, "one.txt")
	if err := os.WriteFile(one, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	tree := filepath.Join(dir, "tree")
	if err := os.MkdirAll(filepath.Join(tree, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{filepath.Join(tree, "x.txt"), filepath.Join(tree, "nested", "y.txt")} {
		if err := os.WriteFile(p, []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("single file to new path", func(t *testing.T) {
		code, out := f.run(t, "put", one, "/renamed.txt")
		if code != OK || !strings.Contains(out, "/renamed.txt") {
			t.Fatalf("Expected OK, got %v: %q", code, out)
		}
		if code, _ := f.run(t, "ls", "/renamed.txt"); code != OK {
			t.Error("Uploaded file should exist")
		}
	})

	t.Run("folder into existing folder", func(t *testing.T) {
		f.eng.AddFolder("/backup")
		code, out := f.run(t, "put", tree, "/backup")
		if code != OK || !strings.Contains(out, "2 files") {
			t.Fatalf("Expected OK with 2 files, got %v: %q", code, out)
		}
		if code, _ := f.run(t, "ls", "/backup/tree/nested/y.txt"); code != OK {
			t.Error("Nested file should exist")
		}
	})

	t.Run("many into a file", func(t *testing.T) {
		if code, _ := f.run(t, "put", tree, "/renamed.txt"); code != InvalidType {
			t.Errorf("Expected INVALIDTYPE, got %v", code)
		}
	})

	t.Run("missing local", func(t *testing.T) {
		if code, _ := f.run(t, "put", filepath.Join(dir, "nope"), "/"); code != NotFound {
			t.Errorf("Expected NOTFOUND, got %v", code)
		}
	})
}

func TestLs(t *testing.T) {
	f := newFixture(t)
	f.eng.AddFile("/docs/a.txt", 2048)
	f.eng.AddFolder("/docs/sub")

	code, out := f.run(t, "ls", "/docs")
	if code != OK || out != "a.txt\nsub/\n" {
		t.Errorf("Unexpected listing %v %q", code, out)
	}

	code, out = f.run(t, "ls", "-l", "/docs")
	if code != OK || !strings.Contains(out, "2.0 KiB") || !strings.Contains(out, "d ") {
		t.Errorf("Unexpected long listing %v %q", code, out)
	}

	if code, _ := f.run(t, "ls", "/nope"); code != NotFound {
		t.Errorf("Expected NOTFOUND, got %v", code)
	}
}

func TestLs_LinkUsesPool(t *testing.T) {
	f := newFixture(t)
	f.eng.AddFile("/public/shared.txt", 1)
	f.eng.AddLink("https://example.test/s/abc", "/public")

	code, out := f.run(t, "ls", "--link=https://example.test/s/abc")
	if code != OK || !strings.Contains(out, "shared.txt") {
		t.Fatalf("Unexpected link listing %v %q", code, out)
	}
	if stats := f.pool.Stats(); stats.Free != 2 || stats.Occupied != 0 {
		t.Errorf("Session should be returned to the pool, got %+v", stats)
	}

	if code, _ := f.run(t, "ls", "--link=https://example.test/unknown"); code == OK {
		t.Error("Unknown link should fail")
	}
	if stats := f.pool.Stats(); stats.Free != 2 {
		t.Errorf("Failed link must still release its session, got %+v", stats)
	}
}

func TestRm(t *testing.T) {
	exists := func(f *fixture, p string) bool {
		l := listener.NewRequest()
		f.eng.Stat(p, l)
		l.Wait()
		return l.Err() == nil
	}

	t.Run("file", func(t *testing.T) {
		f := newFixture(t)
		f.eng.AddFile("/a.txt", 1)
		if code, _ := f.run(t, "rm", "/a.txt"); code != OK || exists(f, "/a.txt") {
			t.Errorf("Expected file removed, got %v", code)
		}
	})

	t.Run("folder needs -r", func(t *testing.T) {
		f := newFixture(t)
		f.eng.AddFolder("/dir")
		if code, _ := f.run(t, "rm", "/dir"); code != InvalidType || !exists(f, "/dir") {
			t.Errorf("Expected INVALIDTYPE, got %v", code)
		}
	})

	t.Run("non-empty folder needs confirmation", func(t *testing.T) {
		f := newFixture(t)
		f.eng.AddFile("/dir/a.txt", 1)
		code, out := f.run(t, "rm", "-r", "/dir")
		if code != ReqConfirm || !exists(f, "/dir") {
			t.Errorf("Expected REQCONFIRM, got %v: %q", code, out)
		}
		if code, _ := f.run(t, "rm", "-rf", "/dir"); code != OK || exists(f, "/dir") {
			t.Errorf("Expected -f to remove, got %v", code)
		}
	})

	t.Run("answers", func(t *testing.T) {
		f := newFixture(t)
		for _, d := range []string{"/d1", "/d2", "/d3", "/d4"} {
			f.eng.AddFile(d+"/x", 1)
		}

		asker := &scriptedAsker{answers: []string{"no", "huh", "all"}}
		code, _ := f.runWith(t, &Invocation{Args: []string{"rm", "-r", "/d1", "/d2", "/d3", "/d4"}, Interactive: true, Asker: asker})
		if code != OK {
			t.Fatalf("Expected OK, got %v", code)
		}
		if !exists(f, "/d1") {
			t.Error("/d1 was declined")
		}
		for _, d := range []string{"/d2", "/d3", "/d4"} {
			if exists(f, d) {
				t.Errorf("%s should be removed after all", d)
			}
		}
		if len(asker.prompts) != 3 || !strings.Contains(asker.prompts[0], constants.PromptAreYouSureDelete) {
			t.Errorf("Unexpected prompts %q", asker.prompts)
		}
	})

	t.Run("none stops", func(t *testing.T) {
		f := newFixture(t)
		f.eng.AddFile("/d1/x", 1)
		f.eng.AddFile("/d2/x", 1)
		asker := &scriptedAsker{answers: []string{"none"}}
		f.runWith(t, &Invocation{Args: []string{"rm", "-r", "/d1", "/d2"}, Asker: asker})
		if !exists(f, "/d1") || !exists(f, "/d2") {
			t.Error("none must keep every remaining folder")
		}
	})
}

func TestTransfers(t *testing.T) {
	f := newFixture(t)
	f.eng.AutoComplete = false
	f.eng.AddFile("/remote/a.bin", 100)
	f.eng.AddFile("/remote/b.bin", 100)

	r1, r2 := listener.NewTransfer(), listener.NewTransfer()
	f.eng.StartDownload("/remote/a.bin", "/tmp/a.bin", r1)
	f.eng.StartDownload("/remote/b.bin", "/tmp/b.bin", r2)
	tags := f.eng.WaitTransfers(2, time.Second)
	if len(tags) != 2 {
		t.Fatalf("Expected 2 transfers, got %v", tags)
	}
	f.eng.Progress(tags[0], 50)

	code, out := f.run(t, "transfers", "--path-display-size=30")
	if code != OK || !strings.Contains(out, "/remote/a.bin") || !strings.Contains(out, "50.00%") {
		t.Fatalf("Unexpected listing %v %q", code, out)
	}

	if code, out := f.run(t, "transfers", "-p", "-a"); code != OK || strings.Count(out, "pause requested") != 2 {
		t.Errorf("Expected both paused, got %v %q", code, out)
	}
	if code, _ := f.run(t, "transfers", "-c", "99"); code != NotFound {
		t.Errorf("Unknown tag should be NOTFOUND, got %v", code)
	}
	if code, _ := f.run(t, "transfers", "-c", "x"); code != EArgs {
		t.Errorf("Bad tag should be EARGS, got %v", code)
	}
	if code, _ := f.run(t, "transfers", "-c", "-p", "1"); code != EArgs {
		t.Errorf("Two actions should be EARGS, got %v", code)
	}

	if code, _ := f.run(t, "transfers", "-c", "-a"); code != OK {
		t.Errorf("Cancel all failed: %v", code)
	}
	if r1.TryWait(time.Second) != nil || r2.TryWait(time.Second) != nil {
		t.Fatal("Cancelled transfers should finish")
	}

	code, out = f.run(t, "transfers", "--only-completed", "--path-display-size=30")
	if code != OK || !strings.Contains(out, "CANCELLED") {
		t.Errorf("Expected cancelled transfers from the ledger, got %v %q", code, out)
	}
}

func TestQuotaAndSessions(t *testing.T) {
	f := newFixture(t)
	f.eng.SetAccount(engine.AccountDetails{TemporalBandwidth: 3 << 30, TemporalBandwidthInterval: 6, TemporalBandwidthValid: true, StorageUsed: 1 << 20}, nil)

	code, out := f.run(t, "quota")
	if code != OK || !strings.Contains(out, "3.0 GiB") || !strings.Contains(out, "Over quota: no") {
		t.Errorf("Unexpected quota output %v %q", code, out)
	}

	code, out = f.run(t, "sessions")
	if code != OK || !strings.Contains(out, "1.0 MiB") || !strings.Contains(out, "2 free") {
		t.Errorf("Unexpected sessions output %v %q", code, out)
	}
}

func TestHelpVersionReconnect(t *testing.T) {
	f := newFixture(t)

	code, out := f.run(t, "help")
	if code != OK {
		t.Fatalf("help failed: %v", code)
	}
	for _, name := range f.exec.Names() {
		if !strings.Contains(out, name) {
			t.Errorf("help should list %s", name)
		}
	}
	if code, _ := f.run(t, "help", "nope"); code != EArgs {
		t.Errorf("Expected EARGS, got %v", code)
	}

	if code, out := f.run(t, "version"); code != OK || !strings.HasPrefix(out, "cloudcmd ") {
		t.Errorf("Unexpected version output %v %q", code, out)
	}

	if code, _ := f.run(t, "reconnect"); code != OK || f.eng.Retries() != 1 {
		t.Errorf("Expected one retry, got %d", f.eng.Retries())
	}
}
