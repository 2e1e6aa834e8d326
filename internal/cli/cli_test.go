package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rescale/cloudcmd/internal/config"
	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/daemon"
	"github.com/rescale/cloudcmd/internal/notify"
)

func TestJoinArgsRoundTrip(t *testing.T) {
	tests := [][]string{
		{"ls", "-l", "/"},
		{"get", "/My Reports/q3.pdf", "./q3 final.pdf"},
		{"put", `a"b`, `c\d`, "/dst"},
		{"rm", ""},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, "_"), func(t *testing.T) {
			got := daemon.SplitWords(joinArgs(args))
			if strings.Join(got, "|") != strings.Join(args, "|") {
				t.Errorf("SplitWords(joinArgs(%q)) = %q", args, got)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	if err := exitCode(0); err != nil {
		t.Errorf("exitCode(0) = %v", err)
	}
	var coded *exitError
	if err := exitCode(-53); !errors.As(err, &coded) || coded.code != -53 {
		t.Errorf("exitCode(-53) = %v", err)
	}
}

type fakeReporter struct {
	updates   []int64
	completed []string
}

func (f *fakeReporter) Update(transferred, total int64, title string) {
	f.updates = append(f.updates, transferred)
}
func (f *fakeReporter) Complete(total int64, title string) { f.completed = append(f.completed, title) }
func (f *fakeReporter) Close()                             {}

func newTestView() (*shellView, *bytes.Buffer, *fakeReporter) {
	var out bytes.Buffer
	r := &fakeReporter{}
	return newShellView(&out, r, notify.NewNotifier(false, nil)), &out, r
}

func TestShellViewHandle(t *testing.T) {
	v, out, r := newTestView()

	v.handle("clientID:4")
	select {
	case <-v.ready:
	default:
		t.Fatal("ready not closed after clientID")
	}
	if v.id() != 4 {
		t.Errorf("id() = %d, want 4", v.id())
	}

	v.handle("prompt:Password:")
	if v.currentPrompt() != "Password:" {
		t.Errorf("currentPrompt() = %q", v.currentPrompt())
	}

	v.handle("message:New version available")
	if !strings.Contains(out.String(), "New version available") {
		t.Errorf("message not printed: %q", out.String())
	}

	v.handle("progress:10:100:DOWNLOAD")
	v.handle("progress:-2:100:DOWNLOAD")
	if len(r.updates) != 1 || r.updates[0] != 10 || len(r.completed) != 1 {
		t.Errorf("reporter got updates=%v completed=%v", r.updates, r.completed)
	}

	// A second clientID must not panic on the closed channel.
	v.handle("clientID:5")
}

func TestShellPetition(t *testing.T) {
	v, _, _ := newTestView()
	v.handle("clientID:3")
	m := string(constants.InteractiveMarker)

	tests := []struct {
		typed    string
		wantLine string
		wantStop bool
	}{
		{"", "", false},
		{"ls -l", m + "ls -l clientID=3", false},
		{"quit", m + "quit --only-shell clientID=3", true},
		{"exit --only-shell", m + "exit --only-shell clientID=3", true},
		{"quit --server", m + "quit clientID=3", true},
	}
	for _, tt := range tests {
		t.Run(tt.typed, func(t *testing.T) {
			line, stop := v.petition(tt.typed)
			if line != tt.wantLine || stop != tt.wantStop {
				t.Errorf("petition(%q) = %q, %v; want %q, %v", tt.typed, line, stop, tt.wantLine, tt.wantStop)
			}
		})
	}
}

func TestIsSecretPrompt(t *testing.T) {
	tests := []struct {
		prompt string
		want   bool
	}{
		{constants.PromptPassword, true},
		{constants.PromptRetypePassword, true},
		{constants.PromptAreYouSureDelete, false},
		{"cloudcmd> ", false},
	}
	for _, tt := range tests {
		if got := isSecretPrompt(tt.prompt); got != tt.want {
			t.Errorf("isSecretPrompt(%q) = %v, want %v", tt.prompt, got, tt.want)
		}
	}
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.conf")
	root := filepath.Join(dir, "objects")

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		cmd := NewRootCmd(context.Background())
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(append([]string{"--config", path}, args...))
		if err := cmd.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return out.String()
	}

	run("config", "init", "--provider", "local", "--root", root)
	cfg, err := config.LoadDaemonConfig(path)
	if err != nil {
		t.Fatalf("LoadDaemonConfig() error = %v", err)
	}
	if cfg.Storage.Provider != "local" || cfg.Storage.Root != root {
		t.Errorf("storage = %+v", cfg.Storage)
	}

	if out := run("config", "init", "--provider", "s3", "--bucket", "b"); !strings.Contains(out, "already exists") {
		t.Errorf("second init output = %q", out)
	}
	if out := run("config", "show"); !strings.Contains(out, root) {
		t.Errorf("show output = %q, want the local root", out)
	}
}
