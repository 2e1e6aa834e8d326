//go:build !windows

package ipc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rescale/cloudcmd/internal/commands"
	"github.com/rescale/cloudcmd/internal/daemon"
	"github.com/rescale/cloudcmd/internal/events"
	"github.com/rescale/cloudcmd/internal/logging"
)

// echoHandler writes the command line back, asks once when it can and
// returns NOTFOUND so tests can tell its exit code from the default.
type echoHandler struct {
	calls atomic.Int32
}

func (h *echoHandler) Execute(_ context.Context, inv *commands.Invocation) commands.ExitCode {
	h.calls.Add(1)
	fmt.Fprintf(inv.Out, "args=%v\n", inv.Args)
	if inv.Asker != nil {
		answer, err := inv.Asker.Ask("Sure? ")
		if err != nil {
			fmt.Fprintf(inv.Out, "ask failed: %v\n", err)
			return commands.EUnexpected
		}
		fmt.Fprintf(inv.Out, "answer=%s\n", answer)
	}
	return commands.NotFound
}

func startServer(t *testing.T) (*Client, *echoHandler, *events.EventBus) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "test.sock")
	logger := logging.NewNopLogger()

	server, err := NewServer(socketPath, logger)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	bus := events.NewEventBus(64)
	h := &echoHandler{}
	d := daemon.NewDispatcher(daemon.DispatcherConfig{
		Transport: server,
		Handler:   h,
		Listeners: daemon.NewStateListeners(bus, logger),
		Prompt:    daemon.NewPrompt(bus),
		Acker:     bus,
		Logger:    logger,
	})
	go d.Run()
	t.Cleanup(func() {
		d.Stop()
		select {
		case <-d.Done():
		case <-time.After(5 * time.Second):
			t.Error("dispatcher did not stop")
		}
	})

	return NewClient(socketPath), h, bus
}

func TestExecRoundTrip(t *testing.T) {
	client, h, _ := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	code, err := client.Exec(ctx, `ls "/my docs"`, &out, nil)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if code != int(commands.NotFound) {
		t.Errorf("code = %d, want %d", code, commands.NotFound)
	}
	if got := out.String(); got != "args=[ls /my docs]\n" {
		t.Errorf("output = %q", got)
	}
	if h.calls.Load() != 1 {
		t.Errorf("handler called %d times, want 1", h.calls.Load())
	}
}

func TestExecAnswersQuestions(t *testing.T) {
	client, _, _ := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var asked []string
	ask := func(prompt string) (string, error) {
		asked = append(asked, prompt)
		return "yes", nil
	}

	var out bytes.Buffer
	if _, err := client.Exec(ctx, "Xrm -r /a", &out, ask); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if len(asked) != 1 || asked[0] != "Sure? " {
		t.Errorf("asked %q, want one \"Sure? \"", asked)
	}
	if got := out.String(); got != "args=[rm -r /a]\nanswer=yes\n" {
		t.Errorf("output = %q", got)
	}
}

func TestExecWithoutAnswerer(t *testing.T) {
	client, _, _ := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Exec(ctx, "Xrm -r /a", io.Discard, nil); err == nil {
		t.Error("Exec() without an answerer succeeded on a question")
	}
}

func TestListenReceivesState(t *testing.T) {
	client, _, bus := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lines := make(chan string, 16)
	go client.Listen(ctx, true, func(line string) { lines <- line })

	next := func() string {
		t.Helper()
		select {
		case l := <-lines:
			return l
		case <-time.After(5 * time.Second):
			t.Fatal("no state line received")
			return ""
		}
	}

	if got := next(); got != "clientID:1" {
		t.Errorf("first line = %q, want clientID:1", got)
	}
	if got := next(); got != "prompt:cloudcmd> " {
		t.Errorf("second line = %q, want the prompt", got)
	}

	if code, err := client.Exec(ctx, "sendack", io.Discard, nil); err != nil || code != 0 {
		t.Fatalf("sendack = %d, %v", code, err)
	}
	if got := next(); got != "ack" {
		t.Errorf("line = %q, want ack", got)
	}

	bus.PublishProgress(1, 5, 10, "upload")
	if got := next(); got != "progress:5:10:upload" {
		t.Errorf("line = %q, want progress", got)
	}
}

func TestGarbagePetitionIsDismissed(t *testing.T) {
	client, h, _ := startServer(t)

	conn, err := net.Dial("unix", client.Address())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	conn.Write([]byte("this is not a frame\n"))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if _, err := conn.Read(make([]byte, 16)); !errors.Is(err, io.EOF) {
		t.Errorf("Read() error = %v, want EOF", err)
	}
	if h.calls.Load() != 0 {
		t.Error("garbage reached the command handler")
	}
}

func TestClientServerNotRunning(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	if client.IsServerRunning(context.Background()) {
		t.Error("IsServerRunning() = true with no server")
	}
	_, err := client.Exec(context.Background(), "ls", io.Discard, nil)
	if !errors.Is(err, ErrServerNotRunning) {
		t.Errorf("Exec() error = %v, want ErrServerNotRunning", err)
	}
}

func TestNewServerRefusesLiveSocket(t *testing.T) {
	client, _, _ := startServer(t)
	if _, err := NewServer(client.Address(), nil); err == nil {
		t.Error("second server started on a live socket")
	}
}
