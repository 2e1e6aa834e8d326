package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/daemon"
	"github.com/rescale/cloudcmd/internal/ipc"
	"github.com/rescale/cloudcmd/internal/notify"
	"github.com/rescale/cloudcmd/internal/progress"
)

func newShellCmd(a *app) *cobra.Command {
	var noNotify bool

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Open an interactive shell on the server",
		Long: `Open an interactive shell. Every line is sent to the server as an
interactive command; transfers started from this shell draw live progress
bars here.

  quit            close this shell, leave the server running
  quit --server   stop the server too`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ipc.NewClient(resolveAddress(a))
			ctx := a.context()
			if !client.IsServerRunning(ctx) {
				return fmt.Errorf("%w at %s; start it with '%s server'", ipc.ErrServerNotRunning, client.Address(), constants.AppName)
			}

			reporter := progress.NewReporter(os.Stdout, true)
			defer reporter.Close()
			out := io.Writer(os.Stdout)
			if b, ok := reporter.(*progress.Board); ok {
				out = b.Writer()
			}

			view := newShellView(out, reporter, notify.NewNotifier(!noNotify, a.logger))
			return runShell(ctx, client, view, os.Stdin)
		},
	}
	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "Disable desktop notifications")
	return cmd
}

// shellView applies state lines to what the user sees.
type shellView struct {
	out      io.Writer
	reporter progress.Reporter
	notifier *notify.Notifier

	mu       sync.Mutex
	clientID int
	prompt   string
	ready    chan struct{}
	once     sync.Once
}

func newShellView(out io.Writer, reporter progress.Reporter, notifier *notify.Notifier) *shellView {
	return &shellView{
		out:      out,
		reporter: reporter,
		notifier: notifier,
		prompt:   constants.DefaultPrompt,
		ready:    make(chan struct{}),
	}
}

func (v *shellView) handle(line string) {
	s := ipc.ParseState(line)
	switch s.Kind {
	case ipc.StateClientID:
		v.mu.Lock()
		v.clientID = s.ClientID
		v.mu.Unlock()
		v.once.Do(func() { close(v.ready) })
	case ipc.StatePrompt:
		v.mu.Lock()
		v.prompt = s.Text
		v.mu.Unlock()
	case ipc.StateMessage:
		fmt.Fprintln(v.out, s.Text)
		if strings.Contains(strings.ToLower(s.Text), "quota") {
			v.notifier.OverQuota(s.Text)
		}
	case ipc.StateProgress:
		showProgress(v.reporter, s)
		if s.Transferred == constants.ProgressCompleted && s.Title != "" {
			v.notifier.TransferFinished(s.Title, s.Total)
		}
	}
}

func (v *shellView) currentPrompt() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.prompt
}

func (v *shellView) id() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.clientID
}

// petition turns a typed line into what is sent to the server. stop is true
// when the shell should end after sending it.
func (v *shellView) petition(typed string) (line string, stop bool) {
	words := daemon.SplitWords(typed)
	if len(words) == 0 {
		return "", false
	}

	switch words[0] {
	case "quit", "exit", "q":
		stop = true
		rest := words[1:]
		if i := indexOf(rest, "--server"); i >= 0 {
			typed = words[0]
		} else if indexOf(rest, "--only-shell") < 0 {
			typed += " --only-shell"
		}
	}

	line = string(constants.InteractiveMarker) + typed
	if id := v.id(); id > 0 {
		line += fmt.Sprintf(" %s%d", constants.ClientIDParam, id)
	}
	return line, stop
}

func indexOf(words []string, w string) int {
	for i, x := range words {
		if x == w {
			return i
		}
	}
	return -1
}

func runShell(ctx context.Context, client *ipc.Client, view *shellView, in *os.File) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- client.Listen(ctx, true, view.handle)
	}()

	select {
	case <-view.ready:
	case err := <-listenErr:
		return fmt.Errorf("failed to register with the server: %w", err)
	case <-time.After(constants.AdvisoryWait):
		fmt.Fprintln(view.out, "Server did not assign a client id; progress will not be shown")
	}

	interactive := term.IsTerminal(int(in.Fd()))
	reader := bufio.NewReader(in)
	ask := func(prompt string) (string, error) {
		fmt.Fprint(view.out, prompt)
		if isSecretPrompt(prompt) && interactive {
			answer, err := term.ReadPassword(int(in.Fd()))
			fmt.Fprintln(view.out)
			return string(answer), err
		}
		answer, err := reader.ReadString('\n')
		if err != nil && answer == "" {
			return "", err
		}
		return strings.TrimRight(answer, "\r\n"), nil
	}

	for {
		if interactive {
			fmt.Fprint(view.out, view.currentPrompt())
		}
		typed, err := reader.ReadString('\n')
		if err != nil && typed == "" {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line, stop := view.petition(strings.TrimSpace(typed))
		if line == "" {
			continue
		}
		if _, err := client.Exec(ctx, line, view.out, ask); err != nil {
			if errors.Is(err, ipc.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(view.out, "Error: %v\n", err)
			if !client.IsServerRunning(ctx) {
				return ipc.ErrServerNotRunning
			}
		}
		if stop {
			return nil
		}

		select {
		case err := <-listenErr:
			if err != nil && !errors.Is(err, ipc.ErrClosed) {
				return err
			}
			return nil
		default:
		}
	}
}
