package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rescale/cloudcmd/internal/config"
	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/ipc"
	"github.com/rescale/cloudcmd/internal/progress"
)

func newExecCmd(a *app) *cobra.Command {
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "exec <command> [args...]",
		Short: "Run one command on the server and exit with its code",
		Long: `Send a single command to the running server, print its output and exit
with the command's exit code. Transfer progress is drawn on stderr when it is
a terminal.

Examples:
  cloudcmd exec ls -l /
  cloudcmd exec get /reports/q3.pdf ./q3.pdf
  cloudcmd exec transfers --show-completed`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ipc.NewClient(resolveAddress(a))
			ctx := a.context()
			if !client.IsServerRunning(ctx) {
				return fmt.Errorf("%w at %s; start it with '%s server'", ipc.ErrServerNotRunning, client.Address(), constants.AppName)
			}

			line := joinArgs(args)
			if !noProgress {
				reporter := progress.NewReporter(os.Stderr, false)
				defer reporter.Close()

				listenCtx, stopListening := context.WithCancel(ctx)
				defer stopListening()
				if id := listenForProgress(listenCtx, client, reporter); id > 0 {
					line += fmt.Sprintf(" %s%d", constants.ClientIDParam, id)
				}
			}

			code, err := client.Exec(ctx, line, cmd.OutOrStdout(), askFromTerminal(os.Stdin))
			if err != nil {
				return err
			}
			return exitCode(code)
		},
	}
	// Flags after the command word belong to the remote command.
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Do not draw transfer progress")
	return cmd
}

// resolveAddress picks the socket: --socket, then daemon.conf, then the default.
func resolveAddress(a *app) string {
	if a.opts.socket != "" {
		return a.opts.socket
	}
	if cfg, err := config.LoadDaemonConfig(a.opts.configFile); err == nil && cfg.Daemon.SocketPath != "" {
		return cfg.Daemon.SocketPath
	}
	return ""
}

// listenForProgress registers a non-interactive state listener and feeds its
// progress lines to reporter. It returns the client id the server assigned,
// or 0 if none arrived in time.
func listenForProgress(ctx context.Context, client *ipc.Client, reporter progress.Reporter) int {
	ids := make(chan int, 1)
	go func() {
		_ = client.Listen(ctx, false, func(line string) {
			s := ipc.ParseState(line)
			switch s.Kind {
			case ipc.StateClientID:
				select {
				case ids <- s.ClientID:
				default:
				}
			case ipc.StateProgress:
				showProgress(reporter, s)
			}
		})
	}()

	select {
	case id := <-ids:
		return id
	case <-time.After(constants.AdvisoryWait):
		return 0
	case <-ctx.Done():
		return 0
	}
}

func showProgress(reporter progress.Reporter, s ipc.State) {
	if s.Transferred == constants.ProgressCompleted {
		reporter.Complete(s.Total, s.Title)
		return
	}
	reporter.Update(s.Transferred, s.Total, s.Title)
}

// askFromTerminal answers server questions from in. Password prompts are
// read without echo when in is a terminal.
func askFromTerminal(in *os.File) ipc.AskFunc {
	reader := bufio.NewReader(in)
	return func(prompt string) (string, error) {
		fmt.Fprint(os.Stderr, prompt)
		if isSecretPrompt(prompt) && term.IsTerminal(int(in.Fd())) {
			answer, err := term.ReadPassword(int(in.Fd()))
			fmt.Fprintln(os.Stderr)
			return string(answer), err
		}
		answer, err := reader.ReadString('\n')
		if err != nil && answer == "" {
			return "", err
		}
		return strings.TrimRight(answer, "\r\n"), nil
	}
}

// isSecretPrompt reports whether the server is asking for a password.
func isSecretPrompt(prompt string) bool {
	switch prompt {
	case constants.PromptPassword, constants.PromptOldPassword,
		constants.PromptNewPassword, constants.PromptRetypePassword:
		return true
	}
	return false
}

// joinArgs rebuilds a petition line from argv, quoting words the server
// would otherwise split.
func joinArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		if arg != "" && !strings.ContainsAny(arg, " \t\"'\\") {
			quoted[i] = arg
			continue
		}
		var b strings.Builder
		b.WriteByte('"')
		for _, r := range arg {
			if r == '"' || r == '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		b.WriteByte('"')
		quoted[i] = b.String()
	}
	return strings.Join(quoted, " ")
}
