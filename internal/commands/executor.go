// Package commands runs the built-in commands named by petitions.
//
// An Executor is shared by every worker. Each call to Execute handles one
// petition: it parses the arguments, drives the engine through blocking
// listeners, writes the textual outcome to the petition's output and returns
// the exit code handed back to the client.
package commands

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sort"

	"github.com/spf13/pflag"

	"github.com/rescale/cloudcmd/internal/engine"
	"github.com/rescale/cloudcmd/internal/events"
	"github.com/rescale/cloudcmd/internal/listener"
	"github.com/rescale/cloudcmd/internal/logging"
	"github.com/rescale/cloudcmd/internal/progress"
	"github.com/rescale/cloudcmd/internal/resources"
	"github.com/rescale/cloudcmd/internal/transfer"
	"github.com/rescale/cloudcmd/internal/version"
)

// Env is what commands run against. Everything except Engine and Logger is
// optional; commands that need a missing part report INVALIDSTATE.
type Env struct {
	Engine engine.Engine
	Pool   *resources.Pool
	Ledger *transfer.Ledger
	Quota  *transfer.QuotaWatcher
	// Bus routes progress notifications to the issuing client.
	Bus *events.EventBus
	// Console receives the daemon-side progress bars.
	Console io.Writer
	Logger  *logging.Logger
	// Reconnect retries pending connections immediately.
	Reconnect func()
	// Latest returns the newest published version, or "" when unknown.
	Latest func() string
}

// Invocation is one petition handed to a worker.
type Invocation struct {
	// Args holds the command name followed by its arguments.
	Args []string
	Out  io.Writer
	// ClientID is the state listener to route progress to; zero for none.
	ClientID    int
	Interactive bool
	// Asker reaches the client for confirmations; nil when it cannot answer.
	Asker  Asker
	Logger *logging.Logger
}

type command struct {
	usage string
	short string
	run   func(ctx context.Context, inv *Invocation) ExitCode
}

// Executor dispatches invocations to built-in commands.
type Executor struct {
	env      Env
	commands map[string]command
}

// NewExecutor returns an executor bound to env.
func NewExecutor(env Env) *Executor {
	if env.Logger == nil {
		env.Logger = logging.NewNopLogger()
	}
	if env.Console == nil {
		env.Console = io.Discard
	}

	x := &Executor{env: env}
	x.commands = map[string]command{
		"get":       {"get [--ignore-quota-warn] remotepath [localpath]", "Downloads a remote file or folder", x.get},
		"put":       {"put localpath [localpath2 ...] [remotepath]", "Uploads files or folders", x.put},
		"ls":        {"ls [-l] [--link=LOCATION] [remotepath]", "Lists files in a remote path", x.ls},
		"rm":        {"rm [-r] [-f] remotepath ...", "Deletes remote files or folders", x.rm},
		"transfers": {"transfers [-c TAG|-a] | [-r TAG|-a] | [-p TAG|-a] [--only-downloads] [--only-uploads] [--show-completed] [--only-completed] [--limit=N] [--path-display-size=N]", "Lists or operates on transfers", x.transfers},
		"quota":     {"quota", "Shows bandwidth usage and the over-quota state", x.quota},
		"sessions":  {"sessions", "Shows the main session and the public-link session pool", x.sessions},
		"reconnect": {"reconnect", "Retries pending connections now", x.reconnect},
		"version":   {"version", "Prints the daemon version", x.version},
		"help":      {"help [command]", "Prints the list of commands", x.help},
	}
	return x
}

// Names returns the command names, sorted.
func (x *Executor) Names() []string {
	names := make([]string, 0, len(x.commands))
	for name := range x.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs one invocation. A panicking command is logged and reported
// as EUNEXPECTED.
func (x *Executor) Execute(ctx context.Context, inv *Invocation) (code ExitCode) {
	if inv.Out == nil {
		inv.Out = io.Discard
	}
	if inv.Logger == nil {
		inv.Logger = x.env.Logger
	}
	if len(inv.Args) == 0 {
		return OK
	}

	name := inv.Args[0]
	cmd, ok := x.commands[name]
	if !ok {
		fmt.Fprintf(inv.Out, "Command not found: %s\n", name)
		return EArgs
	}

	defer func() {
		if r := recover(); r != nil {
			inv.Logger.Error().
				Str("command", name).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Command panicked")
			fmt.Fprintf(inv.Out, "Unexpected failure running %s\n", name)
			code = EUnexpected
		}
	}()

	code = cmd.run(ctx, inv)
	inv.Logger.Debug().Str("command", name).Str("exit_code", code.String()).Msg("Command finished")
	return code
}

// flags returns a flag set that reports parse errors to the petition output.
func (x *Executor) flags(inv *Invocation) *pflag.FlagSet {
	name := inv.Args[0]
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(inv.Out)
	fs.Usage = func() {
		fmt.Fprintf(inv.Out, "Usage: %s\n", x.commands[name].usage)
	}
	return fs
}

func (x *Executor) usageError(inv *Invocation) ExitCode {
	fmt.Fprintf(inv.Out, "Usage: %s\n", x.commands[inv.Args[0]].usage)
	return EArgs
}

func (x *Executor) progressOptions(inv *Invocation, title string) progress.Options {
	opts := progress.Options{Out: x.env.Console, Title: title}
	if inv.ClientID > 0 && x.env.Bus != nil {
		opts.ClientID = inv.ClientID
		opts.Notifier = x.env.Bus
	}
	return opts
}

func (x *Executor) request() *listener.Request {
	return listener.NewRequest()
}

func (x *Executor) stat(s engine.Session, p string) (*engine.Node, error) {
	l := x.request()
	s.Stat(p, l)
	l.Wait()
	if err := l.Err(); err != nil {
		return nil, err
	}
	return l.Request().Node, nil
}

func (x *Executor) list(s engine.Session, p string, recursive bool) ([]engine.Node, error) {
	l := x.request()
	s.List(p, recursive, l)
	l.Wait()
	if err := l.Err(); err != nil {
		return nil, err
	}
	return l.Request().Nodes, nil
}

// fail prints what failed and maps the error to an exit code.
func fail(inv *Invocation, what string, err error) ExitCode {
	fmt.Fprintf(inv.Out, "%s: %v\n", what, err)
	inv.Logger.Debug().Err(err).Msg(what)
	return ExitCodeFor(err)
}

func (x *Executor) help(_ context.Context, inv *Invocation) ExitCode {
	if len(inv.Args) > 1 {
		cmd, ok := x.commands[inv.Args[1]]
		if !ok {
			fmt.Fprintf(inv.Out, "Command not found: %s\n", inv.Args[1])
			return EArgs
		}
		fmt.Fprintf(inv.Out, "Usage: %s\n%s\n", cmd.usage, cmd.short)
		return OK
	}

	fmt.Fprintln(inv.Out, "Commands:")
	for _, name := range x.Names() {
		fmt.Fprintf(inv.Out, "  %-10s %s\n", name, x.commands[name].short)
	}
	fmt.Fprintln(inv.Out, "Use \"help <command>\" for details.")
	return OK
}

func (x *Executor) version(_ context.Context, inv *Invocation) ExitCode {
	fmt.Fprintf(inv.Out, "cloudcmd %s (built %s)\n", version.Version, version.BuildTime)
	if x.env.Latest != nil {
		if latest := x.env.Latest(); latest != "" && latest != version.Version {
			fmt.Fprintf(inv.Out, "A newer version is available: %s\n", latest)
		}
	}
	return OK
}

func (x *Executor) reconnect(_ context.Context, inv *Invocation) ExitCode {
	if x.env.Reconnect != nil {
		x.env.Reconnect()
	} else {
		x.env.Engine.RetryPendingConnections()
	}
	fmt.Fprintln(inv.Out, "Retrying pending connections")
	return OK
}
