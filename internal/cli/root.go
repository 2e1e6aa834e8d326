// Package cli provides the command-line interface for cloudcmd.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/logging"
	"github.com/rescale/cloudcmd/internal/version"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configFile string
	socket     string
	verbose    bool
	debug      bool
}

// app is what subcommands receive: parsed global flags, the CLI logger and
// the signal-aware context. Built once per Execute.
type app struct {
	opts   globalOptions
	logger *logging.Logger
	ctx    context.Context
}

func (a *app) context() context.Context {
	if a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd(ctx context.Context) *cobra.Command {
	a := &app{ctx: ctx, logger: logging.NewDefaultCLILogger()}

	rootCmd := &cobra.Command{
		Use:   constants.AppName,
		Short: "Multi-client command shell for cloud object storage",
		Long: constants.AppName + ` ` + version.Version + ` - Built: ` + version.BuildTime + `

A server process keeps one storage session open and runs the commands sent
by any number of clients concurrently:

  ` + constants.AppName + ` server           run the server in the foreground
  ` + constants.AppName + ` shell            interactive shell with live transfer progress
  ` + constants.AppName + ` exec ls -l /     run one command and exit with its code`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if a.opts.verbose || a.opts.debug {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.opts.configFile, "config", "c", "", "Daemon configuration file (default ~/.config/"+constants.AppName+"/daemon.conf)")
	rootCmd.PersistentFlags().StringVar(&a.opts.socket, "socket", "", "Server socket path or pipe name (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&a.opts.verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&a.opts.debug, "debug", false, "Enable debug output (same as --verbose)")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	rootCmd.AddCommand(newServerCmd(a))
	rootCmd.AddCommand(newExecCmd(a))
	rootCmd.AddCommand(newShellCmd(a))
	rootCmd.AddCommand(newConfigCmd(a))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			fmt.Fprintf(os.Stderr, "\nReceived signal %v, cancelling...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	rootCmd := NewRootCmd(ctx)
	if err := rootCmd.Execute(); err != nil {
		var coded *exitError
		if errors.As(err, &coded) {
			return coded.code
		}
		return 1
	}
	return 0
}
