package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rescale/cloudcmd/internal/cloud/providers"
	"github.com/rescale/cloudcmd/internal/config"
	"github.com/rescale/cloudcmd/internal/daemon"
	"github.com/rescale/cloudcmd/internal/engine/objectstore"
	"github.com/rescale/cloudcmd/internal/http"
	"github.com/rescale/cloudcmd/internal/ipc"
	"github.com/rescale/cloudcmd/internal/logging"
	"github.com/rescale/cloudcmd/internal/version"
)

type serverOptions struct {
	background bool
	logLevel   string
	logFile    string
}

func newServerCmd(a *app) *cobra.Command {
	var opts serverOptions

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the command server",
		Long: `Run the command server. It opens the storage session described by the
[storage] section of daemon.conf, listens for petitions on the IPC socket and
runs up to max_petitions of them at once.

Press Ctrl+C, or send "quit" from any client, to stop it.

Examples:
  # Foreground, logging to the console and the rotating log file
  cloudcmd server

  # Detach from the terminal
  cloudcmd server --background`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(a, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.background, "background", false, "Detach from the terminal and run in the background")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "Log file path (overrides config)")
	return cmd
}

func runServer(a *app, opts serverOptions) error {
	cfg, err := config.LoadDaemonConfig(a.opts.configFile)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Daemon.LogLevel = opts.logLevel
	}
	if opts.logFile != "" {
		cfg.Daemon.LogFile = opts.logFile
	}
	if a.opts.socket != "" {
		cfg.Daemon.SocketPath = a.opts.socket
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if pid := daemon.IsDaemonRunning(config.PIDFilePath()); pid != 0 {
		return fmt.Errorf("%w (pid %d)", daemon.ErrAlreadyRunning, pid)
	}
	if opts.background {
		// Returns only in the detached child.
		if err := daemon.Daemonize(os.Args[1:]); err != nil {
			return err
		}
	}

	if cfg.Daemon.LogFile != "" {
		if err := config.EnsureLogDirectory(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to create log directory")
		}
	}
	foreground := !daemon.IsDaemonChild()
	logger, writer := logging.NewDaemonLogger(logging.DaemonLogConfig{
		LogFile: cfg.Daemon.LogFile,
		Console: foreground,
	})
	defer writer.Close()
	logging.SetGlobalLevel(logging.ParseLevel(cfg.Daemon.LogLevel))
	if a.opts.verbose || a.opts.debug {
		logging.SetGlobalLevel(logging.ParseLevel("debug"))
	}

	pidFile, err := daemon.AcquirePIDFile(config.PIDFilePath())
	if err != nil {
		return err
	}
	defer pidFile.Release()

	ctx := a.context()
	backend, err := providers.New(ctx, cfg.Storage, cfg.Proxy)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	eng := objectstore.New(backend, objectstore.Options{
		Logger: logger.Sub(logger.With().Str("component", "engine")),
	})
	defer eng.Close()

	server, err := ipc.NewServer(cfg.Daemon.SocketPath, logger)
	if err != nil {
		return fmt.Errorf("failed to listen for petitions: %w", err)
	}

	dcfg := daemon.Config{
		Engine:            eng,
		Transport:         server,
		MaxPetitions:      cfg.Daemon.MaxPetitions,
		SessionPoolSize:   cfg.Daemon.SessionPoolSize,
		LedgerSize:        cfg.Daemon.LedgerSize,
		ReconnectInterval: cfg.ReconnectEvery(),
		CurrentVersion:    version.Version,
		Logger:            logger,
	}
	if foreground {
		dcfg.Console = os.Stdout
	} else {
		dcfg.Console = io.Discard
	}
	if cfg.Update.Enabled && cfg.Update.CheckURL != "" {
		hc, err := http.ConfigureHTTPClient(cfg.Proxy)
		if err != nil {
			logger.Warn().Err(err).Msg("Version check disabled: failed to build HTTP client")
		} else {
			dcfg.Versions = version.NewChecker(cfg.Update.CheckURL, hc, logger)
		}
	}

	d, err := daemon.New(dcfg)
	if err != nil {
		server.Close()
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		logger.Info().Msg("Received shutdown signal")
		d.Stop()
	})
	defer stop()

	logger.Info().
		Str("socket", server.Address()).
		Str("storage", backend.Location()).
		Int("pid", os.Getpid()).
		Msg("Server listening")

	if err := d.Run(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
