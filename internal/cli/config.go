package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rescale/cloudcmd/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage daemon.conf",
		Long: `Configuration management commands for the command server.

Commands:
  init  - Write a configuration file
  show  - Display current configuration
  path  - Show configuration file path`,
	}
	cmd.AddCommand(newConfigInitCmd(a))
	cmd.AddCommand(newConfigShowCmd(a))
	cmd.AddCommand(newConfigPathCmd(a))
	return cmd
}

func configPath(a *app) (string, error) {
	if a.opts.configFile != "" {
		return a.opts.configFile, nil
	}
	return config.DefaultDaemonConfigPath()
}

func newConfigInitCmd(a *app) *cobra.Command {
	var (
		force   bool
		storage config.StorageConfig
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file",
		Long: `Write daemon.conf with default daemon settings and the given storage.

Examples:
  cloudcmd config init --provider s3 --bucket my-bucket --region eu-west-1
  cloudcmd config init --provider local --root /srv/objects

Use --force to overwrite an existing file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath(a)
			if err != nil {
				return err
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Configuration already exists at: %s\n", path)
					fmt.Fprintln(cmd.OutOrStdout(), "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg := config.NewDaemonConfig()
			if storage.Provider != "" {
				if storage.Provider == "local" && storage.Root == "" {
					storage.Root = cfg.Storage.Root
				}
				cfg.Storage = storage
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.SaveDaemonConfig(cfg, path); err != nil {
				return err
			}
			a.logger.Info().Str("path", path).Msg("Configuration written")
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")
	cmd.Flags().StringVar(&storage.Provider, "provider", "", "Storage provider: s3, azure, local")
	cmd.Flags().StringVar(&storage.Bucket, "bucket", "", "S3 bucket")
	cmd.Flags().StringVar(&storage.Region, "region", "", "S3 region")
	cmd.Flags().StringVar(&storage.Endpoint, "endpoint", "", "S3-compatible endpoint URL")
	cmd.Flags().StringVar(&storage.Container, "container", "", "Azure container")
	cmd.Flags().StringVar(&storage.AccountURL, "account-url", "", "Azure storage account URL")
	cmd.Flags().StringVar(&storage.Root, "root", "", "Directory served by the local provider")
	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath(a)
			if err != nil {
				return err
			}
			cfg, err := config.LoadDaemonConfig(path)
			if err != nil {
				return err
			}
			printConfig(cmd.OutOrStdout(), cfg)

			fmt.Fprintf(cmd.OutOrStdout(), "\nConfiguration file: %s\n", path)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "  (file does not exist - using defaults)")
			}
			return nil
		},
	}
}

func printConfig(w io.Writer, cfg *config.DaemonConfig) {
	fmt.Fprintln(w, "Daemon:")
	fmt.Fprintf(w, "  Max petitions:      %d\n", cfg.Daemon.MaxPetitions)
	fmt.Fprintf(w, "  Session pool size:  %d\n", cfg.Daemon.SessionPoolSize)
	fmt.Fprintf(w, "  Ledger size:        %d\n", cfg.Daemon.LedgerSize)
	fmt.Fprintf(w, "  Reconnect interval: %s\n", cfg.ReconnectEvery())
	fmt.Fprintf(w, "  Log level:          %s\n", cfg.Daemon.LogLevel)
	if cfg.Daemon.LogFile != "" {
		fmt.Fprintf(w, "  Log file:           %s\n", cfg.Daemon.LogFile)
	}

	fmt.Fprintln(w, "Storage:")
	fmt.Fprintf(w, "  Provider: %s\n", cfg.Storage.Provider)
	switch cfg.Storage.Provider {
	case "s3":
		fmt.Fprintf(w, "  Bucket:   %s\n", cfg.Storage.Bucket)
		if cfg.Storage.Region != "" {
			fmt.Fprintf(w, "  Region:   %s\n", cfg.Storage.Region)
		}
		if cfg.Storage.Endpoint != "" {
			fmt.Fprintf(w, "  Endpoint: %s\n", cfg.Storage.Endpoint)
		}
		if cfg.Storage.AccessKeyID != "" {
			fmt.Fprintln(w, "  Credentials: <static key set>")
		}
	case "azure":
		fmt.Fprintf(w, "  Container: %s\n", cfg.Storage.Container)
		if cfg.Storage.AccountURL != "" {
			fmt.Fprintf(w, "  Account:   %s\n", cfg.Storage.AccountURL)
		}
		if cfg.Storage.ConnectionString != "" {
			fmt.Fprintln(w, "  Credentials: <connection string set>")
		}
	case "local":
		fmt.Fprintf(w, "  Root:     %s\n", cfg.Storage.Root)
	}

	fmt.Fprintln(w, "Proxy:")
	fmt.Fprintf(w, "  Mode: %s\n", cfg.Proxy.Mode)
	if cfg.Proxy.Host != "" {
		fmt.Fprintf(w, "  Host: %s:%d\n", cfg.Proxy.Host, cfg.Proxy.Port)
	}

	fmt.Fprintln(w, "Update check:")
	fmt.Fprintf(w, "  Enabled: %t\n", cfg.Update.Enabled)
}

func newConfigPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath(a)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			if _, err := os.Stat(path); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Create it with: cloudcmd config init")
			}
			return nil
		},
	}
}
