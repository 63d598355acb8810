package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/diaglog/internal/cli"
	"github.com/ehrlich-b/diaglog/internal/config"
	"github.com/ehrlich-b/diaglog/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "diaglog",
		Short:         "Collect system logs into rotating files you can share",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./diaglog.yaml or ~/.diaglog/diaglog.yaml)")
	rootCmd.PersistentFlags().String("dir", "", "Log directory (overrides config)")
	rootCmd.PersistentFlags().String("socket", "", "Daemon socket path (overrides config)")

	rootCmd.AddCommand(
		daemonCmd(),
		statusCmd(),
		flushCmd(),
		deleteCmd(),
		enableCmd(),
		disableCmd(),
		archivesCmd(),
		catCmd(),
		shareCmd(),
		configCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the config file, then applies env and flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, "", err
		}
		path = abs
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, "", err
		}
	} else {
		for _, dir := range configDirs() {
			c, name, err := config.Load(dir)
			if errors.Is(err, config.ErrNoConfig) {
				continue
			}
			if err != nil {
				return nil, "", err
			}
			cfg, path = c, filepath.Join(dir, name)
			break
		}
		if cfg == nil {
			cfg = config.Default()
		}
	}

	cfg.ApplyEnv()
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		cfg.Dir = dir
	}
	if socket, _ := cmd.Flags().GetString("socket"); socket != "" {
		cfg.Socket = socket
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func configDirs() []string {
	var dirs []string
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	return append(dirs, config.Home())
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the log collection daemon",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logFile, _ := cmd.Flags().GetString("log-file")
			verbose, _ := cmd.Flags().GetBool("verbose")
			stdin, _ := cmd.Flags().GetBool("stdin")
			return cli.RunDaemon(cli.DaemonOptions{
				Config:     cfg,
				ConfigFile: path,
				LogFile:    logFile,
				Verbose:    verbose,
				Stdin:      stdin,
			})
		},
	}
	runCmd.Flags().String("log-file", "", "Also write daemon diagnostics to this file")
	runCmd.Flags().BoolP("verbose", "v", false, "Debug logging")
	runCmd.Flags().Bool("stdin", false, "Collect lines from stdin instead of the follow command")

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logFile, _ := cmd.Flags().GetString("log-file")
			verbose, _ := cmd.Flags().GetBool("verbose")
			return cli.StartDaemon(cli.DaemonOptions{
				Config:     cfg,
				ConfigFile: path,
				LogFile:    logFile,
				Verbose:    verbose,
			})
		},
	}
	startCmd.Flags().String("log-file", cli.DefaultLogFile(), "Daemon diagnostics file")
	startCmd.Flags().BoolP("verbose", "v", false, "Debug logging")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the background daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return cli.StopDaemon(cfg.Socket)
		},
	}

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon's own diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			follow, _ := cmd.Flags().GetBool("follow")
			return cli.DaemonLogs(cli.DefaultLogFile(), follow)
		},
	}
	logsCmd.Flags().BoolP("follow", "f", false, "Follow log output")

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install the daemon as a user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return cli.InstallDaemonService(path)
		},
	}

	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the daemon user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.UninstallDaemonService()
		},
	}

	cmd.AddCommand(runCmd, startCmd, stopCmd, logsCmd, installCmd, uninstallCmd)
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show collection status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return cli.Status(cfg.Socket, cmd.OutOrStdout())
		},
	}
}

func flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Write buffered lines to disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return cli.Flush(cfg.Socket, cmd.OutOrStdout())
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete the active log file content and all archives",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return cli.Delete(cfg, cmd.OutOrStdout())
		},
	}
}

func enableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Turn log collection on",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return cli.Enable(cfg.Socket, cmd.OutOrStdout())
		},
	}
}

func disableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Turn log collection off and clear the active file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return cli.Disable(cfg.Socket, cmd.OutOrStdout())
		},
	}
}

func archivesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archives",
		Short: "List the active log file and archives",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return cli.ListArchives(cfg, cmd.OutOrStdout())
		},
	}
}

func catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat [archive]",
		Short: "Print the active log file, or a decompressed archive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			return cli.Cat(cfg, name, cmd.OutOrStdout())
		},
	}
}

func shareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "share",
		Short: "Upload all logs to the configured bucket",
		Long: `Flush buffered lines, then upload the archives and the active log file
to R2 (or any S3 compatible store) under a new session id.

Credentials come from the share.r2 config section or DIAGLOG_R2_* variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := cli.NewLogger(os.Stderr, cfg.LogLevel, false)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			_, err = cli.Share(ctx, cli.ShareOptions{Config: cfg, Log: log}, cmd.OutOrStdout())
			return err
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate and print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if path == "" {
				path = "(defaults)"
			}
			wc := cfg.WriterConfig()
			fmt.Fprintf(out, "Valid: %s\n", path)
			fmt.Fprintf(out, "  dir:      %s\n", cfg.Dir)
			fmt.Fprintf(out, "  socket:   %s\n", cfg.Socket)
			fmt.Fprintf(out, "  follow:   %v\n", cfg.Source.Follow)
			fmt.Fprintf(out, "  flush:    every %s or %d lines\n", wc.FlushInterval, wc.MaxBufferedLines)
			fmt.Fprintf(out, "  rotate:   at %s, keep %d archives\n", cfg.Writer.MaxFileSize, wc.MaxArchives)
			if cfg.Share.R2.Bucket != "" {
				fmt.Fprintf(out, "  share:    bucket %s\n", cfg.Share.R2.Bucket)
			}
			return nil
		},
	})
	return cmd
}
