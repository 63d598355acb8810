package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/diaglog/internal/config"
	"github.com/ehrlich-b/diaglog/internal/daemon"
	"github.com/ehrlich-b/diaglog/internal/logwriter"
	"github.com/ehrlich-b/diaglog/internal/source"
)

// DaemonOptions holds configuration for daemon commands.
type DaemonOptions struct {
	Config     *config.Config
	ConfigFile string // passed on to the background process
	LogFile    string
	Verbose    bool
	Stdin      bool // read lines from stdin instead of the follow command
}

// DefaultLogFile is where a background daemon writes its own diagnostics.
func DefaultLogFile() string {
	return filepath.Join(config.Home(), "daemon.log")
}

// NewLogger builds the text logger used by every command.
func NewLogger(w io.Writer, level string, verbose bool) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// NewSource returns the line source the daemon collects from.
func NewSource(cfg *config.Config, stdin io.Reader, log *slog.Logger) logwriter.Source {
	if stdin != nil {
		return source.Reader{R: stdin}
	}
	return source.Command{
		Clear:  cfg.Source.Clear,
		Follow: cfg.Source.Follow,
		Env:    cfg.Source.Env,
		Grace:  cfg.Source.Grace.Duration(),
		Log:    log.With("component", "source"),
	}
}

// RunDaemon runs the daemon in the foreground (used by daemon run command).
func RunDaemon(opts DaemonOptions) error {
	cfg := opts.Config

	// Ensure state directories exist
	if err := os.MkdirAll(filepath.Dir(cfg.Socket), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	// Set up logging
	var logWriter io.Writer = os.Stderr
	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logWriter = io.MultiWriter(os.Stderr, f)
	}
	log, err := NewLogger(logWriter, cfg.LogLevel, opts.Verbose)
	if err != nil {
		return err
	}

	var stdin io.Reader
	if opts.Stdin {
		stdin = os.Stdin
	}
	w, err := logwriter.New(cfg.Dir, NewSource(cfg, stdin, log), cfg.WriterConfig(),
		logwriter.WithLogger(log.With("component", "writer")))
	if err != nil {
		return err
	}

	srv := daemon.NewServer(cfg.Socket, w, log.With("component", "daemon"))
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start daemon server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.IsEnabled() {
		g.Go(func() error {
			startCtx, cancel := context.WithTimeout(ctx, daemon.StartTimeout)
			defer cancel()
			if err := w.Start(startCtx); err != nil && !w.Running() {
				// Stay up so collection can be enabled once the source is fixed.
				log.Error("log collection not started", "error", err)
			}
			return nil
		})
	} else {
		log.Info("log collection disabled by config")
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down daemon")
		srv.Stop()
		w.Stop()
		return nil
	})

	log.Info("daemon running", "dir", cfg.Dir, "socket", cfg.Socket, "pid", os.Getpid())
	return g.Wait()
}

// StartDaemon starts the daemon in the background.
func StartDaemon(opts DaemonOptions) error {
	socket := opts.Config.Socket

	// Check if daemon is already running
	if daemon.IsDaemonRunning(socket) {
		return fmt.Errorf("daemon already running at %s", socket)
	}

	// Get the path to the current executable
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(socket), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	// Build command arguments
	args := []string{"daemon", "run", "--socket", socket}
	if opts.ConfigFile != "" {
		args = append(args, "--config", opts.ConfigFile)
	}
	if opts.LogFile != "" {
		args = append(args, "--log-file", opts.LogFile)
	}
	if opts.Verbose {
		args = append(args, "-v")
	}

	// Start the daemon process
	cmd := exec.Command(executable, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon process: %w", err)
	}

	// Write PID file
	pidFile := socket + ".pid"
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	// Wait for daemon to be ready
	for i := 0; i < 30; i++ {
		if daemon.IsDaemonRunning(socket) {
			fmt.Printf("Daemon started (pid %d)\n", cmd.Process.Pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("daemon failed to start")
}

// StopDaemon stops the running daemon.
func StopDaemon(socketPath string) error {
	pidFile := socketPath + ".pid"
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("daemon not running (no pid file)")
		}
		return fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("invalid pid file: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidFile)
		return fmt.Errorf("send signal: %w", err)
	}

	// Shutdown flushes and clears the active file, which can take a few
	// flush timeouts. Wait for the socket to disappear.
	for i := 0; i < 100; i++ {
		if !daemon.IsDaemonRunning(socketPath) {
			os.Remove(pidFile)
			fmt.Println("Daemon stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Force kill if still running
	_ = process.Kill()
	os.Remove(pidFile)
	os.Remove(socketPath)
	fmt.Println("Daemon killed")

	return nil
}

// DaemonLogs tails the daemon log file.
func DaemonLogs(logFile string, follow bool) error {
	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		return fmt.Errorf("log file not found: %s", logFile)
	}

	args := []string{"-n", "100"}
	if follow {
		args = append(args, "-f")
	}
	args = append(args, logFile)

	cmd := exec.Command("tail", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// InstallDaemonService installs the daemon as a user service.
func InstallDaemonService(configFile string) error {
	switch runtime.GOOS {
	case "darwin":
		return installLaunchdService(configFile)
	case "linux":
		return installSystemdService(configFile)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// UninstallDaemonService removes the daemon user service.
func UninstallDaemonService() error {
	switch runtime.GOOS {
	case "darwin":
		return uninstallLaunchdService()
	case "linux":
		return uninstallSystemdService()
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// serviceArgs is the daemon command line a service manager runs.
func serviceArgs(configFile string) []string {
	args := []string{"daemon", "run"}
	if configFile != "" {
		args = append(args, "--config", configFile)
	}
	return args
}
