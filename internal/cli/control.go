package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ehrlich-b/diaglog/internal/config"
	"github.com/ehrlich-b/diaglog/internal/daemon"
	"github.com/ehrlich-b/diaglog/internal/logstore"
)

// Status prints what the daemon is doing.
func Status(socketPath string, out io.Writer) error {
	client, err := daemon.Connect(socketPath)
	if err != nil {
		return fmt.Errorf("daemon not running: %w", err)
	}
	defer client.Close()

	st, err := client.Status()
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	printStatus(out, st)
	return nil
}

func printStatus(out io.Writer, st *daemon.StatusResponse) {
	state := "disabled"
	if st.Running {
		state = "collecting"
	}
	lastFlush := "never"
	if st.LastFlush > 0 {
		lastFlush = humanize.Time(time.UnixMilli(st.LastFlush))
	}

	fmt.Fprintf(out, "Daemon:     pid %d\n", st.PID)
	fmt.Fprintf(out, "Logging:    %s\n", state)
	fmt.Fprintf(out, "File:       %s (%s)\n", st.ActiveFile, humanize.IBytes(uint64(st.ActiveSize)))
	fmt.Fprintf(out, "Buffered:   %s lines\n", humanize.Comma(int64(st.BufferedLines)))
	fmt.Fprintf(out, "Archives:   %d\n", st.Archives)
	fmt.Fprintf(out, "Rotations:  %d\n", st.Rotations)
	fmt.Fprintf(out, "Last flush: %s\n", lastFlush)
	if st.DroppedLines > 0 || st.FlushFailures > 0 {
		fmt.Fprintf(out, "Dropped:    %s lines, %d failed flushes\n", humanize.Comma(st.DroppedLines), st.FlushFailures)
	}
}

// Flush asks the daemon to write buffered lines to disk.
func Flush(socketPath string, out io.Writer) error {
	return request(socketPath, out, (*daemon.Client).Flush)
}

// Enable turns log collection on.
func Enable(socketPath string, out io.Writer) error {
	return request(socketPath, out, (*daemon.Client).Enable)
}

// Disable turns log collection off. The active file is cleared.
func Disable(socketPath string, out io.Writer) error {
	return request(socketPath, out, (*daemon.Client).Disable)
}

// Delete removes every log file. With no daemon running the files are
// removed directly.
func Delete(cfg *config.Config, out io.Writer) error {
	if daemon.IsDaemonRunning(cfg.Socket) {
		return request(cfg.Socket, out, (*daemon.Client).DeleteAll)
	}

	var errs []error
	active := filepath.Join(cfg.Dir, cfg.WriterConfig().ActiveFileName())
	if err := os.Truncate(active, 0); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("clear active log file: %w", err))
	}
	store := logstore.NewArchiver(cfg.Dir, cfg.Writer.FilePrefix, nil, nil)
	if err := store.DeleteAll(); err != nil {
		errs = append(errs, fmt.Errorf("delete archives: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	fmt.Fprintln(out, "deleted all log files")
	return nil
}

func request(socketPath string, out io.Writer, fn func(*daemon.Client) (string, error)) error {
	client, err := daemon.Connect(socketPath)
	if err != nil {
		return fmt.Errorf("daemon not running: %w", err)
	}
	defer client.Close()

	msg, err := fn(client)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, msg)
	return nil
}
