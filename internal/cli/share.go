package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/ehrlich-b/diaglog/internal/config"
	"github.com/ehrlich-b/diaglog/internal/daemon"
	"github.com/ehrlich-b/diaglog/internal/logstore"
)

// Uploader sends log files to remote storage under a session.
type Uploader interface {
	Upload(ctx context.Context, session string, paths []string) ([]logstore.UploadResult, error)
}

// ShareOptions configures the share command.
type ShareOptions struct {
	Config   *config.Config
	Uploader Uploader // nil means R2 from the config
	Log      *slog.Logger
}

// Share flushes the daemon's buffer, then uploads the active file and every
// archive under a fresh session id, which it returns.
func Share(ctx context.Context, opts ShareOptions, out io.Writer) (string, error) {
	cfg := opts.Config
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	if daemon.IsDaemonRunning(cfg.Socket) {
		if err := request(cfg.Socket, io.Discard, (*daemon.Client).Flush); err != nil {
			// Share what is on disk anyway.
			log.Warn("could not flush buffered logs, recent lines may be missing", "error", err)
		}
	}

	files, err := shareFiles(cfg)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", errors.New("no logs to share")
	}

	up := opts.Uploader
	if up == nil {
		r2, err := logstore.NewR2Uploader(cfg.R2Config(), log)
		if err != nil {
			return "", err
		}
		up = r2
	}

	session := uuid.NewString()
	results, err := up.Upload(ctx, session, files)
	for _, r := range results {
		fmt.Fprintf(out, "uploaded %s (%s)\n", r.Key, humanize.IBytes(uint64(r.Size)))
	}
	if err != nil {
		return session, fmt.Errorf("share logs: %w", err)
	}
	fmt.Fprintf(out, "session %s\n", session)
	return session, nil
}

// shareFiles lists the archives oldest first, then the active file if it
// has content.
func shareFiles(cfg *config.Config) ([]string, error) {
	store := logstore.NewArchiver(cfg.Dir, cfg.Writer.FilePrefix, nil, nil)
	archives, err := store.List()
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}

	files := make([]string, 0, len(archives)+1)
	for _, a := range archives {
		files = append(files, a.Path)
	}

	active := filepath.Join(cfg.Dir, cfg.WriterConfig().ActiveFileName())
	if st, err := os.Stat(active); err == nil && st.Size() > 0 {
		files = append(files, active)
	}
	return files, nil
}
