package logwriter

import (
	"context"
	"fmt"
)

// rotate moves the active file's content into a new archive. It runs under
// the lock with the flush timeout: pending lines are flushed first so the
// archive holds everything read so far, then the file is compressed,
// truncated, and old archives are pruned.
//
// A failed compression leaves the active file untouched; the next write
// past the size limit tries again.
func (w *Writer) rotate() {
	var archive string
	outcome, err := w.locked(context.Background(), w.cfg.FlushTimeout, func() error {
		if err := w.flushLocked(); err != nil {
			return fmt.Errorf("flush before rotation: %w", err)
		}
		w.markFlushed(w.now())

		info, err := w.store.Compress(w.active)
		if err != nil {
			return fmt.Errorf("compress log file: %w", err)
		}
		archive = info.Name

		if err := w.truncateLocked(); err != nil {
			return err
		}
		w.rotations.Add(1)

		if _, err := w.store.Prune(w.cfg.MaxArchives); err != nil {
			w.log.Warn("failed to delete old archives", "error", err)
		}
		return nil
	})

	switch outcome {
	case OutcomeOK:
		w.log.Info("log file compressed", "file", w.cfg.ActiveFileName(), "archive", archive)
	case OutcomeTimedOut:
		w.throttledWarn("rotation skipped, buffer locked by another operation")
	case OutcomeFailed:
		w.log.Error("failed to rotate log file", "file", w.cfg.ActiveFileName(), "error", err)
	}
}
