package logwriter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
)

// appendLine buffers one line and flushes when the buffer is full or the
// flush interval has passed. It returns the active file size so the caller
// can decide on rotation.
//
// If the lock cannot be taken within the lock timeout the line is dropped.
func (w *Writer) appendLine(line string) int64 {
	var size int64
	outcome, err := w.locked(context.Background(), w.cfg.LockTimeout, func() error {
		w.buf = append(w.buf, line)
		w.buffered.Store(int64(len(w.buf)))

		now := w.now()
		if len(w.buf) >= w.cfg.MaxBufferedLines || now.Sub(w.lastFlush) >= w.cfg.FlushInterval {
			if err := w.flushLocked(); err != nil {
				w.log.Error("failed to flush log buffer", "lines", len(w.buf), "error", err)
			}
			w.markFlushed(now)
		}
		size = w.activeSize()
		return nil
	})
	if outcome == OutcomeTimedOut {
		w.dropped.Add(1)
		w.throttledWarn("buffer write timed out, log line lost", "error", err, "dropped_total", w.dropped.Load())
		return w.activeSize()
	}
	return size
}

// flushLocked writes every buffered line to the active file. On failure the
// lines stay queued for the next flush and the file handle is reopened.
// Caller must hold the lock.
func (w *Writer) flushLocked() error {
	if len(w.buf) == 0 {
		return nil
	}

	if err := w.writeLines(w.buf); err != nil {
		w.flushFailures.Add(1)
		w.closeHandle()
		w.capBuffer()
		return err
	}

	clear(w.buf)
	w.buf = w.buf[:0]
	w.buffered.Store(0)
	return nil
}

// logFile is the open active file. *os.File satisfies it.
type logFile interface {
	io.WriteCloser
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
}

func openAppend(path string) (logFile, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// writeLines appends lines to the active file through the buffered handle,
// opening it on first use. The handle stays open across flushes. A failed
// write is cut back to the previous end of file, so a retry never leaves a
// partial or repeated line behind.
func (w *Writer) writeLines(lines []string) error {
	if w.out == nil {
		f, err := w.openFile(w.active)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w.file = f
		w.out = bufio.NewWriterSize(f, w.cfg.WriteBufferSize)
	}

	st, err := w.file.Stat()
	if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}
	if err := w.appendLines(lines); err != nil {
		if terr := w.file.Truncate(st.Size()); terr != nil {
			w.log.Warn("failed to roll back partial write", "error", terr)
		}
		return err
	}
	return nil
}

func (w *Writer) appendLines(lines []string) error {
	for _, line := range lines {
		if _, err := w.out.WriteString(line); err != nil {
			return fmt.Errorf("write log line: %w", err)
		}
		if err := w.out.WriteByte('\n'); err != nil {
			return fmt.Errorf("write log line: %w", err)
		}
	}
	if err := w.out.Flush(); err != nil {
		return fmt.Errorf("flush log file: %w", err)
	}
	return nil
}

// capBuffer drops the oldest lines once retries have let the buffer grow
// past its hard limit.
func (w *Writer) capBuffer() {
	limit := w.cfg.maxRetainedLines()
	if len(w.buf) <= limit {
		return
	}
	drop := len(w.buf) - limit
	w.buf = append(w.buf[:0], w.buf[drop:]...)
	w.buffered.Store(int64(len(w.buf)))
	w.dropped.Add(int64(drop))
	w.throttledWarn("log buffer over capacity, oldest lines dropped", "dropped", drop)
}

// closeHandle closes the buffered file handle. Caller must hold the lock.
func (w *Writer) closeHandle() {
	if w.out == nil {
		return
	}
	if err := w.out.Flush(); err != nil {
		w.log.Warn("failed to flush log file on close", "error", err)
	}
	if err := w.file.Close(); err != nil {
		w.log.Warn("failed to close log file", "error", err)
	}
	w.out = nil
	w.file = nil
}

// truncateLocked empties the active file. The handle is opened with
// O_APPEND, so later writes start at offset zero again. Caller must hold
// the lock.
func (w *Writer) truncateLocked() error {
	if w.file != nil {
		if err := w.file.Truncate(0); err != nil {
			return fmt.Errorf("truncate log file: %w", err)
		}
		return nil
	}
	return truncate(w.active)
}
