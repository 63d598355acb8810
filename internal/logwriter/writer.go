// Package logwriter persists a stream of diagnostic log lines to a bounded
// set of files: one active plain-text file and a retained set of gzip
// archives.
//
// Lines from a Source are buffered in memory and written to the active file
// when the buffer fills up, when the flush interval has passed, or on
// demand. Once the active file grows past the size limit its content is
// compressed into a timestamped archive and the file is truncated.
package logwriter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ehrlich-b/diaglog/internal/logstore"
)

// maxLineSize is the longest line accepted from a source.
const maxLineSize = 1024 * 1024

// ErrFlushTimeout is returned by ForceFlush when the buffer lock could not
// be acquired within the flush timeout.
var ErrFlushTimeout = errors.New("flush timed out")

// Source produces log lines. Closing the returned stream stops the producer.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the logger for the writer's own diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(w *Writer) {
		if log != nil {
			w.log = log
		}
	}
}

// WithClock replaces time.Now, for flush interval and archive naming.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// Writer collects lines from a Source into the active log file.
type Writer struct {
	dir      string
	active   string
	cfg      Config
	src      Source
	store    *logstore.Archiver
	log      *slog.Logger
	now      func() time.Time
	openFile func(path string) (logFile, error)
	warns    *rate.Limiter

	// sem guards buf, file, out and lastFlush.
	sem       *semaphore.Weighted
	buf       []string
	file      logFile
	out       *bufio.Writer
	lastFlush time.Time

	// lifecycle serializes Start and Stop. It is held while the source
	// opens and for the whole of Stop, never while Start waits for the
	// first line.
	lifecycle sync.Mutex

	// mu guards run and is never held across blocking calls.
	mu  sync.Mutex
	run *run

	buffered      atomic.Int64
	lastFlushUnix atomic.Int64
	dropped       atomic.Int64
	rotations     atomic.Int64
	flushFailures atomic.Int64
}

// run is the state of one Start..Stop cycle.
type run struct {
	cancel  context.CancelFunc
	stream  io.ReadCloser
	first   chan struct{}
	reader  chan struct{}
	flusher chan struct{}
}

// alive reports whether the reader task is still consuming the source.
func (r *run) alive() bool {
	select {
	case <-r.reader:
		return false
	default:
		return true
	}
}

// Stats is a point-in-time view of the writer.
type Stats struct {
	Running       bool
	ActiveFile    string
	ActiveSize    int64
	BufferedLines int
	Archives      int
	DroppedLines  int64
	Rotations     int64
	FlushFailures int64
	LastFlush     time.Time
}

// New creates a writer that stores logs in dir. It does not touch the
// filesystem until Start.
func New(dir string, src Source, cfg Config, opts ...Option) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid writer config: %w", err)
	}
	if src == nil {
		return nil, errors.New("log source is required")
	}

	w := &Writer{
		dir:      dir,
		active:   filepath.Join(dir, cfg.ActiveFileName()),
		cfg:      cfg,
		src:      src,
		log:      slog.Default(),
		now:      time.Now,
		openFile: openAppend,
		warns:    rate.NewLimiter(rate.Every(time.Second), 5),
		sem:      semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.store = logstore.NewArchiver(dir, cfg.FilePrefix, w.now, w.log)
	return w, nil
}

// ActiveLogFile returns the path of the file currently receiving lines.
func (w *Writer) ActiveLogFile() string {
	return w.active
}

// Archiver returns the archive store next to the active file.
func (w *Writer) Archiver() *logstore.Archiver {
	return w.store
}

// Running reports whether log collection is active. A run whose source
// has ended is not running.
func (w *Writer) Running() bool {
	r := w.current()
	return r != nil && r.alive()
}

func (w *Writer) current() *run {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.run
}

func (w *Writer) setRun(r *run) {
	w.mu.Lock()
	w.run = r
	w.mu.Unlock()
}

// Start begins collecting lines. It returns once the first line has been
// buffered, so anything logged after Start returns is captured. Calling
// Start while running does nothing; if the source has ended since the last
// Start, it is reopened.
//
// If ctx ends before the first line arrives, Start returns ctx.Err() and
// collection keeps running.
func (w *Writer) Start(ctx context.Context) error {
	r, err := w.launch(ctx)
	if err != nil || r == nil {
		return err
	}

	select {
	case <-r.first:
	case <-r.reader:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// launch opens the source and starts the reader and flush tasks. It
// returns a nil run when collection is already going.
func (w *Writer) launch(ctx context.Context) (*run, error) {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	if old := w.current(); old != nil {
		if old.alive() {
			w.log.Debug("log writer already running, ignoring start")
			return nil, nil
		}
		w.log.Info("log source ended, restarting collection")
		w.setRun(nil)
		w.endRun(old)
	}

	w.ensureFiles()

	stream, err := w.src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open log source: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		cancel:  cancel,
		stream:  stream,
		first:   make(chan struct{}),
		reader:  make(chan struct{}),
		flusher: make(chan struct{}),
	}

	// Lines arriving before the first interval elapses stay buffered.
	if outcome, err := w.locked(context.Background(), w.cfg.LockTimeout, func() error {
		w.markFlushed(w.now())
		return nil
	}); outcome != OutcomeOK {
		w.log.Warn("could not reset flush clock", "outcome", outcome, "error", err)
	}

	w.setRun(r)
	go w.readLoop(runCtx, r)
	go w.flushLoop(runCtx, r)

	w.log.Info("log collection started", "file", w.active)
	return r, nil
}

// Stop ends collection. Each step is bounded by the flush timeout and runs
// even if an earlier one failed: stop the source, await the reader and
// flush tasks, flush what is buffered, close the file, clear its content.
// A Start issued meanwhile waits for Stop to finish.
func (w *Writer) Stop() {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	r := w.current()
	if r == nil {
		w.log.Debug("log writer not running, ignoring stop")
		return
	}
	w.setRun(nil)
	w.log.Info("stopping log collection")

	w.endRun(r)

	outcome, err := w.locked(context.Background(), w.cfg.FlushTimeout, w.flushLocked)
	switch outcome {
	case OutcomeTimedOut:
		w.log.Warn("final buffer flush timed out, some logs may be lost", "lines", w.buffered.Load())
	case OutcomeFailed:
		w.log.Error("final buffer flush failed", "error", err)
	}

	outcome, err = w.locked(context.Background(), w.cfg.FlushTimeout, func() error {
		w.closeHandle()
		return w.truncateLocked()
	})
	switch outcome {
	case OutcomeTimedOut:
		// The lock holder keeps the handle; clearing through the path is still safe with O_APPEND.
		w.log.Warn("buffer lock busy during shutdown, clearing log file without it")
		if err := truncate(w.active); err != nil {
			w.log.Error("failed to clear active log file", "error", err)
		}
	case OutcomeFailed:
		w.log.Error("failed to clear active log file", "error", err)
	}
}

// endRun stops the source and waits, bounded by the flush timeout, for the
// run's reader and flush tasks. Buffered lines are left in place.
func (w *Writer) endRun(r *run) {
	r.cancel()
	if err := r.stream.Close(); err != nil {
		w.log.Error("failed to stop log source", "error", err)
	}

	if !waitDone(r.reader, w.cfg.FlushTimeout) {
		w.log.Warn("reader task did not finish in time, abandoning it", "timeout", w.cfg.FlushTimeout)
	}
	if !waitDone(r.flusher, w.cfg.FlushTimeout) {
		w.log.Warn("flush task did not finish in time, abandoning it", "timeout", w.cfg.FlushTimeout)
	}
}

// ForceFlush writes everything buffered to the active file. Unlike the
// background paths it reports failure: it is used right before the logs are
// shared, where completeness matters.
func (w *Writer) ForceFlush(ctx context.Context) error {
	outcome, err := w.locked(ctx, w.cfg.FlushTimeout, func() error {
		if err := w.flushLocked(); err != nil {
			return err
		}
		w.markFlushed(w.now())
		return nil
	})
	switch outcome {
	case OutcomeTimedOut:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.log.Warn("force flush timed out", "timeout", w.cfg.FlushTimeout)
		return fmt.Errorf("%w after %s", ErrFlushTimeout, w.cfg.FlushTimeout)
	case OutcomeFailed:
		w.log.Error("force flush failed", "error", err)
		return fmt.Errorf("force flush: %w", err)
	}
	return nil
}

// DeleteAllLogFiles clears the active file and removes every archive.
// Buffered lines are kept and land in the emptied file on the next flush.
func (w *Writer) DeleteAllLogFiles() error {
	var errs []error
	if _, err := w.locked(context.Background(), 0, w.truncateLocked); err != nil {
		errs = append(errs, fmt.Errorf("clear active log file: %w", err))
	}
	if err := w.store.DeleteAll(); err != nil {
		errs = append(errs, fmt.Errorf("delete archives: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		w.log.Error("failed to delete log files", "error", err)
		return err
	}
	w.log.Info("deleted all log files", "dir", w.dir)
	return nil
}

// Stats returns counters and sizes. It never waits on the buffer lock.
func (w *Writer) Stats() Stats {
	s := Stats{
		Running:       w.Running(),
		ActiveFile:    w.active,
		ActiveSize:    w.activeSize(),
		BufferedLines: int(w.buffered.Load()),
		DroppedLines:  w.dropped.Load(),
		Rotations:     w.rotations.Load(),
		FlushFailures: w.flushFailures.Load(),
	}
	if ns := w.lastFlushUnix.Load(); ns > 0 {
		s.LastFlush = time.Unix(0, ns)
	}
	if archives, err := w.store.List(); err == nil {
		s.Archives = len(archives)
	}
	return s
}

// readLoop feeds source lines into the buffer until the stream ends.
func (w *Writer) readLoop(ctx context.Context, r *run) {
	defer close(r.reader)

	var once sync.Once
	scanner := bufio.NewScanner(r.stream)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		size := w.appendLine(line)
		once.Do(func() { close(r.first) })

		if size > w.cfg.MaxFileSize {
			w.rotate()
		}
	}

	if ctx.Err() != nil {
		return
	}
	if err := scanner.Err(); err != nil {
		w.log.Error("failed to read log source", "error", err)
		return
	}
	w.log.Warn("log source ended, collection paused until the next start")
}

// flushLoop flushes the buffer every flush interval.
func (w *Writer) flushLoop(ctx context.Context, r *run) {
	defer close(r.flusher)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.periodicFlush()
		}
	}
}

func (w *Writer) periodicFlush() {
	outcome, err := w.locked(context.Background(), w.cfg.LockTimeout, func() error {
		if len(w.buf) == 0 {
			return nil
		}
		if err := w.flushLocked(); err != nil {
			return err
		}
		w.markFlushed(w.now())
		return nil
	})
	switch outcome {
	case OutcomeTimedOut:
		w.throttledWarn("periodic flush timed out, buffer may be locked by another operation")
	case OutcomeFailed:
		w.log.Error("periodic flush failed", "error", err)
	}
}

// waitDone waits for ch to close, at most timeout.
func waitDone(ch <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}

func (w *Writer) throttledWarn(msg string, args ...any) {
	if w.warns.Allow() {
		w.log.Warn(msg, args...)
	}
}

// ensureFiles creates the log directory and active file. Failures are only
// logged; the first write reports them again.
func (w *Writer) ensureFiles() {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		w.log.Error("unable to create logs directory", "dir", w.dir, "error", err)
	}
	f, err := os.OpenFile(w.active, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		w.log.Error("log file is not writable", "file", w.active, "error", err)
		return
	}
	f.Close()
}

func (w *Writer) activeSize() int64 {
	st, err := os.Stat(w.active)
	if err != nil {
		return 0
	}
	return st.Size()
}

func (w *Writer) markFlushed(t time.Time) {
	w.lastFlush = t
	w.lastFlushUnix.Store(t.UnixNano())
}

// truncate empties the file at path if it exists.
func truncate(path string) error {
	if err := os.Truncate(path, 0); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
