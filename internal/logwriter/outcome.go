package logwriter

import (
	"context"
	"time"
)

// Outcome reports how a bounded operation on the buffer ended.
type Outcome uint8

const (
	// OutcomeOK means the lock was acquired and the operation succeeded.
	OutcomeOK Outcome = iota
	// OutcomeTimedOut means the lock could not be acquired in time and the
	// operation did not run.
	OutcomeTimedOut
	// OutcomeFailed means the operation ran and returned an error.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeTimedOut:
		return "timed out"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// locked runs fn while holding the buffer lock. Acquisition waits at most
// timeout; a zero timeout waits until ctx is done.
func (w *Writer) locked(ctx context.Context, timeout time.Duration, fn func() error) (Outcome, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return OutcomeTimedOut, err
	}
	defer w.sem.Release(1)

	if err := fn(); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeOK, nil
}
