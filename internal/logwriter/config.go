package logwriter

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the writer thresholds. It is copied into the Writer at
// construction and never changed afterwards.
type Config struct {
	// FlushInterval is the longest a buffered line waits before it is
	// written, and the period of the background flush task.
	FlushInterval time.Duration

	// MaxBufferedLines flushes the buffer once it holds this many lines.
	MaxBufferedLines int

	// MaxFileSize is the active file size in bytes past which the file is
	// rotated into a gzip archive.
	MaxFileSize int64

	// FlushTimeout bounds forced flushes, rotation and every shutdown step.
	FlushTimeout time.Duration

	// LockTimeout bounds buffer lock acquisition on the hot path.
	// A line that cannot get the lock in time is dropped.
	LockTimeout time.Duration

	// WriteBufferSize is the size of the buffered file handle.
	WriteBufferSize int

	// MaxArchives is the number of archives kept after each rotation.
	MaxArchives int

	// FilePrefix names the active file ({prefix}_logs.txt) and the
	// archives ({prefix}_{timestamp}.gz).
	FilePrefix string
}

// DefaultConfig returns the thresholds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		FlushInterval:    5 * time.Second,
		MaxBufferedLines: 100,
		MaxFileSize:      25 << 20,
		FlushTimeout:     5 * time.Second,
		LockTimeout:      time.Second,
		WriteBufferSize:  8 << 10,
		MaxArchives:      10,
		FilePrefix:       "diaglog",
	}
}

// Validate checks the config for errors.
func (c Config) Validate() error {
	switch {
	case c.FlushInterval <= 0:
		return errors.New("flush interval must be positive")
	case c.MaxBufferedLines <= 0:
		return errors.New("max buffered lines must be positive")
	case c.MaxFileSize <= 0:
		return errors.New("max file size must be positive")
	case c.FlushTimeout <= 0:
		return errors.New("flush timeout must be positive")
	case c.LockTimeout <= 0:
		return errors.New("lock timeout must be positive")
	case c.WriteBufferSize <= 0:
		return errors.New("write buffer size must be positive")
	case c.MaxArchives < 0:
		return fmt.Errorf("max archives must not be negative, got %d", c.MaxArchives)
	case c.FilePrefix == "":
		return errors.New("file prefix is required")
	}
	return nil
}

// ActiveFileName returns the name of the file currently receiving lines.
func (c Config) ActiveFileName() string {
	return c.FilePrefix + "_logs.txt"
}

// maxRetainedLines caps the buffer while flushes keep failing.
func (c Config) maxRetainedLines() int {
	return c.MaxBufferedLines * 10
}
