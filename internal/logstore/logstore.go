// Package logstore manages compressed log archives.
// Archives live next to the active log file as {prefix}_{timestamp}.gz and
// can be listed, read back, pruned, and shared to S3-compatible storage.
package logstore

import (
	"errors"
	"time"
)

// ErrNotArchive is returned when a name does not refer to an archive of the store.
var ErrNotArchive = errors.New("not a log archive")

// ArchiveInfo describes one compressed archive on disk.
type ArchiveInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

const (
	archiveExt        = ".gz"
	archiveTimeFormat = "2006-01-02_15-04-05"
)
