package logstore

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Archiver compresses log files into timestamped gzip archives in a single
// directory and enforces the retention count.
type Archiver struct {
	dir    string
	prefix string
	now    func() time.Time
	log    *slog.Logger
}

// NewArchiver creates an archiver for {dir}/{prefix}_*.gz. A nil clock
// means time.Now.
func NewArchiver(dir, prefix string, now func() time.Time, log *slog.Logger) *Archiver {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Archiver{
		dir:    dir,
		prefix: prefix,
		now:    now,
		log:    log,
	}
}

// Dir returns the archive directory.
func (a *Archiver) Dir() string {
	return a.dir
}

// IsArchive reports whether name is an archive file of this store.
func (a *Archiver) IsArchive(name string) bool {
	return strings.HasPrefix(name, a.prefix+"_") && strings.HasSuffix(name, archiveExt)
}

// ArchiveName returns the base name for an archive created at t, before
// collision handling.
func (a *Archiver) ArchiveName(t time.Time) string {
	return fmt.Sprintf("%s_%s%s", a.prefix, t.Format(archiveTimeFormat), archiveExt)
}

// nextName picks an unused archive name. Rotations within the same second
// get a _1, _2, ... suffix.
func (a *Archiver) nextName(t time.Time) string {
	base := strings.TrimSuffix(a.ArchiveName(t), archiveExt)
	name := base + archiveExt
	for i := 1; ; i++ {
		if _, err := os.Lstat(filepath.Join(a.dir, name)); os.IsNotExist(err) {
			return name
		}
		name = fmt.Sprintf("%s_%d%s", base, i, archiveExt)
	}
}

// Compress gzips the contents of src into a new archive. The archive is
// written under a temporary name and renamed into place, so a partial
// archive is never listed.
func (a *Archiver) Compress(src string) (ArchiveInfo, error) {
	in, err := os.Open(src)
	if err != nil {
		return ArchiveInfo{}, fmt.Errorf("open log file: %w", err)
	}
	defer in.Close()

	name := a.nextName(a.now())
	dst := filepath.Join(a.dir, name)

	tmp, err := os.CreateTemp(a.dir, "."+name+".tmp-*")
	if err != nil {
		return ArchiveInfo{}, fmt.Errorf("create archive: %w", err)
	}
	renamed := false
	defer func() {
		if !renamed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	gw := gzip.NewWriter(tmp)
	raw, err := io.Copy(gw, in)
	if err != nil {
		return ArchiveInfo{}, fmt.Errorf("gzip compress: %w", err)
	}
	if err := gw.Close(); err != nil {
		return ArchiveInfo{}, fmt.Errorf("gzip close: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return ArchiveInfo{}, fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return ArchiveInfo{}, fmt.Errorf("rename archive: %w", err)
	}
	renamed = true

	st, err := os.Stat(dst)
	if err != nil {
		return ArchiveInfo{}, fmt.Errorf("stat archive: %w", err)
	}

	a.log.Debug("compressed log file", "src", filepath.Base(src), "archive", name,
		"raw_size", raw, "compressed_size", st.Size())

	return ArchiveInfo{Name: name, Path: dst, Size: st.Size(), ModTime: st.ModTime()}, nil
}

// List returns the archives oldest first, ordered by modification time and
// then by name.
func (a *Archiver) List() ([]ArchiveInfo, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log directory: %w", err)
	}

	var archives []ArchiveInfo
	for _, e := range entries {
		if e.IsDir() || !a.IsArchive(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info
			continue
		}
		archives = append(archives, ArchiveInfo{
			Name:    e.Name(),
			Path:    filepath.Join(a.dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		if !archives[i].ModTime.Equal(archives[j].ModTime) {
			return archives[i].ModTime.Before(archives[j].ModTime)
		}
		return a.before(archives[i].Name, archives[j].Name)
	})
	return archives, nil
}

// before orders archive names by timestamp, then by collision suffix
// compared as a number, so _10 comes after _2.
func (a *Archiver) before(x, y string) bool {
	xs, xn := a.splitName(x)
	ys, yn := a.splitName(y)
	if xs != ys {
		return xs < ys
	}
	if xn != yn {
		return xn < yn
	}
	return x < y
}

// splitName returns the timestamp part of an archive name and its
// collision suffix, 0 when there is none.
func (a *Archiver) splitName(name string) (string, int) {
	stem := strings.TrimSuffix(strings.TrimPrefix(name, a.prefix+"_"), archiveExt)
	lead, suffix, found := strings.Cut(stem[min(len(stem), len(archiveTimeFormat)):], "_")
	if !found || lead != "" {
		return stem, 0
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return stem, 0
	}
	return stem[:len(archiveTimeFormat)], n
}

// Prune deletes all but the newest keep archives and returns how many were removed.
func (a *Archiver) Prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	archives, err := a.List()
	if err != nil {
		return 0, err
	}
	if len(archives) <= keep {
		return 0, nil
	}

	var errs []error
	removed := 0
	for _, ar := range archives[:len(archives)-keep] {
		if err := os.Remove(ar.Path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", ar.Name, err))
			continue
		}
		removed++
	}
	if removed > 0 {
		a.log.Debug("pruned old archives", "removed", removed, "kept", keep)
	}
	return removed, errors.Join(errs...)
}

// DeleteAll removes every archive.
func (a *Archiver) DeleteAll() error {
	archives, err := a.List()
	if err != nil {
		return err
	}
	var errs []error
	for _, ar := range archives {
		if err := os.Remove(ar.Path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", ar.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Open returns a decompressing reader for the named archive.
func (a *Archiver) Open(name string) (io.ReadCloser, error) {
	if filepath.Base(name) != name || !a.IsArchive(name) {
		return nil, fmt.Errorf("%w: %q", ErrNotArchive, name)
	}

	f, err := os.Open(filepath.Join(a.dir, name))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	gr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	return &fsGzipReadCloser{gr: gr, file: f}, nil
}

// fsGzipReadCloser wraps a gzip.Reader and its underlying file.
type fsGzipReadCloser struct {
	gr   *gzip.Reader
	file *os.File
}

func (g *fsGzipReadCloser) Read(p []byte) (int, error) {
	return g.gr.Read(p)
}

func (g *fsGzipReadCloser) Close() error {
	g.gr.Close()
	return g.file.Close()
}
