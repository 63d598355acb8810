package logwriter

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

func TestRotationAfterSizeLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFileSize = 10
	w, _ := newTestWriter(t, cfg, nil)

	w.appendLine("0123456789a") // 11 bytes
	if err := w.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush failed: %v", err)
	}

	size := w.appendLine("next")
	if size <= cfg.MaxFileSize {
		t.Fatalf("size = %d, want over %d", size, cfg.MaxFileSize)
	}
	w.rotate()

	archives, err := w.Archiver().List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(archives) != 1 {
		t.Fatalf("got %d archives, want 1", len(archives))
	}
	if got := w.Stats().ActiveSize; got != 0 {
		t.Errorf("active size after rotation = %d, want 0", got)
	}
	if got := w.Stats().Rotations; got != 1 {
		t.Errorf("Rotations = %d, want 1", got)
	}

	// The archive holds everything read so far, including the line still
	// buffered when rotation started.
	rc, err := w.Archiver().Open(archives[0].Name)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if got, want := string(data), "0123456789a\nnext\n"; got != want {
		t.Errorf("archive = %q, want %q", got, want)
	}

	// Writing continues at the start of the emptied file.
	w.appendLine("fresh")
	if err := w.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush failed: %v", err)
	}
	if got := readActive(t, w); got != "fresh\n" {
		t.Errorf("file = %q, want %q", got, "fresh\n")
	}
}

func TestRetentionKeepsNewestArchives(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFileSize = 1
	cfg.MaxArchives = 3
	w, clock := newTestWriter(t, cfg, nil)

	var names []string
	for i := 0; i < 5; i++ {
		names = append(names, w.Archiver().ArchiveName(clock.Now()))
		w.appendLine("rotation " + strings.Repeat("x", i))
		w.rotate()
		clock.Advance(time.Second)
	}

	archives, err := w.Archiver().List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(archives) != cfg.MaxArchives {
		t.Fatalf("got %d archives, want %d", len(archives), cfg.MaxArchives)
	}
	for i, ar := range archives {
		if want := names[2+i]; ar.Name != want {
			t.Errorf("archive[%d] = %s, want %s", i, ar.Name, want)
		}
	}
	if got := w.Stats().Rotations; got != 5 {
		t.Errorf("Rotations = %d, want 5", got)
	}
}

func TestRotationsWithinOneSecondGetDistinctArchives(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFileSize = 1
	w, _ := newTestWriter(t, cfg, nil)

	for i := 0; i < 3; i++ {
		w.appendLine("same second")
		w.rotate()
	}

	archives, err := w.Archiver().List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(archives) != 3 {
		t.Fatalf("got %d archives, want 3", len(archives))
	}
}

func TestRotationFailureKeepsActiveFile(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFileSize = 1
	w, _ := newTestWriter(t, cfg, nil)

	w.appendLine("must survive")
	if err := w.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush failed: %v", err)
	}

	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	// A read-only directory makes creating the archive fail.
	dir := w.Archiver().Dir()
	if err := os.Chmod(dir, 0555); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(dir, 0755)

	w.rotate()

	if got := readActive(t, w); got != "must survive\n" {
		t.Errorf("file = %q, want content kept after failed rotation", got)
	}
	if got := w.Stats().Rotations; got != 0 {
		t.Errorf("Rotations = %d, want 0", got)
	}
}

func TestReaderRotatesThroughStart(t *testing.T) {
	src := newPipeSource()
	cfg := testConfig()
	cfg.MaxFileSize = 10
	cfg.MaxBufferedLines = 1
	w, _ := newTestWriter(t, cfg, src)
	startWriter(t, w, src, "boot")
	defer w.Stop()

	src.emit(t, "0123456789a", "tail")
	waitFor(t, "rotation", func() bool { return w.Stats().Rotations >= 1 })
	waitFor(t, "tail line", func() bool { return readActive(t, w) == "tail\n" })

	archives, err := w.Archiver().List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(archives) != 1 {
		t.Errorf("got %d archives, want 1", len(archives))
	}
}
