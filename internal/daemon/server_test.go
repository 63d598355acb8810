package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ehrlich-b/diaglog/internal/logwriter"
	"github.com/ehrlich-b/diaglog/internal/source"
)

type fakeController struct {
	mu       sync.Mutex
	running  bool
	startErr error
	flushErr error
	deletes  int

	// startRuns marks the controller running even when Start fails, like a
	// writer whose source has not produced a line yet.
	startRuns bool
}

func (f *fakeController) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr == nil || f.startRuns {
		f.running = true
	}
	return f.startErr
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
}

func (f *fakeController) ForceFlush(ctx context.Context) error { return f.flushErr }

func (f *fakeController) DeleteAllLogFiles() error {
	f.mu.Lock()
	f.deletes++
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Stats() logwriter.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return logwriter.Stats{Running: f.running, ActiveFile: "/logs/test_logs.txt", Archives: 2}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// socketPath returns a path short enough for sun_path.
func socketPath(t *testing.T) string {
	dir, err := os.MkdirTemp("", "dl")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "d.sock")
}

func startServer(t *testing.T, ctrl Controller) (*Server, string) {
	t.Helper()
	sock := socketPath(t)
	srv := NewServer(sock, ctrl, discardLogger())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv, sock
}

func connect(t *testing.T, sock string) *Client {
	t.Helper()
	c, err := Connect(sock)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEncodeDecode(t *testing.T) {
	data, err := Encode(TypeAck, Ack{Message: "ok"})
	if err != nil {
		t.Fatal(err)
	}
	msgType, payload, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if msgType != TypeAck {
		t.Errorf("type = %s, want %s", msgType, TypeAck)
	}
	ack, err := DecodePayload[Ack](payload)
	if err != nil || ack.Message != "ok" {
		t.Errorf("ack = %+v, err = %v", ack, err)
	}
}

func TestServerRequests(t *testing.T) {
	ctrl := &fakeController{}
	_, sock := startServer(t, ctrl)
	c := connect(t, sock)

	if _, err := c.Enable(); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	st, err := c.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !st.Running || st.Archives != 2 || st.ActiveFile != "/logs/test_logs.txt" {
		t.Errorf("unexpected status %+v", st)
	}
	if st.PID != os.Getpid() {
		t.Errorf("pid = %d, want %d", st.PID, os.Getpid())
	}

	if _, err := c.Flush(); err != nil {
		t.Errorf("Flush failed: %v", err)
	}
	if _, err := c.DeleteAll(); err != nil {
		t.Errorf("DeleteAll failed: %v", err)
	}
	ctrl.mu.Lock()
	deletes := ctrl.deletes
	ctrl.mu.Unlock()
	if deletes != 1 {
		t.Errorf("deletes = %d, want 1", deletes)
	}

	if _, err := c.Disable(); err != nil {
		t.Errorf("Disable failed: %v", err)
	}
	st, err = c.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Running {
		t.Error("still running after Disable")
	}
}

func TestServerReportsErrors(t *testing.T) {
	ctrl := &fakeController{
		startErr: errors.New("open log source: no logcat"),
		flushErr: logwriter.ErrFlushTimeout,
	}
	_, sock := startServer(t, ctrl)
	c := connect(t, sock)

	if _, err := c.Flush(); err == nil || !strings.Contains(err.Error(), "flush timed out") {
		t.Errorf("Flush error = %v, want flush timeout", err)
	}
	if _, err := c.Enable(); err == nil || !strings.Contains(err.Error(), "no logcat") {
		t.Errorf("Enable error = %v, want source error", err)
	}
}

func TestEnableWithoutFirstLineIsAcked(t *testing.T) {
	ctrl := &fakeController{startErr: context.DeadlineExceeded, startRuns: true}
	_, sock := startServer(t, ctrl)
	c := connect(t, sock)

	msg, err := c.Enable()
	if err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	if !strings.Contains(msg, "no lines yet") {
		t.Errorf("message = %q", msg)
	}
}

func TestEnableSourceOpenTimeoutIsError(t *testing.T) {
	ctrl := &fakeController{startErr: fmt.Errorf("open log source: %w", context.DeadlineExceeded)}
	_, sock := startServer(t, ctrl)
	c := connect(t, sock)

	if _, err := c.Enable(); err == nil {
		t.Fatal("expected error when the writer never started")
	}
}

func TestUnknownRequest(t *testing.T) {
	_, sock := startServer(t, &fakeController{})
	c := connect(t, sock)

	if err := c.send("REBOOT_REQUEST", nil); err != nil {
		t.Fatal(err)
	}
	msgType, _, err := c.recv()
	if err != nil {
		t.Fatal(err)
	}
	if msgType != TypeError {
		t.Errorf("type = %s, want %s", msgType, TypeError)
	}
}

func TestIsDaemonRunning(t *testing.T) {
	srv, sock := startServer(t, &fakeController{})
	if !IsDaemonRunning(sock) {
		t.Error("expected daemon to be running")
	}
	srv.Stop()
	if IsDaemonRunning(sock) {
		t.Error("expected daemon to be stopped")
	}
	if _, err := os.Stat(sock); !os.IsNotExist(err) {
		t.Error("socket file should be removed on Stop")
	}
}

func TestServerDrivesWriter(t *testing.T) {
	dir := t.TempDir()
	cfg := logwriter.DefaultConfig()
	cfg.FlushInterval = time.Hour
	cfg.FilePrefix = "e2e"
	w, err := logwriter.New(dir, source.Lines("boot", "ready"), cfg, logwriter.WithLogger(discardLogger()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)

	_, sock := startServer(t, w)
	c := connect(t, sock)

	if _, err := c.Enable(); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := c.Status()
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if st.BufferedLines == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("buffered lines = %d, want 2", st.BufferedLines)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := c.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	data, err := os.ReadFile(w.ActiveLogFile())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "boot\nready\n" {
		t.Errorf("file = %q", data)
	}

	if _, err := c.Disable(); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	data, _ = os.ReadFile(w.ActiveLogFile())
	if len(data) != 0 {
		t.Errorf("file should be cleared after disable, got %q", data)
	}
}
