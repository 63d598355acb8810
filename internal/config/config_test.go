package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	content := `dir: /var/log/diaglog
log_level: debug
enabled: false
source:
  clear: [journalctl, --rotate]
  follow: [journalctl, -f, -o, cat]
  grace: 500ms
  env:
    SYSTEMD_COLORS: "0"
writer:
  flush_interval: 10s
  max_buffered_lines: 50
  max_file_size: 1MiB
  write_buffer: 4096
  max_archives: 3
  file_prefix: app
`
	if err := os.WriteFile(filepath.Join(dir, ".diaglog.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, filename, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if filename != ".diaglog.yaml" {
		t.Errorf("expected .diaglog.yaml, got %s", filename)
	}
	if cfg.Dir != "/var/log/diaglog" {
		t.Errorf("expected /var/log/diaglog, got %q", cfg.Dir)
	}
	if cfg.IsEnabled() {
		t.Error("expected enabled: false")
	}
	if len(cfg.Source.Follow) != 4 || cfg.Source.Follow[0] != "journalctl" {
		t.Errorf("expected journalctl follow command, got %v", cfg.Source.Follow)
	}
	if cfg.Source.Grace.Duration() != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", cfg.Source.Grace.Duration())
	}
	if cfg.Source.Env["SYSTEMD_COLORS"] != "0" {
		t.Errorf("expected SYSTEMD_COLORS=0, got %v", cfg.Source.Env)
	}

	wc := cfg.WriterConfig()
	if wc.FlushInterval != 10*time.Second {
		t.Errorf("expected 10s, got %v", wc.FlushInterval)
	}
	if wc.MaxBufferedLines != 50 {
		t.Errorf("expected 50, got %d", wc.MaxBufferedLines)
	}
	if wc.MaxFileSize != 1<<20 {
		t.Errorf("expected 1MiB, got %d", wc.MaxFileSize)
	}
	if wc.WriteBufferSize != 4096 {
		t.Errorf("expected 4096, got %d", wc.WriteBufferSize)
	}
	if wc.MaxArchives != 3 || wc.FilePrefix != "app" {
		t.Errorf("expected 3 archives with prefix app, got %d %q", wc.MaxArchives, wc.FilePrefix)
	}
	// Unset fields fall back to defaults.
	if wc.FlushTimeout != 5*time.Second {
		t.Errorf("expected default flush timeout 5s, got %v", wc.FlushTimeout)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	content := `log_level = "warn"

[writer]
flush_interval = "2s"
max_file_size = 2048
write_buffer = "16KiB"
`
	if err := os.WriteFile(filepath.Join(dir, ".diaglog.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, filename, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if filename != ".diaglog.toml" {
		t.Errorf("expected .diaglog.toml, got %s", filename)
	}
	if cfg.Writer.FlushInterval.Duration() != 2*time.Second {
		t.Errorf("expected 2s, got %v", cfg.Writer.FlushInterval.Duration())
	}
	if cfg.Writer.MaxFileSize != 2048 {
		t.Errorf("expected 2048, got %d", cfg.Writer.MaxFileSize)
	}
	if cfg.Writer.WriteBuffer != 16<<10 {
		t.Errorf("expected 16KiB, got %d", cfg.Writer.WriteBuffer)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	content := `{"writer": {"flush_timeout": "3s", "max_file_size": "10MB"}, "share": {"r2": {"bucket": "logs"}}}`
	if err := os.WriteFile(filepath.Join(dir, ".diaglog.json"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, filename, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if filename != ".diaglog.json" {
		t.Errorf("expected .diaglog.json, got %s", filename)
	}
	if cfg.Writer.FlushTimeout.Duration() != 3*time.Second {
		t.Errorf("expected 3s, got %v", cfg.Writer.FlushTimeout.Duration())
	}
	if cfg.Writer.MaxFileSize != 10_000_000 {
		t.Errorf("expected 10MB, got %d", cfg.Writer.MaxFileSize)
	}
	if cfg.R2Config().Bucket != "logs" {
		t.Errorf("expected bucket logs, got %q", cfg.R2Config().Bucket)
	}
}

func TestLoadPriority(t *testing.T) {
	// .diaglog.yaml should take priority over diaglog.yaml
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".diaglog.yaml"), []byte("dir: first"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "diaglog.yaml"), []byte("dir: second"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, filename, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filename != ".diaglog.yaml" {
		t.Errorf("expected .diaglog.yaml priority, got %s", filename)
	}
	if cfg.Dir != "first" {
		t.Errorf("expected 'first', got %q", cfg.Dir)
	}
}

func TestLoadNoConfig(t *testing.T) {
	_, _, err := Load(t.TempDir())
	if !errors.Is(err, ErrNoConfig) {
		t.Errorf("expected ErrNoConfig, got %v", err)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "diaglog.yaml"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	cfg, _, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Writer.MaxBufferedLines != 100 {
		t.Errorf("expected default 100, got %d", cfg.Writer.MaxBufferedLines)
	}
}

func TestLoadUnknownField(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".diaglog.yaml"), []byte("max_lines: 5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(dir); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestLoadFileUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diaglog.ini")
	if err := os.WriteFile(path, []byte("dir=x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for .ini config")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad duration", "writer:\n  flush_interval: soon\n", "invalid duration"},
		{"bad size", "writer:\n  max_file_size: huge\n", "invalid size"},
		{"negative lines", "writer:\n  max_buffered_lines: -1\n", "writer:"},
		{"bad level", "log_level: loud\n", "invalid log level"},
		{"prefix with slash", "writer:\n  file_prefix: a/b\n", "path separator"},
		{"yaml boolean", "source:\n  follow: [true]\n", "boolean"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, ".diaglog.yaml"), []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, _, err := Load(dir)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.IsEnabled() {
		t.Error("collection should be enabled by default")
	}
	if filepath.Base(cfg.Socket) != "daemon.sock" {
		t.Errorf("unexpected socket %q", cfg.Socket)
	}
	if len(cfg.Source.Follow) == 0 || len(cfg.Source.Clear) == 0 {
		t.Errorf("expected default source commands, got %+v", cfg.Source)
	}
	if cfg.Writer.MaxFileSize.String() != "25 MiB" {
		t.Errorf("expected 25 MiB, got %s", cfg.Writer.MaxFileSize)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DIAGLOG_DIR", "/tmp/env-logs")
	t.Setenv("DIAGLOG_LOG_LEVEL", "debug")
	t.Setenv("DIAGLOG_R2_BUCKET", "env-bucket")
	t.Setenv("DIAGLOG_R2_ACCOUNT_ID", "acct")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.Dir != "/tmp/env-logs" {
		t.Errorf("expected env dir, got %q", cfg.Dir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug, got %q", cfg.LogLevel)
	}
	r2 := cfg.R2Config()
	if r2.Bucket != "env-bucket" || r2.AccountID != "acct" {
		t.Errorf("unexpected r2 config %+v", r2)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}
