package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/diaglog/internal/logstore"
	"github.com/ehrlich-b/diaglog/internal/logwriter"
)

// ErrNoConfig is returned when no config file is found.
var ErrNoConfig = errors.New("no diaglog config file found")

// Config is the parsed diaglog configuration.
type Config struct {
	// Dir holds the active log file and its archives. Default: ~/.diaglog/logs.
	Dir string `yaml:"dir" toml:"dir" json:"dir"`

	// Socket is the daemon control socket. Default: ~/.diaglog/daemon.sock.
	Socket string `yaml:"socket" toml:"socket" json:"socket"`

	// LogLevel for diaglog's own diagnostics: debug, info, warn or error.
	LogLevel string `yaml:"log_level" toml:"log_level" json:"log_level"`

	// Enabled starts collection when the daemon starts. Default: true.
	Enabled *bool `yaml:"enabled" toml:"enabled" json:"enabled"`

	Source Source `yaml:"source" toml:"source" json:"source"`
	Writer Writer `yaml:"writer" toml:"writer" json:"writer"`
	Share  Share  `yaml:"share" toml:"share" json:"share"`
}

// Source configures the system log command.
type Source struct {
	// Clear empties the system log buffer before following. Optional.
	Clear []string `yaml:"clear" toml:"clear" json:"clear"`

	// Follow streams the system log to stdout.
	Follow []string `yaml:"follow" toml:"follow" json:"follow"`

	// Env is added to the daemon's environment for both commands.
	Env map[string]string `yaml:"env" toml:"env" json:"env"`

	// Grace between SIGTERM and SIGKILL on stop. Default: 2s.
	Grace Duration `yaml:"grace" toml:"grace" json:"grace"`
}

// Writer tunes buffering, rotation and retention.
type Writer struct {
	FlushInterval    Duration `yaml:"flush_interval" toml:"flush_interval" json:"flush_interval"`
	MaxBufferedLines int      `yaml:"max_buffered_lines" toml:"max_buffered_lines" json:"max_buffered_lines"`
	MaxFileSize      ByteSize `yaml:"max_file_size" toml:"max_file_size" json:"max_file_size"`
	FlushTimeout     Duration `yaml:"flush_timeout" toml:"flush_timeout" json:"flush_timeout"`
	LockTimeout      Duration `yaml:"lock_timeout" toml:"lock_timeout" json:"lock_timeout"`
	WriteBuffer      ByteSize `yaml:"write_buffer" toml:"write_buffer" json:"write_buffer"`
	MaxArchives      int      `yaml:"max_archives" toml:"max_archives" json:"max_archives"`
	FilePrefix       string   `yaml:"file_prefix" toml:"file_prefix" json:"file_prefix"`
}

// Share configures where `diaglog share` uploads logs.
type Share struct {
	R2 R2 `yaml:"r2" toml:"r2" json:"r2"`
}

// R2 holds Cloudflare R2 (or any S3 compatible) credentials.
type R2 struct {
	AccountID       string `yaml:"account_id" toml:"account_id" json:"account_id"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key" json:"secret_access_key"`
	Bucket          string `yaml:"bucket" toml:"bucket" json:"bucket"`
	Endpoint        string `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
}

// Duration wraps time.Duration for custom parsing.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(dur)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// Home returns the diaglog state directory, ~/.diaglog.
func Home() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "diaglog")
	}
	return filepath.Join(home, ".diaglog")
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load finds and parses a diaglog config file from the given directory.
func Load(dir string) (*Config, string, error) {
	candidates := []string{
		".diaglog.yaml",
		".diaglog.yml",
		".diaglog.toml",
		".diaglog.json",
		"diaglog.yaml",
		"diaglog.yml",
		"diaglog.toml",
		"diaglog.json",
	}

	for _, name := range candidates {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue // File doesn't exist, try next
		}
		cfg, err := LoadFile(path)
		if err != nil {
			return nil, name, err
		}
		return cfg, name, nil
	}

	return nil, "", ErrNoConfig
}

// LoadFile parses the config file at path, choosing the format by extension.
func LoadFile(path string) (*Config, error) {
	name := filepath.Base(path)

	var parser func([]byte, *Config) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = parseYAML
	case ".toml":
		parser = parseTOML
	case ".json":
		parser = parseJSON
	default:
		return nil, fmt.Errorf("unsupported config format: %s", name)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	var cfg Config
	if err := parser(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", name, err)
	}

	return &cfg, nil
}

func parseYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Strict: error on unknown fields
	err := decoder.Decode(cfg)
	if errors.Is(err, io.EOF) {
		return nil // Empty file
	}
	return err
}

func parseTOML(data []byte, cfg *Config) error {
	_, err := toml.Decode(string(data), cfg)
	return err
}

func parseJSON(data []byte, cfg *Config) error {
	return json.Unmarshal(data, cfg)
}

// Validate checks the config for errors.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, err := ParseLevel(c.LogLevel); err != nil {
			return err
		}
	}

	for _, arg := range c.Source.Follow {
		// Check for YAML footguns
		if arg == "true" || arg == "false" {
			return errors.New("source.follow contains a boolean - did YAML mangle it? Quote your command")
		}
	}

	if c.Writer.FilePrefix != "" && strings.ContainsAny(c.Writer.FilePrefix, `/\`) {
		return fmt.Errorf("writer.file_prefix %q must not contain a path separator", c.Writer.FilePrefix)
	}

	if err := c.WriterConfig().Validate(); err != nil {
		return fmt.Errorf("writer: %w", err)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Dir == "" {
		c.Dir = filepath.Join(Home(), "logs")
	}
	if c.Socket == "" {
		c.Socket = filepath.Join(Home(), "daemon.sock")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if len(c.Source.Follow) == 0 {
		c.Source.Follow = []string{"logcat", "-v", "threadtime"}
		if c.Source.Clear == nil {
			c.Source.Clear = []string{"logcat", "-c"}
		}
	}
	if c.Source.Grace == 0 {
		c.Source.Grace = Duration(2 * time.Second)
	}

	def := logwriter.DefaultConfig()
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = Duration(def.FlushInterval)
	}
	if c.Writer.MaxBufferedLines == 0 {
		c.Writer.MaxBufferedLines = def.MaxBufferedLines
	}
	if c.Writer.MaxFileSize == 0 {
		c.Writer.MaxFileSize = ByteSize(def.MaxFileSize)
	}
	if c.Writer.FlushTimeout == 0 {
		c.Writer.FlushTimeout = Duration(def.FlushTimeout)
	}
	if c.Writer.LockTimeout == 0 {
		c.Writer.LockTimeout = Duration(def.LockTimeout)
	}
	if c.Writer.WriteBuffer == 0 {
		c.Writer.WriteBuffer = ByteSize(def.WriteBufferSize)
	}
	if c.Writer.MaxArchives == 0 {
		c.Writer.MaxArchives = def.MaxArchives
	}
	if c.Writer.FilePrefix == "" {
		c.Writer.FilePrefix = def.FilePrefix
	}
}

// ApplyEnv overrides fields from DIAGLOG_* environment variables.
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Dir, "DIAGLOG_DIR")
	set(&c.Socket, "DIAGLOG_SOCKET")
	set(&c.LogLevel, "DIAGLOG_LOG_LEVEL")
	set(&c.Share.R2.AccountID, "DIAGLOG_R2_ACCOUNT_ID")
	set(&c.Share.R2.AccessKeyID, "DIAGLOG_R2_ACCESS_KEY_ID")
	set(&c.Share.R2.SecretAccessKey, "DIAGLOG_R2_SECRET_ACCESS_KEY")
	set(&c.Share.R2.Bucket, "DIAGLOG_R2_BUCKET")
	set(&c.Share.R2.Endpoint, "DIAGLOG_R2_ENDPOINT")
}

// IsEnabled reports whether collection starts with the daemon.
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// WriterConfig converts the writer section to a logwriter.Config.
func (c *Config) WriterConfig() logwriter.Config {
	return logwriter.Config{
		FlushInterval:    c.Writer.FlushInterval.Duration(),
		MaxBufferedLines: c.Writer.MaxBufferedLines,
		MaxFileSize:      int64(c.Writer.MaxFileSize),
		FlushTimeout:     c.Writer.FlushTimeout.Duration(),
		LockTimeout:      c.Writer.LockTimeout.Duration(),
		WriteBufferSize:  int(c.Writer.WriteBuffer),
		MaxArchives:      c.Writer.MaxArchives,
		FilePrefix:       c.Writer.FilePrefix,
	}
}

// R2Config converts the share section to upload credentials.
func (c *Config) R2Config() logstore.R2Config {
	return logstore.R2Config{
		AccountID:       c.Share.R2.AccountID,
		AccessKeyID:     c.Share.R2.AccessKeyID,
		SecretAccessKey: c.Share.R2.SecretAccessKey,
		Bucket:          c.Share.R2.Bucket,
		Endpoint:        c.Share.R2.Endpoint,
	}
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
