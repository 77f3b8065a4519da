package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/g1link/internal/ble"
	"github.com/chaz8081/g1link/internal/display"
	"github.com/chaz8081/g1link/internal/glasses"
	"github.com/chaz8081/g1link/internal/notify"
)

// Config holds all application configuration.
type Config struct {
	LogLevel     string             `yaml:"log_level"`
	Devices      DevicesConfig      `yaml:"devices"`
	Scan         ScanConfig         `yaml:"scan"`
	Heartbeat    HeartbeatConfig    `yaml:"heartbeat"`
	Reconnect    ReconnectConfig    `yaml:"reconnect"`
	Text         TextConfig         `yaml:"text"`
	RSVP         display.RSVPConfig `yaml:"rsvp"`
	Notification NotificationConfig `yaml:"notification"`
	Audio        AudioConfig        `yaml:"audio"`
}

// DevicesConfig pins lens addresses. When either is set, scanning is skipped.
// On macOS addresses are CoreBluetooth UUIDs, elsewhere MAC addresses.
type DevicesConfig struct {
	LeftAddress  string `yaml:"left_address"`
	RightAddress string `yaml:"right_address"`
}

// ScanConfig holds discovery settings.
type ScanConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	Attempts   int           `yaml:"attempts"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// HeartbeatConfig holds keepalive settings.
type HeartbeatConfig struct {
	Interval  time.Duration `yaml:"interval"`
	MaxMissed int           `yaml:"max_missed"` // 0 never drops the link
}

// ReconnectConfig holds backoff settings.
type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// TextConfig holds text delivery pacing.
type TextConfig struct {
	LineWidth     int           `yaml:"line_width"`
	LinesPerPage  int           `yaml:"lines_per_page"`
	PageDelay     time.Duration `yaml:"page_delay"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
	AckTimeout    time.Duration `yaml:"ack_timeout"`
	ChunkDelay    time.Duration `yaml:"chunk_delay"`
	CommandDelay  time.Duration `yaml:"command_delay"`  // spacing between lenses
	WriteInterval time.Duration `yaml:"write_interval"` // minimum spacing of radio writes, 0 unpaced
}

// NotificationConfig holds notification defaults.
type NotificationConfig struct {
	AppIdentifier string        `yaml:"app_identifier"`
	ChunkDelay    time.Duration `yaml:"chunk_delay"`
}

// AudioConfig holds microphone capture settings.
type AudioConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "g1link")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	text := display.DefaultTextOptions()

	return &Config{
		LogLevel: "info",
		Scan: ScanConfig{
			Timeout:    10 * time.Second,
			Attempts:   5,
			RetryDelay: time.Second,
		},
		Heartbeat: HeartbeatConfig{
			Interval:  2 * time.Second,
			MaxMissed: 3,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: 10,
			BaseDelay:   2 * time.Second,
			MaxDelay:    60 * time.Second,
		},
		Text: TextConfig{
			LineWidth:    text.LineWidth,
			LinesPerPage: text.LinesPerPage,
			PageDelay:    text.PageDelay,
			SettleDelay:  text.SettleDelay,
			AckTimeout:   text.AckTimeout,
			ChunkDelay:   text.ChunkDelay,
			CommandDelay: 100 * time.Millisecond,
		},
		RSVP: display.DefaultRSVPConfig(),
		Notification: NotificationConfig{
			AppIdentifier: notify.DefaultAppIdentifier,
			ChunkDelay:    10 * time.Millisecond,
		},
		Audio: AudioConfig{
			OutputDir: filepath.Join(home, ".local", "share", "g1link", "recordings"),
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in audio.output_dir is expanded to the user's
// home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Audio.OutputDir = expandTilde(cfg.Audio.OutputDir)

	return cfg, nil
}

// WriteDefault writes the default config to DefaultConfigPath. It returns
// ("", nil) without touching anything if the file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	header := "# g1link configuration\n# Set devices.left_address/right_address to skip scanning.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.Scan.Timeout <= 0 {
		return fmt.Errorf("scan.timeout must be > 0")
	}
	if c.Scan.Attempts < 1 {
		return fmt.Errorf("scan.attempts must be >= 1")
	}

	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be > 0")
	}
	if c.Heartbeat.MaxMissed < 0 {
		return fmt.Errorf("heartbeat.max_missed must be >= 0")
	}

	if c.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("reconnect.max_attempts must be >= 1")
	}
	if c.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("reconnect.base_delay must be > 0")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect.max_delay must be >= reconnect.base_delay")
	}

	if c.Text.LineWidth < 1 {
		return fmt.Errorf("text.line_width must be >= 1")
	}
	if c.Text.LinesPerPage < 1 {
		return fmt.Errorf("text.lines_per_page must be >= 1")
	}
	if c.Text.AckTimeout <= 0 {
		return fmt.Errorf("text.ack_timeout must be > 0")
	}

	if err := c.RSVP.Validate(); err != nil {
		return fmt.Errorf("rsvp: %w", err)
	}

	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	return ParseLogLevel(c.LogLevel)
}

// ParseLogLevel maps a level name to slog.Level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// PairOptions maps the config onto the pair coordinator's options.
func (c *Config) PairOptions() glasses.Options {
	opts := glasses.DefaultOptions()

	opts.Session.HeartbeatInterval = c.Heartbeat.Interval
	opts.Session.MaxMissedHeartbeats = c.Heartbeat.MaxMissed
	opts.Session.WriteInterval = c.Text.WriteInterval

	opts.Reconnect = ble.ReconnectOptions{
		MaxAttempts: c.Reconnect.MaxAttempts,
		BaseDelay:   c.Reconnect.BaseDelay,
		MaxDelay:    c.Reconnect.MaxDelay,
	}

	opts.Text = display.TextOptions{
		LineWidth:    c.Text.LineWidth,
		LinesPerPage: c.Text.LinesPerPage,
		PageDelay:    c.Text.PageDelay,
		SettleDelay:  c.Text.SettleDelay,
		AckTimeout:   c.Text.AckTimeout,
		ChunkDelay:   c.Text.ChunkDelay,
	}

	opts.ScanTimeout = c.Scan.Timeout
	opts.ScanAttempts = c.Scan.Attempts
	opts.ScanRetryDelay = c.Scan.RetryDelay
	opts.CommandDelay = c.Text.CommandDelay
	opts.NotificationDelay = c.Notification.ChunkDelay
	opts.LeftAddress = c.Devices.LeftAddress
	opts.RightAddress = c.Devices.RightAddress
	return opts
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
