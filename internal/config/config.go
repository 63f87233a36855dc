package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const appName = "unrepost"

// Config holds all application configuration
type Config struct {
	Version   int             `toml:"version"`
	LogLevel  string          `toml:"log_level"`
	Browser   BrowserConfig   `toml:"browser"`
	Selectors SelectorsConfig `toml:"selectors"`
	Pacing    PacingConfig    `toml:"pacing"`
	Signals   SignalsConfig   `toml:"signals"`
	Bridge    BridgeConfig    `toml:"bridge"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Control   ControlConfig   `toml:"control"`
	Store     StoreConfig     `toml:"store"`
	Email     EmailConfig     `toml:"email"`
}

type BrowserConfig struct {
	Headless    bool   `toml:"headless"`
	UserDataDir string `toml:"user_data_dir"`
	ExecPath    string `toml:"exec_path"`
	StartURL    string `toml:"start_url"`
}

type SelectorsConfig struct {
	RemoteURL       string `toml:"remote_url"`
	VersionURL      string `toml:"version_url"`
	RefreshSchedule string `toml:"refresh_schedule"`
}

// PacingConfig controls every wait the workflow performs. The delay bounds
// were tuned against the host site's abuse thresholds.
type PacingConfig struct {
	SettleDelay       Duration `toml:"settle_delay"`
	RemovalDelayMin   Duration `toml:"removal_delay_min"`
	RemovalDelayMax   Duration `toml:"removal_delay_max"`
	ItemDelayMin      Duration `toml:"item_delay_min"`
	ItemDelayMax      Duration `toml:"item_delay_max"`
	PollInterval      Duration `toml:"poll_interval"`
	PausePollInterval Duration `toml:"pause_poll_interval"`
	WaitTimeout       Duration `toml:"wait_timeout"`
	ClickTimeout      Duration `toml:"click_timeout"`
	ScrollTick        Duration `toml:"scroll_tick"`
	ScrollStableTicks int      `toml:"scroll_stable_ticks"`
	ScrollTimeout     Duration `toml:"scroll_timeout"`
}

// SignalsConfig configures the "is reposted" heuristic.
type SignalsConfig struct {
	PressedAttribute string   `toml:"pressed_attribute"`
	InactiveColors   []string `toml:"inactive_colors"`
}

type BridgeConfig struct {
	DedupWindow Duration `toml:"dedup_window"`
	Buffer      int      `toml:"buffer"`
}

type TelemetryConfig struct {
	Enabled    bool     `toml:"enabled"`
	Endpoint   string   `toml:"endpoint"`
	MaxRetries int      `toml:"max_retries"`
	Backoff    Duration `toml:"backoff"`
	QueueSize  int      `toml:"queue_size"`
}

type ControlConfig struct {
	Listen string `toml:"listen"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

// EmailConfig mails the report of every finished run when enabled.
type EmailConfig struct {
	Enabled  bool   `toml:"enabled"`
	Provider string `toml:"provider"`
	SMTPHost string `toml:"smtp_host"`
	SMTPPort int    `toml:"smtp_port"`
	SMTPUser string `toml:"smtp_user"`
	SMTPPass string `toml:"smtp_pass"`
	FromAddr string `toml:"from_address"`
	ToAddr   string `toml:"to_address"`
}

// Duration is a time.Duration that reads and writes as a string in TOML ("1.5s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Dur is shorthand for building a Duration literal.
func Dur(d time.Duration) Duration {
	return Duration{d}
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version:  1,
		LogLevel: "info",
		Browser: BrowserConfig{
			Headless: false,
			StartURL: "https://www.tiktok.com/",
		},
		Selectors: SelectorsConfig{
			RefreshSchedule: "@every 30m",
		},
		Pacing: PacingConfig{
			SettleDelay:       Dur(3 * time.Second),
			RemovalDelayMin:   Dur(1000 * time.Millisecond),
			RemovalDelayMax:   Dur(2400 * time.Millisecond),
			ItemDelayMin:      Dur(800 * time.Millisecond),
			ItemDelayMax:      Dur(2400 * time.Millisecond),
			PollInterval:      Dur(200 * time.Millisecond),
			PausePollInterval: Dur(500 * time.Millisecond),
			WaitTimeout:       Dur(10 * time.Second),
			ClickTimeout:      Dur(3 * time.Second),
			ScrollTick:        Dur(1500 * time.Millisecond),
			ScrollStableTicks: 2,
			ScrollTimeout:     Dur(120 * time.Second),
		},
		Signals: SignalsConfig{
			PressedAttribute: "aria-pressed",
			InactiveColors:   []string{"rgb(22, 24, 35)", "rgba(22, 24, 35, 0.75)", "rgb(255, 255, 255)"},
		},
		Bridge: BridgeConfig{
			DedupWindow: Dur(400 * time.Millisecond),
			Buffer:      64,
		},
		Telemetry: TelemetryConfig{
			Enabled:    false,
			MaxRetries: 3,
			Backoff:    Dur(500 * time.Millisecond),
			QueueSize:  128,
		},
		Control: ControlConfig{
			Listen: "127.0.0.1:7317",
		},
		Email: EmailConfig{
			Provider: "smtp",
			SMTPPort: 587,
		},
	}
}

// Validate checks ranges that the workflow relies on.
func (c *Config) Validate() error {
	p := c.Pacing
	if p.RemovalDelayMin.Duration > p.RemovalDelayMax.Duration {
		return fmt.Errorf("pacing: removal_delay_min %v exceeds removal_delay_max %v", p.RemovalDelayMin, p.RemovalDelayMax)
	}
	if p.ItemDelayMin.Duration > p.ItemDelayMax.Duration {
		return fmt.Errorf("pacing: item_delay_min %v exceeds item_delay_max %v", p.ItemDelayMin, p.ItemDelayMax)
	}
	for name, d := range map[string]Duration{
		"poll_interval":       p.PollInterval,
		"pause_poll_interval": p.PausePollInterval,
		"scroll_tick":         p.ScrollTick,
		"wait_timeout":        p.WaitTimeout,
		"click_timeout":       p.ClickTimeout,
		"scroll_timeout":      p.ScrollTimeout,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("pacing: %s must be positive", name)
		}
	}
	if p.ScrollStableTicks < 1 {
		return fmt.Errorf("pacing: scroll_stable_ticks must be at least 1")
	}
	if c.Bridge.Buffer < 1 {
		return fmt.Errorf("bridge: buffer must be at least 1")
	}
	if e := c.Email; e.Enabled && (e.SMTPHost == "" || e.ToAddr == "" || e.FromAddr == "") {
		return fmt.Errorf("email: smtp_host, from_address and to_address are required when enabled")
	}
	return nil
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, appName), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CacheDir returns the platform-appropriate cache directory.
// On macOS this is ~/Library/Caches/unrepost/
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, appName), nil
}

// DefaultStorePath returns the default SQLite history database path.
func DefaultStorePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// Load reads config from disk and applies environment overrides.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadOrInit loads the config file. On first run it writes the defaults
// and reports created.
func LoadOrInit() (cfg *Config, created bool, err error) {
	cfg, err = Load()
	if err == nil {
		return cfg, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	cfg = Default()
	if err := cfg.Save(); err != nil {
		return nil, false, fmt.Errorf("failed to write default config: %w", err)
	}
	ApplyEnv(cfg)
	return cfg, true, cfg.Validate()
}

// LoadFile reads config from the given path. Keys missing from the file keep
// their defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays UNREPOST_* variables, reading a .env file first if present.
func ApplyEnv(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("UNREPOST_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}
	if v := os.Getenv("UNREPOST_SELECTORS_URL"); v != "" {
		cfg.Selectors.RemoteURL = v
	}
	if v := os.Getenv("UNREPOST_SELECTORS_VERSION_URL"); v != "" {
		cfg.Selectors.VersionURL = v
	}
	if v := os.Getenv("UNREPOST_TELEMETRY_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
		cfg.Telemetry.Enabled = true
	}
	if v := os.Getenv("UNREPOST_LISTEN"); v != "" {
		cfg.Control.Listen = v
	}
	if v := os.Getenv("UNREPOST_SMTP_PASS"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("UNREPOST_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Save writes config to disk
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// SaveFile writes config to the given path.
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}
