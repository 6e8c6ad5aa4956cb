package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"ssd1680/internal/epd"
	"ssd1680/internal/paint"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// PanelConfig describes how the SSD1680 is wired. Pins are BCM numbers.
type PanelConfig struct {
	DC        int `yaml:"dc" json:"dc"`
	Reset     int `yaml:"reset" json:"reset"`
	Busy      int `yaml:"busy" json:"busy"`
	SPIDevice int `yaml:"spi_device" json:"spi_device"`
	SPIHz     int `yaml:"spi_hz" json:"spi_hz"`

	// Rotation in degrees: 0, 90, 180 or 270.
	Rotation int `yaml:"rotation" json:"rotation"`
	// ZeroBased makes drawing coordinates start at 0 instead of 1.
	ZeroBased bool `yaml:"zero_based" json:"zero_based"`

	BusyTimeoutMs  int `yaml:"busy_timeout_ms" json:"busy_timeout_ms"`
	PollIntervalMs int `yaml:"poll_interval_ms" json:"poll_interval_ms"`
	ResetHoldMs    int `yaml:"reset_hold_ms" json:"reset_hold_ms"`
}

// ScreenConfig controls what the status screen shows.
type ScreenConfig struct {
	// Message is drawn with the built-in 6x8 font.
	Message string `yaml:"message" json:"message"`
	// Multiplier scales the built-in font.
	Multiplier int `yaml:"multiplier" json:"multiplier"`
	// TTFFont is an optional .ttf path for the clock line. Empty uses the
	// bundled Go Regular font.
	TTFFont string `yaml:"ttf_font" json:"ttf_font"`
	// TTFSize is the clock point size; 0 disables the TrueType clock and the
	// clock is drawn with the bitmap font.
	TTFSize float64 `yaml:"ttf_size" json:"ttf_size"`
}

// BatteryConfig enables the PiSugar battery readout.
type BatteryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	I2CBus  string `yaml:"i2c_bus" json:"i2c_bus"`
	I2CAddr uint16 `yaml:"i2c_addr" json:"i2c_addr"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone of the clock line (e.g. "Europe/Berlin").
	// "Local" uses the system zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is DEBUG, INFO, WARN or ERROR.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Panel  PanelConfig  `yaml:"panel" json:"panel"`
	Screen ScreenConfig `yaml:"screen" json:"screen"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used for periodic refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// FullEvery forces a full refresh every N refreshes; the rest are
	// partial. 1 makes every refresh full.
	FullEvery int `yaml:"full_every" json:"full_every"`

	Battery BatteryConfig `yaml:"battery" json:"battery"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	d := epd.DefaultOpts
	return &Config{
		Listen:   "127.0.0.1:8080",
		Timezone: "Local",
		LogLevel: "INFO",
		Panel: PanelConfig{
			DC:             d.DC,
			Reset:          d.RST,
			Busy:           d.BUSY,
			SPIDevice:      d.Device,
			SPIHz:          int(d.Frequency / physic.Hertz),
			Rotation:       90,
			BusyTimeoutMs:  int(d.BusyTimeout / time.Millisecond),
			PollIntervalMs: int(d.PollInterval / time.Millisecond),
			ResetHoldMs:    int(d.ResetHold / time.Millisecond),
		},
		Screen: ScreenConfig{
			Message:    "Hello World!",
			Multiplier: 2,
			TTFSize:    24,
		},
		RefreshCron: "*/15 * * * *",
		FullEvery:   8,
		Battery: BatteryConfig{
			I2CAddr: 0x57,
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Panel.DC == 0 && c.Panel.Reset == 0 && c.Panel.Busy == 0 {
		// No wiring given; use the reference wiring including its SPI bus.
		c.Panel.DC = def.Panel.DC
		c.Panel.Reset = def.Panel.Reset
		c.Panel.Busy = def.Panel.Busy
		c.Panel.SPIDevice = def.Panel.SPIDevice
	}
	if c.Panel.SPIHz <= 0 {
		c.Panel.SPIHz = def.Panel.SPIHz
	}
	if _, ok := paint.RotationFromDegrees(c.Panel.Rotation); !ok {
		// Unknown value; fall back to landscape.
		c.Panel.Rotation = def.Panel.Rotation
	}
	if c.Panel.BusyTimeoutMs <= 0 {
		c.Panel.BusyTimeoutMs = def.Panel.BusyTimeoutMs
	}
	if c.Panel.PollIntervalMs <= 0 {
		c.Panel.PollIntervalMs = def.Panel.PollIntervalMs
	}
	if c.Panel.ResetHoldMs <= 0 {
		c.Panel.ResetHoldMs = def.Panel.ResetHoldMs
	}
	if c.Screen.Multiplier < 1 {
		c.Screen.Multiplier = 1
	}
	if c.Screen.TTFSize < 0 {
		c.Screen.TTFSize = 0
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.FullEvery < 1 {
		c.FullEvery = def.FullEvery
	}
	if c.Battery.I2CAddr == 0 {
		c.Battery.I2CAddr = def.Battery.I2CAddr
	}
}

// Validate reports wiring that cannot drive a panel.
func (c *Config) Validate() error {
	p := c.Panel
	if p.DC < 0 || p.Reset < 0 || p.Busy < 0 || p.SPIDevice < 0 {
		return fmt.Errorf("config: panel pins and spi_device must not be negative (dc=%d reset=%d busy=%d spi_device=%d)",
			p.DC, p.Reset, p.Busy, p.SPIDevice)
	}
	if p.DC == p.Reset || p.DC == p.Busy || p.Reset == p.Busy {
		return fmt.Errorf("config: panel dc, reset and busy must be distinct pins (dc=%d reset=%d busy=%d)",
			p.DC, p.Reset, p.Busy)
	}
	return nil
}

// EPDOpts converts the panel section into driver options.
func (c *Config) EPDOpts() *epd.Opts {
	rot, _ := paint.RotationFromDegrees(c.Panel.Rotation)
	return &epd.Opts{
		DC:           c.Panel.DC,
		RST:          c.Panel.Reset,
		BUSY:         c.Panel.Busy,
		Device:       c.Panel.SPIDevice,
		Frequency:    physic.Frequency(c.Panel.SPIHz) * physic.Hertz,
		Rotation:     rot,
		ZeroBased:    c.Panel.ZeroBased,
		BusyTimeout:  time.Duration(c.Panel.BusyTimeoutMs) * time.Millisecond,
		PollInterval: time.Duration(c.Panel.PollIntervalMs) * time.Millisecond,
		ResetHold:    time.Duration(c.Panel.ResetHoldMs) * time.Millisecond,
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//   - reject unusable panel wiring
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".ssd1680-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
