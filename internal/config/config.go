// Package config loads the device file used by the gree command.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Device variants understood by the command.
const (
	VariantClimate  = "climate"
	VariantHeatPump = "heatpump"
)

// Config is the content of the device file.
//
//	bind_timeout = "2s"
//
//	[[device]]
//	name = "living room"
//	ip = "192.168.1.40"
//	mac = "f4911e7aca59"
//	key = "St8Vw1Yz4Bc7Ef0H"
//	cipher = "v1"
type Config struct {
	BindTimeout    time.Duration `toml:"bind_timeout"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	Devices        []Device      `toml:"device"`
}

// Device is one known unit.
type Device struct {
	Name    string `toml:"name"`
	IP      string `toml:"ip"`
	Port    int    `toml:"port,omitempty"`
	MAC     string `toml:"mac"`
	Key     string `toml:"key,omitempty"`
	Cipher  string `toml:"cipher,omitempty"`
	Variant string `toml:"variant,omitempty"`
}

// DefaultConfig returns an empty device list with the default timeouts.
func DefaultConfig() *Config {
	return &Config{
		BindTimeout:    10 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// DefaultPath returns the device file location, $GREE_CONFIG or
// gree/devices.toml below the user config directory.
func DefaultPath() string {
	if p := os.Getenv("GREE_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "devices.toml"
	}
	return filepath.Join(dir, "gree", "devices.toml")
}

// Load reads the device file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("decode TOML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory when needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("encode TOML: %w", err)
	}
	return f.Close()
}

// Validate checks every device entry.
func (c *Config) Validate() error {
	var errs []error
	if c.BindTimeout <= 0 {
		errs = append(errs, errors.New("bind_timeout must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be positive"))
	}
	for i, d := range c.Devices {
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("device %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks a single entry.
func (d *Device) Validate() error {
	switch {
	case d.IP == "":
		return errors.New("ip is required")
	case d.MAC == "":
		return errors.New("mac is required")
	case d.Port < 0 || d.Port > 65535:
		return fmt.Errorf("invalid port %d", d.Port)
	case d.Key != "" && d.Cipher == "":
		return errors.New("cipher is required when key is set")
	}
	switch strings.ToLower(d.Cipher) {
	case "", "v1", "v2":
	default:
		return fmt.Errorf("unknown cipher %q", d.Cipher)
	}
	switch d.Variant {
	case "", VariantClimate, VariantHeatPump:
	default:
		return fmt.Errorf("unknown variant %q", d.Variant)
	}
	return nil
}

// Find returns the device whose name, MAC or IP equals id.
func (c *Config) Find(id string) (*Device, bool) {
	for i := range c.Devices {
		d := &c.Devices[i]
		if strings.EqualFold(d.Name, id) || strings.EqualFold(d.MAC, id) || d.IP == id {
			return d, true
		}
	}
	return nil, false
}

// Upsert replaces the entry with the same MAC or appends d.
func (c *Config) Upsert(d Device) {
	for i := range c.Devices {
		if strings.EqualFold(c.Devices[i].MAC, d.MAC) {
			if d.Name == "" {
				d.Name = c.Devices[i].Name
			}
			if d.Variant == "" {
				d.Variant = c.Devices[i].Variant
			}
			c.Devices[i] = d
			return
		}
	}
	c.Devices = append(c.Devices, d)
}
