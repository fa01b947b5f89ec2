package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.peerchat/config.toml.
type Config struct {
	DefaultSession string    `toml:"default_session"`
	Server         Server    `toml:"server"`
	Delivery       Delivery  `toml:"delivery"`
	Reconnect      Reconnect `toml:"reconnect"`
	Metrics        Metrics   `toml:"metrics"`
	Log            Log       `toml:"log"`
}

// Server locates the matching service.
type Server struct {
	URL          string   `toml:"url"`
	Endpoint     string   `toml:"endpoint"`
	AuthURL      string   `toml:"auth_url"`
	UserAgent    string   `toml:"user_agent"`
	Subprotocol  string   `toml:"subprotocol"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// Delivery tunes outbox replay.
type Delivery struct {
	ReplayInterval   Duration `toml:"replay_interval"`
	OutboxLimit      int      `toml:"outbox_limit"`
	ClearAfterReplay bool     `toml:"clear_after_replay"`
}

// Reconnect bounds the automatic reconnect backoff. A zero MaxElapsed
// retries forever.
type Reconnect struct {
	Enabled         bool     `toml:"enabled"`
	InitialInterval Duration `toml:"initial_interval"`
	MaxInterval     Duration `toml:"max_interval"`
	MaxElapsed      Duration `toml:"max_elapsed"`
}

type Metrics struct {
	Listen string `toml:"listen"`
}

type Log struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Server: Server{
			URL:          "wss://dev.wefaaq.net",
			Endpoint:     "@fadfedx",
			AuthURL:      "https://dev.wefaaq.net/api",
			UserAgent:    "FadFed/2.4.3(iOS/15.4)",
			Subprotocol:  "v2.fadfedly.com",
			WriteTimeout: Duration{10 * time.Second},
		},
		Delivery: Delivery{
			ReplayInterval: Duration{200 * time.Millisecond},
			OutboxLimit:    500,
		},
		Reconnect: Reconnect{
			Enabled:         true,
			InitialInterval: Duration{time.Second},
			MaxInterval:     Duration{30 * time.Second},
			MaxElapsed:      Duration{10 * time.Minute},
		},
		Log: Log{Level: "info"},
	}
}

// Load reads config from the given path over the defaults. Returns an error
// if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
