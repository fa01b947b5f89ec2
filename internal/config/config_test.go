package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Delivery.ReplayInterval = Duration{50 * time.Millisecond}
	cfg.Metrics.Listen = "127.0.0.1:9464"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Delivery.ReplayInterval.Duration != 50*time.Millisecond {
		t.Errorf("ReplayInterval = %v, want 50ms", loaded.Delivery.ReplayInterval)
	}
	if loaded.Metrics.Listen != "127.0.0.1:9464" {
		t.Errorf("Metrics.Listen = %q", loaded.Metrics.Listen)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[delivery]\noutbox_limit = 7\n\n[reconnect]\nmax_interval = \"5s\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Delivery.OutboxLimit != 7 {
		t.Errorf("OutboxLimit = %d, want 7", cfg.Delivery.OutboxLimit)
	}
	if cfg.Reconnect.MaxInterval.Duration != 5*time.Second {
		t.Errorf("MaxInterval = %v, want 5s", cfg.Reconnect.MaxInterval)
	}
	if cfg.Delivery.ReplayInterval.Duration != 200*time.Millisecond {
		t.Errorf("ReplayInterval = %v, want default 200ms", cfg.Delivery.ReplayInterval)
	}
	if cfg.Server.URL != "wss://dev.wefaaq.net" {
		t.Errorf("Server.URL = %q, want default", cfg.Server.URL)
	}
	if !cfg.Reconnect.Enabled {
		t.Error("Reconnect.Enabled should default to true")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[delivery]\nreplay_interval = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for bad duration")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadOrDefaultMissing(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.DefaultSession != "main" {
		t.Errorf("DefaultSession = %q, want main", cfg.DefaultSession)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
