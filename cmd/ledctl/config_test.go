package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/ledctl/internal/server"
)

func TestLoadServiceConfigDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
name = "ledctl.porch"
addr = "127.0.0.1:9090"
secret = "s3cret"
origins = [" http://localhost:3000 ", ""]
driver = "LOG"

[session]
handshake_timeout = "2s"
send_queue = 32
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Name != "ledctl.porch" {
		t.Fatalf("unexpected name: %q", cfg.Name)
	}
	if cfg.Addr != "127.0.0.1:9090" {
		t.Fatalf("unexpected addr: %q", cfg.Addr)
	}
	if cfg.Secret != "s3cret" {
		t.Fatalf("unexpected secret: %q", cfg.Secret)
	}
	if len(cfg.Origins) != 1 || cfg.Origins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected origins: %v", cfg.Origins)
	}
	if cfg.Driver != server.DriverLog {
		t.Fatalf("unexpected driver: %q", cfg.Driver)
	}
	if cfg.SettingsPath != server.DefaultConfig().SettingsPath {
		t.Fatalf("settings path should keep default, got %q", cfg.SettingsPath)
	}
	if cfg.Session.HandshakeTimeout != 2*time.Second {
		t.Fatalf("unexpected handshake timeout: %s", cfg.Session.HandshakeTimeout)
	}
	if cfg.Session.SendQueue != 32 {
		t.Fatalf("unexpected send queue: %d", cfg.Session.SendQueue)
	}
	if cfg.Session.CallTimeout != server.DefaultConfig().Session.CallTimeout {
		t.Fatalf("call timeout should keep default, got %s", cfg.Session.CallTimeout)
	}
}

func TestLoadServiceConfigEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := loadServiceConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Addr != server.DefaultConfig().Addr {
		t.Fatalf("unexpected addr: %q", cfg.Addr)
	}
}

func TestLoadServiceConfigRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[session]\nread_timeout = \"soon\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadServiceConfig(path); err == nil {
		t.Fatal("expected error for bad duration")
	}
}
