package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/ledctl/internal/lights"
	"github.com/danmuck/ledctl/internal/protocol"
	"github.com/danmuck/ledctl/internal/protocol/channel"
	"github.com/danmuck/ledctl/internal/testutil/pipe"
	"github.com/rs/zerolog"
)

func TestLoadServiceConfigDefaultsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
url = "ws://lights.local:8080/ws"
secret = "s3cret"
pwm_range = 255

[session]
backoff_max = "2s"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Peer.URL != "ws://lights.local:8080/ws" {
		t.Fatalf("unexpected url: %q", cfg.Peer.URL)
	}
	if cfg.Peer.Role != protocol.RolePiServer {
		t.Fatalf("unexpected role: %s", cfg.Peer.Role)
	}
	if cfg.PWMRange != 255 {
		t.Fatalf("unexpected pwm range: %d", cfg.PWMRange)
	}
	if cfg.Peer.Session.Backoff.MaxDelay != 2*time.Second {
		t.Fatalf("unexpected backoff max: %s", cfg.Peer.Session.Backoff.MaxDelay)
	}
}

func TestLoadServiceConfigRejectsZeroRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("pwm_range = 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadServiceConfig(path); err == nil {
		t.Fatal("expected error for zero pwm range")
	}
}

func TestPWMOutputRescalesWrites(t *testing.T) {
	toClient := pipe.NewEnd(0)
	ch := channel.New(pipe.NewEnd(0), channel.Options{})
	go pipe.Pump(toClient, ch)
	t.Cleanup(func() { _ = toClient.Close() })

	out := newPWMOutput(1023, zerolog.Nop())
	out.install(ch)

	server := channel.New(toClient, channel.Options{})
	if !channel.Publish(server, protocol.RouteGPIOWrite, protocol.GPIOWrite{R: lights.FullDuty, B: lights.FullDuty / 2}) {
		t.Fatal("publish failed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		duty, n := out.current()
		if n == 1 {
			if duty != (protocol.GPIOWrite{R: 1023, B: 511}) {
				t.Fatalf("unexpected duty: %+v", duty)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("gpio write not applied")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
