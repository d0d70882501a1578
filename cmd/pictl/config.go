package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/ledctl/internal/config"
	"github.com/danmuck/ledctl/internal/peer"
	"github.com/danmuck/ledctl/internal/protocol"
	"github.com/danmuck/ledctl/internal/protocol/session"
)

type serviceConfig struct {
	Peer     peer.Config
	PWMRange uint16
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		Peer: peer.Config{
			URL:     "ws://127.0.0.1:8080/ws",
			Role:    protocol.RolePiServer,
			Session: session.DefaultConfig(),
		},
		PWMRange: 1023,
	}
}

func loadServiceConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw config.PiFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load pictl config: %w", err)
	}

	if meta.IsDefined("url") {
		cfg.Peer.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("secret") {
		cfg.Peer.Secret = raw.Secret
	}
	if meta.IsDefined("tls_ca_file") {
		cfg.Peer.CAFile = strings.TrimSpace(raw.TLSCAFile)
	}
	if meta.IsDefined("pwm_range") {
		if raw.PWMRange == 0 {
			return serviceConfig{}, fmt.Errorf("load pictl config: pwm_range must be positive")
		}
		cfg.PWMRange = raw.PWMRange
	}

	cfg.Peer.Session, err = raw.Session.Apply(cfg.Peer.Session)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load pictl config: %w", err)
	}
	return cfg, nil
}
