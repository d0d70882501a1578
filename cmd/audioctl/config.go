package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/ledctl/internal/audio"
	"github.com/danmuck/ledctl/internal/config"
	"github.com/danmuck/ledctl/internal/peer"
	"github.com/danmuck/ledctl/internal/protocol"
	"github.com/danmuck/ledctl/internal/protocol/session"
)

type serviceConfig struct {
	Peer  peer.Config
	Audio audio.Config
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		Peer: peer.Config{
			URL:     "ws://127.0.0.1:8080/ws",
			Role:    protocol.RoleAudioServer,
			Session: session.DefaultConfig(),
		},
		Audio: audio.DefaultConfig(),
	}
}

func loadServiceConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw config.AudioFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load audioctl config: %w", err)
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
	if meta.IsDefined("frame_interval") {
		d, err := config.ParseDuration("frame_interval", raw.FrameInterval)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg.Audio.FrameInterval = d
	}
	if meta.IsDefined("sample_rate") {
		cfg.Audio.SampleRate = raw.SampleRate
	}
	if meta.IsDefined("channels") {
		cfg.Audio.Channels = raw.Channels
	}

	cfg.Peer.Session, err = raw.Session.Apply(cfg.Peer.Session)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load audioctl config: %w", err)
	}
	return cfg, nil
}
