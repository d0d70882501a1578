package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/ledctl/internal/protocol/session"
	"github.com/pelletier/go-toml/v2"
)

// SessionFile is the [session] table shared by every process config.
// Empty values keep the defaults.
type SessionFile struct {
	HandshakeTimeout  string  `toml:"handshake_timeout,omitempty"`
	CallTimeout       string  `toml:"call_timeout,omitempty"`
	ReadTimeout       string  `toml:"read_timeout,omitempty"`
	WriteTimeout      string  `toml:"write_timeout,omitempty"`
	HeartbeatInterval string  `toml:"heartbeat_interval,omitempty"`
	MaxFrameBytes     int64   `toml:"max_frame_bytes,omitempty"`
	SendQueue         int     `toml:"send_queue,omitempty"`
	BackoffInitial    string  `toml:"backoff_initial,omitempty"`
	BackoffMax        string  `toml:"backoff_max,omitempty"`
	BackoffMultiplier float64 `toml:"backoff_multiplier,omitempty"`
	BackoffJitter     *bool   `toml:"backoff_jitter,omitempty"`
}

// Apply overlays the non-empty fields of f onto cfg.
func (f SessionFile) Apply(cfg session.Config) (session.Config, error) {
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"handshake_timeout", f.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"call_timeout", f.CallTimeout, &cfg.CallTimeout},
		{"read_timeout", f.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", f.WriteTimeout, &cfg.WriteTimeout},
		{"heartbeat_interval", f.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"backoff_initial", f.BackoffInitial, &cfg.Backoff.InitialDelay},
		{"backoff_max", f.BackoffMax, &cfg.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := ParseDuration(d.key, d.raw)
		if err != nil {
			return session.Config{}, err
		}
		*d.dst = v
	}
	if f.MaxFrameBytes > 0 {
		cfg.MaxFrameBytes = f.MaxFrameBytes
	}
	if f.SendQueue > 0 {
		cfg.SendQueue = f.SendQueue
	}
	if f.BackoffMultiplier > 0 {
		cfg.Backoff.Multiplier = f.BackoffMultiplier
	}
	if f.BackoffJitter != nil {
		cfg.Backoff.Jitter = *f.BackoffJitter
	}
	return cfg, nil
}

// ParseDuration parses a positive duration for key.
func ParseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("parse %s: must be positive, got %s", key, raw)
	}
	return d, nil
}

// ServerFile is the ledctl process config.
type ServerFile struct {
	Name         string      `toml:"name"`
	Addr         string      `toml:"addr"`
	Secret       string      `toml:"secret"`
	Origins      []string    `toml:"origins"`
	SettingsPath string      `toml:"settings_path"`
	Driver       string      `toml:"driver"`
	TLSCertFile  string      `toml:"tls_cert_file"`
	TLSKeyFile   string      `toml:"tls_key_file"`
	Session      SessionFile `toml:"session"`
}

// AudioFile is the audioctl process config.
type AudioFile struct {
	URL           string      `toml:"url"`
	Secret        string      `toml:"secret"`
	FrameInterval string      `toml:"frame_interval"`
	SampleRate    uint32      `toml:"sample_rate"`
	Channels      uint8       `toml:"channels"`
	TLSCAFile     string      `toml:"tls_ca_file"`
	Session       SessionFile `toml:"session"`
}

// PiFile is the pictl process config.
type PiFile struct {
	URL       string      `toml:"url"`
	Secret    string      `toml:"secret"`
	PWMRange  uint16      `toml:"pwm_range"`
	TLSCAFile string      `toml:"tls_ca_file"`
	Session   SessionFile `toml:"session"`
}

// ValidateFile strictly decodes a process config of kind, rejecting
// unknown keys.
func ValidateFile(kind, path string) error {
	var target any
	switch normalizeKind(kind) {
	case KindServer:
		target = &ServerFile{}
	case KindAudio:
		target = &AudioFile{}
	case KindPi:
		target = &PiFile{}
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f).DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config %s has unknown keys:\n%s", path, strict.String())
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	var sf SessionFile
	switch v := target.(type) {
	case *ServerFile:
		if strings.TrimSpace(v.Addr) == "" {
			return fmt.Errorf("ledctl config missing addr")
		}
		if (v.TLSCertFile == "") != (v.TLSKeyFile == "") {
			return fmt.Errorf("ledctl config needs both tls_cert_file and tls_key_file")
		}
		sf = v.Session
	case *AudioFile:
		if strings.TrimSpace(v.URL) == "" {
			return fmt.Errorf("audioctl config missing url")
		}
		sf = v.Session
	case *PiFile:
		if strings.TrimSpace(v.URL) == "" {
			return fmt.Errorf("pictl config missing url")
		}
		sf = v.Session
	}
	_, err = sf.Apply(session.DefaultConfig())
	return err
}
