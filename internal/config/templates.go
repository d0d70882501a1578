package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindServer = "ledctl"
	KindAudio  = "audioctl"
	KindPi     = "pictl"
)

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

func Template(kind string) (string, error) {
	switch normalizeKind(kind) {
	case KindServer:
		return serverTemplate, nil
	case KindAudio:
		return audioTemplate, nil
	case KindPi:
		return piTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serverTemplate = `name = "ledctl"
addr = ":8080"
secret = "change-me"
origins = []
settings_path = "ledctl.settings.toml"
driver = "pi"
# tls_cert_file = "/etc/ledctl/server.crt"
# tls_key_file = "/etc/ledctl/server.key"

[session]
handshake_timeout = "5s"
call_timeout = "10s"
read_timeout = "15s"
write_timeout = "5s"
heartbeat_interval = "5s"
max_frame_bytes = 1048576
send_queue = 256
`

const audioTemplate = `url = "ws://127.0.0.1:8080/ws"
secret = "change-me"
# tls_ca_file = "/etc/ledctl/ca.crt"
frame_interval = "50ms"
sample_rate = 44100
channels = 1

[session]
backoff_initial = "250ms"
backoff_max = "5s"
backoff_multiplier = 2.0
backoff_jitter = true
`

const piTemplate = `url = "ws://127.0.0.1:8080/ws"
secret = "change-me"
# tls_ca_file = "/etc/ledctl/ca.crt"
pwm_range = 1023

[session]
backoff_initial = "250ms"
backoff_max = "5s"
`
