package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// Color is one stored RGB value.
type Color struct {
	R uint8 `toml:"r"`
	G uint8 `toml:"g"`
	B uint8 `toml:"b"`
}

// Settings is the lighting state restored on start.
type Settings struct {
	Mode       string  `toml:"mode"`
	Color      Color   `toml:"color"`
	Brightness float32 `toml:"brightness"`
	Label      string  `toml:"label,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{Mode: "manual", Color: Color{R: 255, G: 160, B: 64}, Brightness: 1}
}

func ValidateSettings(s Settings) error {
	if s.Brightness < 0 || s.Brightness > 1 {
		return fmt.Errorf("settings brightness out of range: %v", s.Brightness)
	}
	return nil
}

// SettingsStore persists Settings to one TOML file.
type SettingsStore struct {
	path string
	mu   sync.Mutex
}

func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path}
}

func (s *SettingsStore) Path() string { return s.path }

// Load returns the stored settings, or the defaults when the file does not
// exist yet.
func (s *SettingsStore) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("settings load failed (%s): %w", s.path, err)
	}
	out := DefaultSettings()
	if err := toml.Unmarshal(data, &out); err != nil {
		return Settings{}, fmt.Errorf("settings parse failed (%s): %w", s.path, err)
	}
	if err := ValidateSettings(out); err != nil {
		return Settings{}, err
	}
	return out, nil
}

// Save replaces the file atomically.
func (s *SettingsStore) Save(v Settings) error {
	if err := ValidateSettings(v); err != nil {
		return err
	}
	data, err := toml.Marshal(v)
	if err != nil {
		return fmt.Errorf("settings encode: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".settings-*.toml")
	if err != nil {
		return fmt.Errorf("settings save failed (%s): %w", s.path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("settings save failed (%s): %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings save failed (%s): %w", s.path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("settings save failed (%s): %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("settings save failed (%s): %w", s.path, err)
	}
	return nil
}
