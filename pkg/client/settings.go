package client

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings stores CLI defaults persisted as YAML next to the binary.
type Settings struct {
	Server string `yaml:"server"`
	Name   string `yaml:"name,omitempty"`
	TLS    bool   `yaml:"tls"`
}

// DefaultSettings returns default settings.
func DefaultSettings() *Settings {
	return &Settings{
		Server: "localhost:46200",
		TLS:    true,
	}
}

// SettingsPath returns the settings file next to the executable.
func SettingsPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "parley-client.yaml"
	}
	return filepath.Join(filepath.Dir(exe), "parley-client.yaml")
}

// LoadSettings loads settings from path or returns defaults.
func LoadSettings(path string) *Settings {
	s := DefaultSettings()
	data, err := os.ReadFile(path) //nolint:gosec // path chosen by the user
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("read settings", "path", path, "err", err)
		}
		return s
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		slog.Error("parse settings", "err", err)
		return DefaultSettings()
	}
	return s
}

// Save writes settings to path as YAML.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
