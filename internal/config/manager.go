// Package config handles the persistent user configuration, the approval
// policy file and its hot reload.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the user's persistent preferences.
type Config struct {
	LLMProvider string `json:"llm_provider,omitempty"` // openai, anthropic, deepseek, ...
	APIKey      string `json:"api_key,omitempty"`
	Model       string `json:"model,omitempty"`
	BaseURL     string `json:"base_url,omitempty"` // optional API base URL override
	WorkDir     string `json:"work_dir,omitempty"` // default working directory for tools
}

// Manager loads and saves configuration under the user config dir.
type Manager struct {
	configDir string
}

// NewManager creates a configuration manager rooted at
// os.UserConfigDir()/kea.
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}
	return &Manager{configDir: filepath.Join(configDir, "kea")}, nil
}

// Dir returns the configuration directory.
func (m *Manager) Dir() string {
	return m.configDir
}

// ConfigPath returns the absolute path to config.json.
func (m *Manager) ConfigPath() string {
	return filepath.Join(m.configDir, "config.json")
}

// DBPath returns the absolute path of the event log database.
func (m *Manager) DBPath() string {
	return filepath.Join(m.configDir, "events.db")
}

// PolicyPath returns the absolute path of the approval policy file.
func (m *Manager) PolicyPath() string {
	return filepath.Join(m.configDir, "policy.json")
}

// Load reads the configuration. A missing file yields an empty Config.
func (m *Manager) Load() (*Config, error) {
	path := m.ConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config json: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration with owner-only permissions; the file may
// hold an API key.
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.ConfigPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Exists reports whether a configuration file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.ConfigPath())
	return !os.IsNotExist(err)
}
