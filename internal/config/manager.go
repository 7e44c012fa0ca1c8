package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bryanchriswhite/ScreenRelay/internal/logger"
	"gopkg.in/yaml.v3"
)

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns ~/.config/screenrelay/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "screenrelay", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when empty. A missing
// file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{configPath: path}
	log := logger.WithComponent("config")

	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		log.Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	log.Debug().
		Str("path", m.configPath).
		Str("socket_dir", m.config.Container.Dir()).
		Msg("Config loaded")

	return m, nil
}

// load reads the file over the defaults, so keys missing from an older
// file keep their default values
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// Save writes the current configuration to disk
func (m *Manager) Save() error {
	cfg := m.Get()
	log := logger.WithComponent("config")

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	log.Debug().Str("path", m.configPath).Msg("Config saved")
	return nil
}

// Update validates and replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	cfg := m.Get()
	cfg.LogLevel = level
	return m.Update(cfg)
}

// SetPort sets the host server port
func (m *Manager) SetPort(port int) error {
	cfg := m.Get()
	cfg.Host.ServerPort = port
	return m.Update(cfg)
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// document renders the config as a generic YAML tree keyed like the file
func (m *Manager) document() (map[string]interface{}, error) {
	data, err := yaml.Marshal(m.Get())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	doc := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return doc, nil
}

// GetValue looks up a dotted key such as "host.server_port"
func (m *Manager) GetValue(key string) (interface{}, error) {
	doc, err := m.document()
	if err != nil {
		return nil, err
	}

	var node interface{} = doc
	for _, part := range strings.Split(key, ".") {
		section, ok := node.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("configuration key not found: %s", key)
		}
		if node, ok = section[part]; !ok {
			return nil, fmt.Errorf("configuration key not found: %s", key)
		}
	}
	return node, nil
}

// SetValue sets a dotted key from its YAML text and saves. The value is
// decoded against the typed config, so "250ms", "9090" and "true" all land
// in the right field types.
func (m *Manager) SetValue(key, value string) error {
	doc, err := m.document()
	if err != nil {
		return err
	}

	parts := strings.Split(key, ".")
	section := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := section[part].(map[string]interface{})
		if !ok {
			return fmt.Errorf("configuration key not found: %s", key)
		}
		section = next
	}
	leaf := parts[len(parts)-1]
	if _, ok := section[leaf]; !ok {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	var parsed interface{}
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	section[leaf] = parsed

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	return m.Update(cfg)
}
