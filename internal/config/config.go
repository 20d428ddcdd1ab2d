// Package config manages songsync configuration and the .songsync directory
// structure. It handles loading, saving, and initializing the library
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/songsync-app/songsync/internal/models"
)

const (
	SongsyncDir = ".songsync"
	ConfigFile  = "config"
	StateFile   = "state.db"   // bbolt conflict state
	LibraryFile = "library.db" // sqlite entity library
)

// Config represents the songsync configuration
type Config struct {
	RemoteURL   string `toml:"remote_url"`
	RemoteToken string `toml:"remote_token"`
	DeviceName  string `toml:"device_name"`
	AutoResolve string `toml:"auto_resolve"` // policy name, defaults to "never"
	HistoryCap  int    `toml:"history_cap"`  // resolved history bound, 0 means default
	path        string // path to .songsync directory
}

// FindRoot finds the .songsync directory by walking up from current directory
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		cfgPath := filepath.Join(dir, SongsyncDir)
		if info, err := os.Stat(cfgPath); err == nil && info.IsDir() {
			return cfgPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a songsync library (or any parent up to root)")
		}
		dir = parent
	}
}

// Load loads the configuration from the .songsync directory
func Load() (*Config, error) {
	root, err := FindRoot()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(root, ConfigFile)
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.path = root
	return &cfg, nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	configPath := filepath.Join(c.path, ConfigFile)
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0600)
}

// Path returns the path to the .songsync directory
func (c *Config) Path() string {
	return c.path
}

// StatePath returns the path to the bbolt conflict state database
func (c *Config) StatePath() string {
	return filepath.Join(c.path, StateFile)
}

// LibraryPath returns the path to the sqlite entity library
func (c *Config) LibraryPath() string {
	return filepath.Join(c.path, LibraryFile)
}

// Policy returns the configured auto-resolve policy, defaulting to never.
func (c *Config) Policy() models.AutoResolvePolicy {
	p := models.AutoResolvePolicy(c.AutoResolve)
	if !p.Valid() {
		return models.PolicyNever
	}
	return p
}

// Initialize creates a new .songsync directory with initial configuration
func Initialize(remoteURL, token, device string) (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	root := filepath.Join(cwd, SongsyncDir)

	// Check if already initialized
	if _, err := os.Stat(root); err == nil {
		return nil, fmt.Errorf("songsync library already exists")
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .songsync directory: %w", err)
	}

	if device == "" {
		device, _ = os.Hostname()
	}

	cfg := &Config{
		RemoteURL:   remoteURL,
		RemoteToken: token,
		DeviceName:  device,
		AutoResolve: string(models.PolicyNever),
		path:        root,
	}

	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(root)
		return nil, err
	}

	return cfg, nil
}
