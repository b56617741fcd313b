package config

import (
	"fmt"
	"sync"
)

// Override adjusts a freshly loaded configuration before validation.
// Command-line flags are registered as overrides so that a hot reload of
// the file does not silently drop them.
type Override func(*Config)

// The live configuration. Load installs it at startup, the file watcher
// replaces it through ReloadConfig, and readers take it with GetConfig.
var (
	liveMu        sync.RWMutex
	live          *Config
	liveOverrides []Override
)

// Load reads the file at path with environment overrides, applies
// overrides, validates the result and installs it as the live
// configuration. The overrides are kept and reapplied by ReloadConfig.
// On error the live configuration is left untouched.
func Load(path string, overrides ...Override) (*Config, error) {
	cfg, err := loadWithOverrides(path, overrides)
	if err != nil {
		return nil, err
	}

	liveMu.Lock()
	live = cfg
	liveOverrides = overrides
	liveMu.Unlock()

	return cfg, nil
}

// GetConfig returns the live configuration, or nil before Load or
// SetConfig. Callers must treat the returned value as read-only; a reload
// swaps in a new instance rather than mutating it.
func GetConfig() *Config {
	liveMu.RLock()
	defer liveMu.RUnlock()
	return live
}

// SetConfig installs cfg as the live configuration without reading a file
// and clears any registered overrides.
func SetConfig(cfg *Config) {
	liveMu.Lock()
	defer liveMu.Unlock()
	live = cfg
	liveOverrides = nil
}

// ReloadConfig re-reads path, reapplies the overrides registered by Load
// and swaps the result in. It returns the configuration it installed.
// A file that fails to load or validate keeps the previous configuration.
func ReloadConfig(path string) (*Config, error) {
	liveMu.RLock()
	overrides := liveOverrides
	liveMu.RUnlock()

	cfg, err := loadWithOverrides(path, overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to reload configuration: %w", err)
	}

	liveMu.Lock()
	live = cfg
	liveMu.Unlock()

	return cfg, nil
}
