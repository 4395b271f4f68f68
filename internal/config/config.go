// Package config handles Spyglass configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"spyglass/internal/sources"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./spyglass.yaml, ~/.config/spyglass/spyglass.yaml,
// /etc/spyglass/spyglass.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"spyglass.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "spyglass", "spyglass.yaml"))
	}

	paths = append(paths, "/etc/spyglass/spyglass.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Spyglass configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	LogLevel string         `yaml:"log_level"`
	Sources  []SourceConfig `yaml:"sources"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// SourceConfig describes how to launch one source's MCP server.
// Identity and display fields beyond Kind are opaque to the core.
type SourceConfig struct {
	Kind    sources.Kind `yaml:"kind"`
	Name    string       `yaml:"name"`
	Enabled bool         `yaml:"enabled"`
	// Command is the executable to run, resolved via PATH.
	Command string `yaml:"command"`
	// Args are command-line arguments passed in order.
	Args []string `yaml:"args"`
	// Env is overlaid on the inherited environment; the overlay wins
	// on key conflict. An empty value means the secret was never
	// filled in and the source counts as unconfigured.
	Env map[string]string `yaml:"env"`
}

// Configured reports whether the source can be launched. A missing
// command, missing args, or any empty env value leaves the record
// unarmed.
func (c SourceConfig) Configured() bool {
	if c.Command == "" || c.Args == nil {
		return false
	}
	for _, v := range c.Env {
		if v == "" {
			return false
		}
	}
	return true
}

// Source returns the config for a kind, if present.
func (c *Config) Source(kind sources.Kind) (SourceConfig, bool) {
	for _, sc := range c.Sources {
		if sc.Kind == kind {
			return sc, true
		}
	}
	return SourceConfig{}, false
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{
		Listen: ListenConfig{Port: 8917},
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	for _, sc := range cfg.Sources {
		if !sc.Kind.Valid() {
			return nil, fmt.Errorf("unknown source kind %q in %s", sc.Kind, path)
		}
	}

	return cfg, nil
}

// Default returns a default configuration with every known source
// present but disabled.
func Default() *Config {
	cfg := &Config{
		Listen: ListenConfig{Port: 8917},
	}
	for _, k := range sources.All() {
		cfg.Sources = append(cfg.Sources, SourceConfig{
			Kind: k,
			Name: k.DisplayName(),
		})
	}
	return cfg
}
