// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/Zorlin/laszoo/internal/errors"
	"github.com/Zorlin/laszoo/pkg/manifest"
)

const (
	systemConfigPath = "/etc/laszoo/config.toml"
	userConfigRel    = ".config/laszoo/config.toml"
)

// Config is the per-host configuration file.
type Config struct {
	// MfsMount is the shared filesystem mount point. Required.
	MfsMount string `toml:"mfs_mount"`

	// LaszooDir is the tree directory under the mount. Default "laszoo".
	LaszooDir string `toml:"laszoo_dir"`

	// DefaultSyncStrategy is the action used when an enrollment does not
	// name one: auto (converge), converge, rollback, forward, freeze, drift.
	DefaultSyncStrategy string `toml:"default_sync_strategy"`

	// AutoCommit appends a version-log entry for every template mutation.
	AutoCommit bool `toml:"auto_commit"`

	// AnnotatorEndpoint is the optional commit-summary service base URL.
	AnnotatorEndpoint string `toml:"annotator_endpoint"`
	AnnotatorModel    string `toml:"annotator_model"`

	Monitoring MonitoringConfig `toml:"monitoring"`
	Logging    LoggingConfig    `toml:"logging"`

	// Variables are the host's template bindings, merged over the
	// built-ins (hostname, cpu_count, os, arch).
	Variables map[string]string `toml:"variables"`
}

// MonitoringConfig tunes the watch loop.
type MonitoringConfig struct {
	Enabled      bool `toml:"enabled"`
	DebounceMs   int  `toml:"debounce_ms"`
	PollInterval int  `toml:"poll_interval"` // seconds
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
}

// DefaultConfig returns the configuration `laszoo init` writes.
func DefaultConfig(mfsMount string) *Config {
	return &Config{
		MfsMount:            mfsMount,
		LaszooDir:           "laszoo",
		DefaultSyncStrategy: "auto",
		Monitoring: MonitoringConfig{
			Enabled:      true,
			DebounceMs:   500,
			PollInterval: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Root is the shared tree root: <mfs_mount>/<laszoo_dir>.
func (c *Config) Root() string {
	dir := c.LaszooDir
	if dir == "" {
		dir = "laszoo"
	}
	return filepath.Join(c.MfsMount, dir)
}

// Strategy maps the configured default strategy to a sync action; "auto"
// and empty both mean converge.
func (c *Config) Strategy() manifest.Action {
	switch c.DefaultSyncStrategy {
	case "", "auto":
		return manifest.ActionConverge
	default:
		return manifest.Action(c.DefaultSyncStrategy)
	}
}

// LoadConfig loads the host configuration. With an empty path the search
// order is LASZOO_CONFIG_PATH, ~/.config/laszoo/config.toml, then
// /etc/laszoo/config.toml. Environment variables override file values.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("LASZOO_CONFIG_PATH")
	}
	if configPath == "" {
		var err error
		configPath, err = findConfigFile()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.NewConfigError(
			"Cannot read configuration file",
			fmt.Sprintf("Failed to read %s", configPath),
			"Check file permissions, or run 'laszoo init --mfs-mount <path>' to create one",
			err,
		)
	}

	cfg := DefaultConfig("")
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.NewConfigError(
			"Invalid configuration format",
			"TOML parsing failed - the config file contains syntax errors",
			fmt.Sprintf("Edit %s to fix syntax errors, or re-run 'laszoo init'", configPath),
			err,
		)
	}

	cfg.applyEnvOverrides()

	if cfg.MfsMount == "" {
		return nil, errors.NewConfigError(
			"Missing mfs_mount",
			fmt.Sprintf("%s does not set mfs_mount", configPath),
			"Set mfs_mount to the shared filesystem mount point",
			nil,
		)
	}
	if a := cfg.Strategy(); !manifest.ValidAction(a) {
		return nil, errors.NewConfigError(
			"Invalid default_sync_strategy",
			fmt.Sprintf("%q is not a sync strategy", cfg.DefaultSyncStrategy),
			"Use one of: auto, converge, rollback, forward, freeze, drift",
			nil,
		)
	}
	return cfg, nil
}

// SaveConfig writes the configuration as TOML.
func SaveConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return errors.NewIOError(
			"Cannot create configuration directory",
			fmt.Sprintf("Failed creating %s", filepath.Dir(configPath)),
			"Check directory permissions or run with appropriate privileges",
			err,
		)
	}
	f, err := os.OpenFile(configPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.NewIOError(
			"Cannot write configuration file",
			fmt.Sprintf("Failed opening %s", configPath),
			"Check file permissions and ensure sufficient disk space",
			err,
		)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// findConfigFile picks the first existing config location.
func findConfigFile() (string, error) {
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, userConfigRel))
	}
	candidates = append(candidates, systemConfigPath)

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", errors.NewConfigError(
		"Configuration not found",
		"No config.toml in ~/.config/laszoo or /etc/laszoo",
		"Run 'laszoo init --mfs-mount <path>' to create one",
		nil,
	)
}

// applyEnvOverrides lets the environment win over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LASZOO_MFS_MOUNT"); v != "" {
		c.MfsMount = v
	}
	if v := os.Getenv("LASZOO_DIR"); v != "" {
		c.LaszooDir = v
	}
	if v := os.Getenv("LASZOO_SYNC_STRATEGY"); v != "" {
		c.DefaultSyncStrategy = v
	}
	if v := os.Getenv("LASZOO_ANNOTATOR_ENDPOINT"); v != "" {
		c.AnnotatorEndpoint = v
	}
	if v := os.Getenv("LASZOO_ANNOTATOR_MODEL"); v != "" {
		c.AnnotatorModel = v
	}
	if v := os.Getenv("LASZOO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LASZOO_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}
