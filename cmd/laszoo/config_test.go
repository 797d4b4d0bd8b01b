// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Zorlin/laszoo/pkg/manifest"
)

func TestConfig_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := DefaultConfig("/mnt/shared")
	cfg.Variables = map[string]string{"role": "edge"}
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.MfsMount != "/mnt/shared" {
		t.Errorf("MfsMount = %q", got.MfsMount)
	}
	if got.LaszooDir != "laszoo" {
		t.Errorf("LaszooDir = %q", got.LaszooDir)
	}
	if got.Monitoring.DebounceMs != 500 || got.Monitoring.PollInterval != 2 {
		t.Errorf("monitoring defaults lost: %+v", got.Monitoring)
	}
	if got.Variables["role"] != "edge" {
		t.Errorf("variables lost: %v", got.Variables)
	}
}

func TestConfig_RootAndStrategy(t *testing.T) {
	cfg := &Config{MfsMount: "/mnt/shared", LaszooDir: "laszoo"}
	if cfg.Root() != "/mnt/shared/laszoo" {
		t.Errorf("Root = %q", cfg.Root())
	}

	cfg.LaszooDir = ""
	if cfg.Root() != "/mnt/shared/laszoo" {
		t.Errorf("empty laszoo_dir must default: %q", cfg.Root())
	}

	if cfg.Strategy() != manifest.ActionConverge {
		t.Errorf("empty strategy must mean converge, got %q", cfg.Strategy())
	}
	cfg.DefaultSyncStrategy = "auto"
	if cfg.Strategy() != manifest.ActionConverge {
		t.Errorf("auto must mean converge, got %q", cfg.Strategy())
	}
	cfg.DefaultSyncStrategy = "freeze"
	if cfg.Strategy() != manifest.ActionFreeze {
		t.Errorf("Strategy = %q", cfg.Strategy())
	}
}

func TestConfig_MissingMountRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("laszoo_dir = \"laszoo\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("config without mfs_mount must be rejected")
	}
}

func TestConfig_InvalidStrategyRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "mfs_mount = \"/mnt/s\"\ndefault_sync_strategy = \"yolo\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("unknown strategy must be rejected")
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("mfs_mount = \"/mnt/file\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LASZOO_MFS_MOUNT", "/mnt/env")
	t.Setenv("LASZOO_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MfsMount != "/mnt/env" {
		t.Errorf("env override lost: %q", cfg.MfsMount)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level override lost: %q", cfg.Logging.Level)
	}
}

func TestConfig_BadTomlRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("mfs_mount = [broken\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("syntax error must be rejected")
	}
}
