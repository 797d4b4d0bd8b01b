// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/Zorlin/laszoo/internal/errors"
	"github.com/Zorlin/laszoo/internal/ui"
	"github.com/Zorlin/laszoo/pkg/fspath"
)

// runInit writes the host configuration and stamps the shared tree.
func runInit(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	mfsMount := fs.String("mfs-mount", "", "Shared filesystem mount point (required)")
	laszooDir := fs.String("laszoo-dir", "laszoo", "Tree directory under the mount")
	force := fs.Bool("force", false, "Overwrite an existing configuration")
	_ = fs.Parse(args)

	if *mfsMount == "" {
		errors.FatalError(errors.NewConfigError(
			"Missing --mfs-mount",
			"init needs the shared filesystem mount point",
			"Run: laszoo init --mfs-mount /mnt/shared",
			nil,
		), globals.Quiet)
	}

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			errors.FatalError(errors.NewConfigError(
				"Cannot determine home directory",
				"No explicit --config and no resolvable home directory",
				"Pass --config with an explicit path",
				err,
			), globals.Quiet)
		}
		configPath = filepath.Join(home, userConfigRel)
	}

	if _, err := os.Stat(configPath); err == nil && !*force {
		errors.FatalError(errors.NewConfigError(
			"Configuration already exists",
			fmt.Sprintf("%s is already present", configPath),
			"Re-run with --force to overwrite",
			nil,
		), globals.Quiet)
	}

	cfg := DefaultConfig(*mfsMount)
	cfg.LaszooDir = *laszooDir
	if err := SaveConfig(cfg, configPath); err != nil {
		errors.FatalError(err, globals.Quiet)
	}

	layout := fspath.New(cfg.Root())
	if err := layout.EnsureRoot(); err != nil {
		errors.FatalError(errors.NewMountError(
			"Cannot initialize shared tree",
			fmt.Sprintf("Failed preparing %s", cfg.Root()),
			"Check that the shared filesystem is mounted and writable",
			err,
		), globals.Quiet)
	}

	if !globals.Quiet {
		ui.Header("Laszoo Initialized")
		fmt.Printf("%s  %s\n", ui.Label("Config:"), configPath)
		fmt.Printf("%s    %s\n", ui.Label("Tree:"), cfg.Root())
		fmt.Println()
		fmt.Println("Next steps:")
		fmt.Println("  laszoo group add <group>")
		fmt.Println("  laszoo enroll <group> <path>")
	}
}
