// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/Zorlin/laszoo/internal/errors"
	"github.com/Zorlin/laszoo/internal/ui"
	"github.com/Zorlin/laszoo/pkg/enroll"
)

// runApply handles `laszoo apply <group> [path...]`.
func runApply(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 1 {
		errors.FatalError(errors.NewConfigError(
			"Missing group",
			"apply needs a group name",
			"Run: laszoo apply <group> [path...]",
			nil,
		), globals.Quiet)
	}
	groupName := rest[0]
	filter := rest[1:]

	a, err := newApp(configPath, globals)
	if err != nil {
		errors.FatalError(err, globals.Quiet)
	}
	if err := a.requireMount(); err != nil {
		errors.FatalError(err, globals.Quiet)
	}

	progressCfg := NewProgressConfig(globals)
	bar := NewProgressBar(progressCfg, 0, "applying")
	progress := func(current, total int, path string) {
		if bar == nil && total > 0 {
			bar = NewProgressBar(progressCfg, int64(total), "applying")
		}
		if bar != nil {
			_ = bar.Set(current)
		}
	}

	results, err := a.manager.Apply(context.Background(), groupName, filter, progress)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		errors.FatalError(errors.NewIOError(
			"Apply failed",
			fmt.Sprintf("Could not apply group %s", groupName),
			"Check the shared tree and local filesystem",
			err,
		), globals.Quiet)
	}

	reportApply(groupName, results, globals)
}

func reportApply(groupName string, results []enroll.ApplyResult, globals GlobalFlags) {
	changed, failed := 0, 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		} else if r.Changed {
			changed++
		}
	}

	if globals.JSON {
		type row struct {
			Path    string `json:"path"`
			Changed bool   `json:"changed"`
			Error   string `json:"error,omitempty"`
		}
		rows := make([]row, 0, len(results))
		for _, r := range results {
			jr := row{Path: r.Path, Changed: r.Changed}
			if r.Err != nil {
				jr.Error = r.Err.Error()
			}
			rows = append(rows, jr)
		}
		_ = json.NewEncoder(os.Stdout).Encode(map[string]any{
			"group": groupName, "applied": len(results), "changed": changed, "failed": failed, "files": rows,
		})
	} else if !globals.Quiet {
		ui.Header("Apply Complete")
		fmt.Printf("%s %s\n", ui.Label("Group:"), groupName)
		fmt.Printf("Files: %s, changed: %s\n", ui.CountText(len(results)), ui.CountText(changed))
		for _, r := range results {
			if r.Err != nil {
				_, _ = ui.Red.Printf("  failed %s: %v\n", r.Path, r.Err)
			}
		}
	}

	if failed > 0 {
		os.Exit(errors.ExitIOError)
	}
}
