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
	"github.com/Zorlin/laszoo/pkg/engine"
	"github.com/Zorlin/laszoo/pkg/manifest"
)

type statusRow struct {
	Group  string `json:"group"`
	Path   string `json:"path"`
	Kind   string `json:"kind"`
	Action string `json:"action"`
	State  string `json:"state"`
}

// runStatus handles `laszoo status [--detailed]`. Freeze semantics are used
// for the probe: divergence is classified, nothing is written.
func runStatus(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	detailed := fs.Bool("detailed", false, "List every enrolled file with its state")
	_ = fs.Parse(args)

	a, err := newApp(configPath, globals)
	if err != nil {
		errors.FatalError(err, globals.Quiet)
	}
	if err := a.requireMount(); err != nil {
		errors.FatalError(err, globals.Quiet)
	}

	groups, err := a.roster.Groups(a.host)
	if err != nil {
		errors.FatalError(err, globals.Quiet)
	}

	ctx := context.Background()
	var rows []statusRow
	for _, g := range groups {
		entries, err := a.manager.EntriesFor(g)
		if err != nil {
			errors.FatalError(err, globals.Quiet)
		}
		for _, e := range entries {
			paths, err := a.manager.EntryFiles(g, e)
			if err != nil {
				errors.FatalError(err, globals.Quiet)
			}
			for _, p := range paths {
				res := a.engine.SyncPath(ctx, g, e, p, manifest.ActionFreeze)
				rows = append(rows, statusRow{
					Group: g, Path: p, Kind: string(e.Kind),
					Action: string(e.Action), State: string(res.State),
				})
			}
		}
	}

	if globals.JSON {
		_ = json.NewEncoder(os.Stdout).Encode(map[string]any{
			"host": a.host, "groups": groups, "files": rows,
		})
		return
	}

	ui.Header("Laszoo Status")
	fmt.Printf("%s   %s\n", ui.Label("Host:"), a.host)
	fmt.Printf("%s   %s\n", ui.Label("Tree:"), a.layout.Root)
	fmt.Printf("%s %s\n", ui.Label("Groups:"), ui.CountText(len(groups)))

	inSync, diverged := 0, 0
	for _, r := range rows {
		switch engine.State(r.State) {
		case engine.StateInSync:
			inSync++
		default:
			diverged++
		}
	}
	fmt.Printf("Files: %s in sync, %s needing attention\n", ui.CountText(inSync), ui.CountText(diverged))

	if *detailed {
		ui.SubHeader("Enrollments:")
		for _, r := range rows {
			line := fmt.Sprintf("  %-10s %-8s %-9s %s", r.Group, r.Kind, r.Action, r.Path)
			switch engine.State(r.State) {
			case engine.StateInSync:
				_, _ = ui.Green.Printf("%s (in sync)\n", line)
			case engine.StateDiverged:
				_, _ = ui.Yellow.Printf("%s (diverged)\n", line)
			default:
				_, _ = ui.Red.Printf("%s (%s)\n", line, r.State)
			}
		}
	}
}
