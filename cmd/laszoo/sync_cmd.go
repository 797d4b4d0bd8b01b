// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	clierrors "github.com/Zorlin/laszoo/internal/errors"
	"github.com/Zorlin/laszoo/internal/ui"
	"github.com/Zorlin/laszoo/pkg/engine"
	"github.com/Zorlin/laszoo/pkg/manifest"
)

// runSync handles `laszoo sync [--group g] [--strategy s] [--dry-run]`.
func runSync(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	groupFlag := fs.String("group", "", "Restrict to one group (default: every group this host is in)")
	strategy := fs.String("strategy", "", "Override every entry's sync action for this run")
	dryRun := fs.Bool("dry-run", false, "Report planned actions without writing")
	_ = fs.Parse(args)

	if *strategy != "" && !manifest.ValidAction(manifest.Action(*strategy)) {
		clierrors.FatalError(clierrors.NewConfigError(
			"Invalid strategy",
			fmt.Sprintf("%q is not a sync action", *strategy),
			"Use one of: converge, rollback, forward, freeze, drift",
			nil,
		), globals.Quiet)
	}

	a, err := newApp(configPath, globals)
	if err != nil {
		clierrors.FatalError(err, globals.Quiet)
	}
	if err := a.requireMount(); err != nil {
		clierrors.FatalError(err, globals.Quiet)
	}

	ctx := context.Background()
	a.attachLog(ctx)
	a.engine.DryRun = *dryRun

	groups := []string{*groupFlag}
	if *groupFlag == "" {
		groups, err = a.roster.Groups(a.host)
		if err != nil {
			clierrors.FatalError(err, globals.Quiet)
		}
	}

	var all []engine.Result
	for _, g := range groups {
		results, err := a.engine.SyncGroup(ctx, g, manifest.Action(*strategy))
		if err != nil {
			if errors.Is(err, engine.ErrMountUnavailable) {
				clierrors.FatalError(clierrors.NewMountError(
					"Shared mount unavailable",
					"Reconciliation refused while the shared tree is unreachable",
					"Restore the mount and re-run",
					err,
				), globals.Quiet)
			}
			clierrors.FatalError(err, globals.Quiet)
		}
		all = append(all, results...)
	}

	reportSync(all, *dryRun, globals)
}

func reportSync(results []engine.Result, dryRun bool, globals GlobalFlags) {
	diverged, failed := 0, 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			if errors.Is(r.Err, engine.ErrRetryExhausted) {
				diverged++
			}
		}
	}

	if globals.JSON {
		type row struct {
			Path          string `json:"path"`
			Action        string `json:"action"`
			State         string `json:"state"`
			WroteLocal    bool   `json:"wrote_local"`
			WroteTemplate bool   `json:"wrote_template"`
			Error         string `json:"error,omitempty"`
		}
		rows := make([]row, 0, len(results))
		for _, r := range results {
			jr := row{
				Path: r.Path, Action: string(r.Action), State: string(r.State),
				WroteLocal: r.WroteLocal, WroteTemplate: r.WroteTemplate,
			}
			if r.Err != nil {
				jr.Error = r.Err.Error()
			}
			rows = append(rows, jr)
		}
		_ = json.NewEncoder(os.Stdout).Encode(map[string]any{
			"dry_run": dryRun, "entries": rows, "failed": failed,
		})
	} else if !globals.Quiet {
		verb := "synced"
		if dryRun {
			verb = "would sync"
		}
		for _, r := range results {
			switch {
			case r.Err != nil:
				_, _ = ui.Red.Printf("  %s %s (%s): %v\n", verb, r.Path, r.Action, r.Err)
			case r.WroteLocal || r.WroteTemplate:
				fmt.Printf("  %s %s (%s) local=%v template=%v\n", verb, r.Path, r.Action, r.WroteLocal, r.WroteTemplate)
			case r.State == engine.StateDiverged:
				_, _ = ui.Yellow.Printf("  diverged %s (%s)\n", r.Path, r.Action)
			}
		}
		fmt.Printf("%s entries, %s failed\n", ui.CountText(len(results)), ui.CountText(failed))
	}

	if diverged > 0 {
		os.Exit(clierrors.ExitConvergence)
	}
	if failed > 0 {
		os.Exit(clierrors.ExitIOError)
	}
}
