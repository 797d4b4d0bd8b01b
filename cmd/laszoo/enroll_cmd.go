// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/Zorlin/laszoo/internal/errors"
	"github.com/Zorlin/laszoo/internal/ui"
	"github.com/Zorlin/laszoo/pkg/manifest"
)

// runEnroll handles `laszoo enroll <group> <path...>`.
func runEnroll(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("enroll", flag.ExitOnError)
	machine := fs.Bool("machine", false, "Enroll with a per-host template")
	hybrid := fs.Bool("hybrid", false, "Enroll sharing a group template with per-host regions")
	action := fs.String("action", "", "Sync action for this enrollment (default: configured strategy)")
	before := fs.String("before", "", "Shell command run before each apply")
	after := fs.String("after", "", "Shell command run after each apply")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 2 {
		errors.FatalError(errors.NewConfigError(
			"Missing arguments",
			"enroll needs a group and at least one path",
			"Run: laszoo enroll <group> <path...>",
			nil,
		), globals.Quiet)
	}
	if *machine && *hybrid {
		errors.FatalError(errors.NewConfigError(
			"Conflicting flags",
			"--machine and --hybrid are mutually exclusive",
			"Pick one enrollment kind",
			nil,
		), globals.Quiet)
	}

	a, err := newApp(configPath, globals)
	if err != nil {
		errors.FatalError(err, globals.Quiet)
	}
	if err := a.requireMount(); err != nil {
		errors.FatalError(err, globals.Quiet)
	}

	kind := manifest.KindGroup
	if *machine {
		kind = manifest.KindMachine
	}
	if *hybrid {
		kind = manifest.KindHybrid
	}
	act := a.cfg.Strategy()
	if *action != "" {
		act = manifest.Action(*action)
	}

	groupName := rest[0]
	ctx := context.Background()
	a.attachLog(ctx)

	for _, path := range rest[1:] {
		res, err := a.manager.Enroll(groupName, path, kind, act, *before, *after)
		if err != nil {
			errors.FatalError(errors.NewIOError(
				"Enrollment failed",
				fmt.Sprintf("Could not enroll %s into %s", path, groupName),
				"Check the path exists and the shared tree is writable",
				err,
			), globals.Quiet)
		}

		// Group-kind divergence is reconciled by the entry's own action.
		for _, p := range res.Divergent {
			gm, _, err := a.store.LoadGroup(groupName)
			if err != nil {
				errors.FatalError(err, globals.Quiet)
			}
			entry := gm.Find(p)
			if entry == nil {
				entry = gm.CoveringDirectory(p)
			}
			if entry == nil {
				continue
			}
			r := a.engine.SyncPath(ctx, groupName, entry, p, "")
			if r.Err != nil {
				_, _ = ui.Yellow.Printf("divergent %s: %v\n", p, r.Err)
			}
		}

		if !globals.Quiet {
			fmt.Printf("%s %s -> %s (%s, %s)\n", ui.Label("enrolled:"), path, groupName, kind, act)
			if len(res.Seeded) > 0 {
				fmt.Printf("  seeded %s template(s)\n", ui.CountText(len(res.Seeded)))
			}
			if len(res.Adopted) > 0 {
				fmt.Printf("  adopted %s existing template(s)\n", ui.CountText(len(res.Adopted)))
			}
		}
	}
}

// runUnenroll handles `laszoo unenroll <group> <path...>`.
func runUnenroll(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("unenroll", flag.ExitOnError)
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 2 {
		errors.FatalError(errors.NewConfigError(
			"Missing arguments",
			"unenroll needs a group and at least one path",
			"Run: laszoo unenroll <group> <path...>",
			nil,
		), globals.Quiet)
	}

	a, err := newApp(configPath, globals)
	if err != nil {
		errors.FatalError(err, globals.Quiet)
	}
	if err := a.requireMount(); err != nil {
		errors.FatalError(err, globals.Quiet)
	}

	groupName := rest[0]
	for _, path := range rest[1:] {
		if err := a.manager.Unenroll(groupName, path); err != nil {
			errors.FatalError(errors.NewIOError(
				"Unenrollment failed",
				fmt.Sprintf("Could not unenroll %s from %s", path, groupName),
				"Check the enrollment exists (laszoo status)",
				err,
			), globals.Quiet)
		}
		if !globals.Quiet {
			fmt.Printf("%s %s (local file kept)\n", ui.Label("unenrolled:"), path)
		}
	}
}
