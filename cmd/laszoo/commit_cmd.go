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
)

// runCommit handles `laszoo commit [--all] [--message m]`.
func runCommit(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("commit", flag.ExitOnError)
	all := fs.Bool("all", false, "Stage every pending change under the shared tree")
	message := fs.StringP("message", "m", "", "Commit message (default: annotator or generated summary)")
	_ = fs.Parse(args)

	a, err := newApp(configPath, globals)
	if err != nil {
		errors.FatalError(err, globals.Quiet)
	}
	if err := a.requireMount(); err != nil {
		errors.FatalError(err, globals.Quiet)
	}

	ctx := context.Background()
	log, err := a.openLog(ctx)
	if err != nil {
		errors.FatalError(errors.NewIOError(
			"Cannot open version log",
			fmt.Sprintf("Failed opening the log under %s", a.layout.Root),
			"Check that git is installed and the shared tree is writable",
			err,
		), globals.Quiet)
	}

	if err := log.Commit(ctx, *message, *all); err != nil {
		errors.FatalError(errors.NewIOError(
			"Commit failed",
			"The version log rejected the commit",
			"Check 'laszoo status' and the shared tree",
			err,
		), globals.Quiet)
	}
	if !globals.Quiet {
		fmt.Printf("%s version log updated\n", ui.Label("committed:"))
	}
}
