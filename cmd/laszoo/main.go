// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main implements the laszoo CLI: serverless configuration
// management coordinated through a shared filesystem.
//
// Usage:
//
//	laszoo init --mfs-mount <path>   Create the host config and shared tree
//	laszoo enroll <group> <path...>  Manage files through a group template
//	laszoo apply <group>             Render templates to the local filesystem
//	laszoo sync                      Reconcile local files and templates
//	laszoo watch                     Run the reconciliation loop
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/Zorlin/laszoo/internal/errors"
	"github.com/Zorlin/laszoo/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags holds the global CLI flags that apply to all commands.
type GlobalFlags struct {
	JSON    bool
	NoColor bool
	Verbose int
	Quiet   bool
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to config.toml (default: ~/.config/laszoo or /etc/laszoo)")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output")
	)

	// Stop parsing at the first non-flag argument so subcommand flags like
	// "enroll --machine" reach the subcommand handlers.
	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Laszoo - serverless configuration management over a shared filesystem

Hosts that point at the same shared tree form a cluster: no broker, no
election, no discovery. Enrolled files are mirrored as templates; edits
flow between hosts according to each enrollment's sync action.

Usage:
  laszoo <command> [options]

Commands:
  init      Create the host configuration and shared tree
  enroll    Enroll files or directories into a group
  unenroll  Remove files from management (local files are kept)
  apply     Render templates and write local files
  sync      Reconcile local files against templates
  status    Show enrollment and divergence state
  watch     Run the watcher/scanner reconciliation loop
  group     Manage group membership (add|remove|list|rename)
  commit    Record pending template changes in the version log

Global Options:
  --json            Output in JSON format (for applicable commands)
  --no-color        Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity (-v for info, -vv for debug)
  -q, --quiet       Suppress non-essential output
  -c, --config      Path to config.toml
  -V, --version     Show version and exit

Examples:
  laszoo init --mfs-mount /mnt/shared
  laszoo group add web
  laszoo enroll web /etc/nginx/nginx.conf
  laszoo apply web
  laszoo sync --group web --dry-run
  laszoo watch --auto

Exit Codes:
  0  success
  1  user error
  2  shared mount unavailable
  3  convergence failed
  4  I/O error

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("laszoo version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	if *quiet && *verbose > 0 {
		fmt.Fprintf(os.Stderr, "Error: cannot use --quiet and --verbose together\n")
		os.Exit(errors.ExitUserError)
	}
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		JSON:    *jsonOutput,
		NoColor: *noColor,
		Verbose: *verbose,
		Quiet:   *quiet,
	}
	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(errors.ExitUserError)
	}
	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "init":
		runInit(cmdArgs, *configPath, globals)
	case "enroll":
		runEnroll(cmdArgs, *configPath, globals)
	case "unenroll":
		runUnenroll(cmdArgs, *configPath, globals)
	case "apply":
		runApply(cmdArgs, *configPath, globals)
	case "sync":
		runSync(cmdArgs, *configPath, globals)
	case "status":
		runStatus(cmdArgs, *configPath, globals)
	case "watch":
		runWatch(cmdArgs, *configPath, globals)
	case "group":
		runGroup(cmdArgs, *configPath, globals)
	case "commit":
		runCommit(cmdArgs, *configPath, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(errors.ExitUserError)
	}
}
