// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/Zorlin/laszoo/internal/errors"
	"github.com/Zorlin/laszoo/internal/ui"
)

// runGroup handles `laszoo group add|remove|list|rename`.
func runGroup(args []string, configPath string, globals GlobalFlags) {
	if len(args) == 0 {
		errors.FatalError(errors.NewConfigError(
			"Missing subcommand",
			"group needs one of: add, remove, list, rename",
			"Run: laszoo group add <group> [--host h]",
			nil,
		), globals.Quiet)
	}
	sub := args[0]

	fs := flag.NewFlagSet("group "+sub, flag.ExitOnError)
	hostFlag := fs.String("host", "", "Host to add or remove (default: this host)")
	_ = fs.Parse(args[1:])
	rest := fs.Args()

	a, err := newApp(configPath, globals)
	if err != nil {
		errors.FatalError(err, globals.Quiet)
	}
	if err := a.requireMount(); err != nil {
		errors.FatalError(err, globals.Quiet)
	}

	host := *hostFlag
	if host == "" {
		host = a.host
	}

	fail := func(err error) {
		errors.FatalError(errors.NewIOError(
			"Group operation failed",
			fmt.Sprintf("group %s could not complete", sub),
			"Check the shared tree is writable",
			err,
		), globals.Quiet)
	}

	switch sub {
	case "add":
		if len(rest) != 1 {
			errors.FatalError(errors.NewConfigError("Missing group name", "",
				"Run: laszoo group add <group> [--host h]", nil), globals.Quiet)
		}
		if err := a.roster.Add(rest[0], host); err != nil {
			fail(err)
		}
		if !globals.Quiet {
			fmt.Printf("%s %s -> %s\n", ui.Label("added:"), host, rest[0])
		}

	case "remove":
		if len(rest) != 1 {
			errors.FatalError(errors.NewConfigError("Missing group name", "",
				"Run: laszoo group remove <group> [--host h]", nil), globals.Quiet)
		}
		if err := a.roster.Remove(rest[0], host); err != nil {
			fail(err)
		}
		if !globals.Quiet {
			fmt.Printf("%s %s from %s\n", ui.Label("removed:"), host, rest[0])
		}

	case "list":
		if len(rest) == 0 {
			groups, err := a.roster.All()
			if err != nil {
				fail(err)
			}
			if globals.JSON {
				_ = json.NewEncoder(os.Stdout).Encode(map[string]any{"groups": groups})
				return
			}
			for _, g := range groups {
				fmt.Println(g)
			}
			return
		}
		members, err := a.roster.Members(rest[0])
		if err != nil {
			fail(err)
		}
		if globals.JSON {
			_ = json.NewEncoder(os.Stdout).Encode(map[string]any{"group": rest[0], "members": members})
			return
		}
		for _, m := range members {
			fmt.Println(m)
		}

	case "rename":
		if len(rest) != 2 {
			errors.FatalError(errors.NewConfigError("Missing group names", "",
				"Run: laszoo group rename <old> <new>", nil), globals.Quiet)
		}
		if err := renameGroup(a, rest[0], rest[1]); err != nil {
			fail(err)
		}
		if !globals.Quiet {
			fmt.Printf("%s %s -> %s\n", ui.Label("renamed:"), rest[0], rest[1])
		}

	default:
		errors.FatalError(errors.NewConfigError(
			"Unknown group subcommand",
			fmt.Sprintf("%q is not one of add, remove, list, rename", sub),
			"Run: laszoo group add|remove|list|rename",
			nil,
		), globals.Quiet)
	}
}

// renameGroup re-homes a group's roster, templates and manifest in one
// pass: the group directory moves wholesale, then every entry's group field
// is rewritten.
func renameGroup(a *app, oldName, newName string) error {
	if _, err := os.Lstat(a.layout.GroupDir(newName)); err == nil {
		return fmt.Errorf("group %q already exists", newName)
	}
	if err := a.roster.Rename(oldName, newName); err != nil {
		return err
	}
	if _, err := os.Lstat(a.layout.GroupDir(oldName)); err == nil {
		if err := os.Rename(a.layout.GroupDir(oldName), a.layout.GroupDir(newName)); err != nil {
			return fmt.Errorf("rename group dir: %w", err)
		}
	}
	gm, _, err := a.store.LoadGroup(newName)
	if err != nil {
		return err
	}
	for _, e := range gm.Entries {
		e.Group = newName
	}
	if len(gm.Entries) > 0 {
		if err := a.store.SaveGroup(newName, gm); err != nil {
			return err
		}
	}
	return nil
}
