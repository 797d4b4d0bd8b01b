// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui centralizes terminal color output for the CLI.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Shared color printers. Disabled wholesale by InitColors.
var (
	Green  = color.New(color.FgGreen)
	Yellow = color.New(color.FgYellow)
	Red    = color.New(color.FgRed)
	Bold   = color.New(color.Bold)
	Dim    = color.New(color.Faint)
)

// InitColors decides whether color output is active: an explicit --no-color,
// the NO_COLOR convention, or a non-TTY stdout all disable it.
func InitColors(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
		return
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// Header prints a bold section header.
func Header(s string) {
	fmt.Println()
	_, _ = Bold.Println(s)
}

// SubHeader prints a secondary section header.
func SubHeader(s string) {
	fmt.Println()
	_, _ = Bold.Println(s)
}

// Label renders a field label.
func Label(s string) string {
	return Bold.Sprint(s)
}

// DimText renders de-emphasized detail text.
func DimText(s string) string {
	return Dim.Sprint(s)
}

// CountText renders a count prominently.
func CountText(n int) string {
	return Bold.Sprintf("%d", n)
}
