// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errors carries the CLI-facing error shape: what went wrong, why,
// and what the operator can do about it, plus the process exit code.
package errors

import (
	"fmt"
	"os"
)

// Exit codes of the laszoo binary.
const (
	ExitOK          = 0
	ExitUserError   = 1
	ExitMountError  = 2
	ExitConvergence = 3
	ExitIOError     = 4
)

// UserError is an operator-facing failure with remediation advice.
type UserError struct {
	Title      string
	Detail     string
	Suggestion string
	Code       int
	Err        error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Title, e.Err)
	}
	return e.Title
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewConfigError reports a configuration problem (exit 1).
func NewConfigError(title, detail, suggestion string, err error) *UserError {
	return &UserError{Title: title, Detail: detail, Suggestion: suggestion, Code: ExitUserError, Err: err}
}

// NewMountError reports an unavailable shared mount (exit 2).
func NewMountError(title, detail, suggestion string, err error) *UserError {
	return &UserError{Title: title, Detail: detail, Suggestion: suggestion, Code: ExitMountError, Err: err}
}

// NewConvergenceError reports entries left divergent (exit 3).
func NewConvergenceError(title, detail, suggestion string, err error) *UserError {
	return &UserError{Title: title, Detail: detail, Suggestion: suggestion, Code: ExitConvergence, Err: err}
}

// NewIOError reports a filesystem failure (exit 4).
func NewIOError(title, detail, suggestion string, err error) *UserError {
	return &UserError{Title: title, Detail: detail, Suggestion: suggestion, Code: ExitIOError, Err: err}
}

// FatalError prints a UserError (or any error) and exits with its code.
func FatalError(err error, quiet bool) {
	code := ExitUserError
	if ue, ok := err.(*UserError); ok {
		code = ue.Code
		if !quiet {
			fmt.Fprintf(os.Stderr, "Error: %s\n", ue.Title)
			if ue.Detail != "" {
				fmt.Fprintf(os.Stderr, "  %s\n", ue.Detail)
			}
			if ue.Err != nil {
				fmt.Fprintf(os.Stderr, "  cause: %v\n", ue.Err)
			}
			if ue.Suggestion != "" {
				fmt.Fprintf(os.Stderr, "  hint: %s\n", ue.Suggestion)
			}
		}
		os.Exit(code)
	}
	if !quiet {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}
