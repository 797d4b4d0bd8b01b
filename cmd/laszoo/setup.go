// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Zorlin/laszoo/internal/errors"
	"github.com/Zorlin/laszoo/pkg/engine"
	"github.com/Zorlin/laszoo/pkg/enroll"
	"github.com/Zorlin/laszoo/pkg/fspath"
	"github.com/Zorlin/laszoo/pkg/group"
	"github.com/Zorlin/laszoo/pkg/history"
	"github.com/Zorlin/laszoo/pkg/manifest"
)

// app is the wired object graph every command runs against: one layout, one
// store, one enrollment manager, one engine per process. Registries are
// explicit long-lived objects, never package state.
type app struct {
	cfg     *Config
	logger  *slog.Logger
	host    string
	layout  fspath.Layout
	store   *manifest.Store
	roster  *group.Roster
	manager *enroll.Manager
	engine  *engine.Engine
}

// newApp loads the configuration and wires the components.
func newApp(configPath string, globals GlobalFlags) (*app, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, globals)
	slog.SetDefault(logger)

	host, err := os.Hostname()
	if err != nil || host == "" {
		return nil, errors.NewConfigError(
			"Cannot determine hostname",
			"The host identity is the hostname; it must be stable and non-empty",
			"Fix the system hostname and retry",
			err,
		)
	}

	layout := fspath.New(cfg.Root())
	store := manifest.NewStore(layout, logger)
	mgr := &enroll.Manager{
		Layout: layout,
		Store:  store,
		Host:   host,
		Vars:   cfg.Variables,
		Logger: logger,
	}
	eng := &engine.Engine{
		Layout:  layout,
		Store:   store,
		Manager: mgr,
		Host:    host,
		Vars:    cfg.Variables,
		Logger:  logger,
	}
	return &app{
		cfg:     cfg,
		logger:  logger,
		host:    host,
		layout:  layout,
		store:   store,
		roster:  group.NewRoster(layout, store, logger),
		manager: mgr,
		engine:  eng,
	}, nil
}

// requireMount verifies the shared root is reachable and speaks a
// compatible tree format. Commands that touch shared state call this first.
func (a *app) requireMount() error {
	if !a.layout.Available() {
		return errors.NewMountError(
			"Shared mount unavailable",
			fmt.Sprintf("Cannot read %s", a.layout.Root),
			"Check that the shared filesystem is mounted and readable",
			nil,
		)
	}
	if err := a.layout.CheckVersion(); err != nil {
		return errors.NewConfigError("Incompatible shared tree", err.Error(),
			"Upgrade laszoo on this host", nil)
	}
	return nil
}

// attachLog wires the version log into the engine when auto-commit is on.
// Log setup failures downgrade to a warning: the log is best-effort.
func (a *app) attachLog(ctx context.Context) {
	if !a.cfg.AutoCommit {
		return
	}
	log, err := history.Open(ctx, a.layout.Root, a.host,
		history.NewAnnotator(a.cfg.AnnotatorEndpoint, a.cfg.AnnotatorModel), a.logger)
	if err != nil {
		a.logger.Warn("history.open.failed", "err", err)
		return
	}
	a.engine.Log = log
}

// openLog opens the version log for the commit command regardless of
// auto_commit.
func (a *app) openLog(ctx context.Context) (*history.Log, error) {
	return history.Open(ctx, a.layout.Root, a.host,
		history.NewAnnotator(a.cfg.AnnotatorEndpoint, a.cfg.AnnotatorModel), a.logger)
}

// newLogger builds the slog logger from config plus verbosity flags.
func newLogger(cfg *Config, globals GlobalFlags) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if globals.Verbose == 1 && level > slog.LevelInfo {
		level = slog.LevelInfo
	}
	if globals.Verbose >= 2 {
		level = slog.LevelDebug
	}
	if globals.Quiet && level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
