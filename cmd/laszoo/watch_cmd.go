// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/Zorlin/laszoo/internal/errors"
	"github.com/Zorlin/laszoo/pkg/manifest"
	"github.com/Zorlin/laszoo/pkg/watch"
)

// runWatch handles `laszoo watch [--auto] [--hard] [--metrics-addr]`.
func runWatch(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	auto := fs.Bool("auto", false, "Reconcile automatically (default: report only)")
	hard := fs.Bool("hard", false, "Run every entry as rollback (template always wins)")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9477)")
	_ = fs.Parse(args)

	a, err := newApp(configPath, globals)
	if err != nil {
		errors.FatalError(err, globals.Quiet)
	}
	if !a.cfg.Monitoring.Enabled {
		errors.FatalError(errors.NewConfigError(
			"Monitoring is disabled",
			"watch needs monitoring.enabled = true in the host configuration",
			"Enable the [monitoring] section in config.toml",
			nil,
		), globals.Quiet)
	}
	// The loop itself tolerates an unavailable mount (fail-closed), but a
	// wrong tree version is a config error worth stopping for.
	if a.layout.Available() {
		if err := a.layout.CheckVersion(); err != nil {
			errors.FatalError(errors.NewConfigError("Incompatible shared tree", err.Error(),
				"Upgrade laszoo on this host", nil), globals.Quiet)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.attachLog(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		a.logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			a.logger.Info("metrics.http.start", "addr", *metricsAddr, "path", "/metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Warn("metrics.http.error", "err", err)
			}
		}()
	}

	opts := watch.Options{
		Debounce:     time.Duration(a.cfg.Monitoring.DebounceMs) * time.Millisecond,
		PollInterval: time.Duration(a.cfg.Monitoring.PollInterval) * time.Second,
		ReportOnly:   !*auto,
	}
	if *hard {
		opts.ActionOverride = manifest.ActionRollback
		opts.ReportOnly = false
	}

	loop := watch.New(a.engine, a.roster, a.layout, a.host, a.logger, opts)
	a.logger.Info("watch.start", "root", a.layout.Root,
		"auto", *auto, "hard", *hard,
		"debounce", opts.Debounce, "poll_interval", opts.PollInterval)

	if err := loop.Run(ctx); err != nil && err != context.Canceled {
		errors.FatalError(errors.NewIOError(
			"Watch loop failed",
			"The reconciliation loop exited unexpectedly",
			"Check the log output above",
			err,
		), globals.Quiet)
	}
}
