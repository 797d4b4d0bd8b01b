// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package watch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "laszoo_syncs_total",
		Help: "Reconciliations dispatched by the watch loop, by action and outcome.",
	}, []string{"action", "outcome"})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "laszoo_events_total",
		Help: "Events produced by the watcher and scanner, by source.",
	}, []string{"source"})

	eventsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "laszoo_events_discarded_total",
		Help: "Events dropped by echo suppression.",
	})

	scanErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "laszoo_scan_errors_total",
		Help: "Remote scan ticks that hit I/O errors.",
	})

	mountAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "laszoo_mount_available",
		Help: "Whether the shared root was reachable at the last probe.",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "laszoo_queue_depth",
		Help: "Events waiting in the reconciliation queue.",
	})
)
