// Package metrics exposes the Prometheus instruments of the argus client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// TasksSubmitted counts tasks accepted by a pool
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_tasks_submitted_total",
			Help: "Total number of tasks submitted to the task pool",
		},
		[]string{"kind"}, // kind: oneshot, looping
	)

	// TasksFinished counts tasks reaching a terminal status
	TasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_tasks_finished_total",
			Help: "Total number of tasks that reached a terminal status",
		},
		[]string{"kind", "status"}, // status: completed, failed, cancelled
	)

	TasksAlive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argus_tasks_alive",
			Help: "Number of tracked tasks not yet complete",
		},
	)

	// QuotaChecks counts CheckQuota outcomes
	QuotaChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_quota_checks_total",
			Help: "Total number of quota checks by outcome",
		},
		[]string{"result"}, // result: sampled, unlimited, ok, warning, exceeded
	)

	// QuotaUsageRatio is the last observed size/quota ratio per library
	QuotaUsageRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_quota_usage_ratio",
			Help: "Last observed storage usage as a fraction of quota",
		},
		[]string{"library"},
	)

	// Connections counts client (re)creations by reason
	Connections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_connections_total",
			Help: "Total number of backing store connections created",
		},
		[]string{"reason"}, // reason: initial, fork, reset
	)

	// CatalogReads counts library listing reads against the catalog cache
	CatalogReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_catalog_reads_total",
			Help: "Total number of catalog cache reads by result",
		},
		[]string{"result"}, // result: hit, miss, stale, disabled
	)
)
