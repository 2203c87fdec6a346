// Package metrics exposes prometheus counters for the session core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionOps counts lifecycle operations by op (create/complete/delete) and result.
	SessionOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classattend_session_ops_total",
		Help: "Session lifecycle operations by op and result.",
	}, []string{"op", "result"})

	// JobsFired counts scheduled jobs executed by kind (preload/cleanup) and result.
	JobsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classattend_scheduled_jobs_fired_total",
		Help: "Scheduled preload/cleanup jobs executed by kind and result.",
	}, []string{"kind", "result"})

	// CacheSyncOps counts cache-sync operations by op and result.
	CacheSyncOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classattend_cache_sync_total",
		Help: "Recognition cache sync operations by op and result.",
	}, []string{"op", "result"})

	// QueuePublishFailures counts failed enqueue attempts. Cache staleness is
	// self-healing, so these surface only here and in logs.
	QueuePublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classattend_queue_publish_failures_total",
		Help: "Failed attempts to publish cache-sync work.",
	})
)
