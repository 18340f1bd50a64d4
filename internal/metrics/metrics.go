// Package metrics registers the Prometheus metrics used by the offline agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchesTotal counts intercepted requests labelled by how they were
	// answered ("cache", "network", "fallback", "passthrough", "error").
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_agent_fetches_total",
			Help: "Total number of requests seen by the offline agent.",
		},
		[]string{"source"},
	)

	// CacheWritesTotal counts background cache writes by outcome ("ok", "error").
	CacheWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_agent_cache_writes_total",
			Help: "Total number of responses written to the cache store.",
		},
		[]string{"status"},
	)

	// LifecycleTotal counts lifecycle transitions by phase and outcome.
	LifecycleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_agent_lifecycle_total",
			Help: "Total number of install and activate transitions.",
		},
		[]string{"phase", "status"},
	)

	// StoresDeletedTotal counts stale cache generations removed on activation.
	StoresDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_agent_stores_deleted_total",
			Help: "Total number of stale cache stores deleted.",
		},
	)

	// NotificationEventsTotal counts notification stub events by kind
	// ("sync", "push", "click").
	NotificationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_agent_notification_events_total",
			Help: "Total number of sync, push and notification click events.",
		},
		[]string{"event"},
	)
)
