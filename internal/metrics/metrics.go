// Package metrics holds the prometheus instruments shared by the cache and
// admission paths. Everything registers on the default registry; the server
// exposes it on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nearbuy",
		Subsystem: "cache",
		Name:      "reads_total",
		Help:      "Cache reads by key prefix and outcome (hit, miss, negative_hit, stale_hit).",
	}, []string{"prefix", "outcome"})

	CacheRebuildFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nearbuy",
		Subsystem: "cache",
		Name:      "rebuild_failures_total",
		Help:      "Asynchronous cache rebuilds that failed; the stale entry stays in place.",
	}, []string{"prefix"})

	CacheRebuildShed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nearbuy",
		Subsystem: "cache",
		Name:      "rebuild_shed_total",
		Help:      "Asynchronous cache rebuilds skipped because the worker pool was saturated.",
	}, []string{"prefix"})

	AdmissionResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nearbuy",
		Subsystem: "seckill",
		Name:      "admissions_total",
		Help:      "Flash-sale admission outcomes (accepted, out_of_stock, duplicate).",
	}, []string{"result"})

	OrdersPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nearbuy",
		Subsystem: "seckill",
		Name:      "orders_persisted_total",
		Help:      "Reservations drained from the order stream into MySQL.",
	})

	OrdersParked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nearbuy",
		Subsystem: "seckill",
		Name:      "orders_parked_total",
		Help:      "Reservations moved to the dead-letter stream after exhausting persist retries.",
	})
)
