// Package metrics holds the process-wide Prometheus collectors shared by
// tilestore, viewshed and jobs: tile cache-tier hit rates, job throughput and
// duration, and viewshed ray counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TileFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilestore_fetch_total",
		Help: "Tile fetches by where they were served from.",
	}, []string{"result"})

	JobDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "job_duration_seconds",
		Help:    "Wall-clock duration of batch coverage jobs, whatever their terminal status.",
		Buckets: prometheus.DefBuckets,
	})

	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_total",
		Help: "Batch coverage jobs by terminal status.",
	}, []string{"status"})

	ViewshedRaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewshed_rays_total",
		Help: "Total viewshed rays swept across all jobs.",
	})
)
