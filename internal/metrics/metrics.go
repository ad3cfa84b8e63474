// Package metrics exposes AniBridge's Prometheus counters and the /metrics
// handler, grounded on the collector style of the pack's autobrr-qui
// internal/metrics package but built on promauto registration rather than a
// custom Collector, since AniBridge's counters are simple event tallies
// rather than a poll-on-scrape snapshot of external state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anibridge_jobs_scheduled_total",
		Help: "Jobs scheduled by mode (download, strm).",
	}, []string{"mode"})

	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anibridge_jobs_completed_total",
		Help: "Jobs that reached a terminal status, by mode and status.",
	}, []string{"mode", "status"})

	JobDownloadedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anibridge_job_downloaded_bytes_total",
		Help: "Total bytes fetched across all completed download-mode jobs.",
	})

	RemuxBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anibridge_strm_remux_builds_total",
		Help: "STRM proxy HLS remux build attempts, by outcome (ready, failed).",
	}, []string{"outcome"})

	ResolverFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anibridge_provider_resolutions_total",
		Help: "Direct-URL resolutions attempted through the provider fallback chain, by outcome.",
	}, []string{"outcome"})
)

// Handler returns the HTTP handler for the /metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
