// Package observability exposes Prometheus metrics for the sync pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stridecoach",
		Subsystem: "wearable_sync",
		Name:      "invocations_total",
		Help:      "Sync invocations by terminal outcome.",
	}, []string{"outcome"})
	tierHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stridecoach",
		Subsystem: "wearable_sync",
		Name:      "tier_hits_total",
		Help:      "Fallback-chain tier that produced records, per dataset.",
	}, []string{"dataset", "tier"})
	cursorGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stridecoach",
		Subsystem: "wearable_sync",
		Name:      "last_cursor_timestamp_seconds",
		Help:      "Unix timestamp of the most recently advanced sync cursor.",
	})
)

func init() {
	prometheus.MustRegister(syncTotal, tierHits, cursorGauge)
}

// RecordSyncOutcome counts one finished invocation.
func RecordSyncOutcome(outcome string) {
	syncTotal.WithLabelValues(outcome).Inc()
}

// RecordTierHit counts which tier satisfied a dataset fetch.
func RecordTierHit(dataset, tier string) {
	tierHits.WithLabelValues(dataset, tier).Inc()
}

// RecordCursor updates the cursor watermark gauge.
func RecordCursor(ts time.Time) {
	if ts.IsZero() {
		return
	}
	cursorGauge.Set(float64(ts.Unix()))
}
