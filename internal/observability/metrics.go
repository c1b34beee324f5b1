// Package observability holds cross-cutting Prometheus metrics for the
// sync API.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	uploadsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "packsync",
		Subsystem: "api",
		Name:      "uploads_total",
		Help:      "Number of device uploads applied.",
	})
	conflictsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "packsync",
		Subsystem: "api",
		Name:      "upload_conflicts_total",
		Help:      "Number of records skipped because the server copy was newer.",
	})
	lastUploadGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "packsync",
		Subsystem: "api",
		Name:      "last_upload_timestamp_seconds",
		Help:      "Unix timestamp of the most recent upload applied.",
	})
)

func init() {
	prometheus.MustRegister(uploadsCounter, conflictsCounter, lastUploadGauge)
}

// RecordUpload updates the upload counters and watermark gauge.
func RecordUpload(ts time.Time, conflicts int) {
	uploadsCounter.Inc()
	if conflicts > 0 {
		conflictsCounter.Add(float64(conflicts))
	}
	if !ts.IsZero() {
		lastUploadGauge.Set(float64(ts.Unix()))
	}
}
