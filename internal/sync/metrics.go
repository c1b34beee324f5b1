package sync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "packsync",
		Subsystem: "sync",
		Name:      "operations_total",
		Help:      "Number of sync operations grouped by direction and outcome.",
	}, []string{"direction", "outcome"})

	syncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "packsync",
		Subsystem: "sync",
		Name:      "operation_duration_seconds",
		Help:      "Latency of sync operations per direction.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"direction"})

	entitiesSynced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "packsync",
		Subsystem: "sync",
		Name:      "entities_synced_total",
		Help:      "Number of entities moved through sync per direction and entity type.",
	}, []string{"direction", "entity"})

	lastSyncGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "packsync",
		Subsystem: "sync",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful sync.",
	})
)

func init() {
	prometheus.MustRegister(syncCounter, syncDuration, entitiesSynced, lastSyncGauge)
}

func recordSync(direction string, start time.Time, result Result) {
	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	syncCounter.WithLabelValues(direction, outcome).Inc()
	syncDuration.WithLabelValues(direction).Observe(time.Since(start).Seconds())
	if result.Success {
		entitiesSynced.WithLabelValues(direction, "activity").Add(float64(result.ActivitiesSynced))
		entitiesSynced.WithLabelValues(direction, "item").Add(float64(result.ItemsSynced))
		entitiesSynced.WithLabelValues(direction, "history").Add(float64(result.HistoryEntriesSynced))
		lastSyncGauge.Set(float64(time.Now().Unix()))
	}
}
