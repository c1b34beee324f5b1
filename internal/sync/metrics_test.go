package sync

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	counter, err := vec.GetMetricWithLabelValues(labels...)
	require.NoError(t, err)
	var metric dto.Metric
	require.NoError(t, counter.Write(&metric))
	return metric.GetCounter().GetValue()
}

func TestRecordSyncCountsOutcomes(t *testing.T) {
	successBefore := counterValue(t, syncCounter, "upload", "success")
	failureBefore := counterValue(t, syncCounter, "upload", "failure")

	recordSync("upload", time.Now(), Result{Success: true, ActivitiesSynced: 2})
	recordSync("upload", time.Now(), failure("boom"))

	require.Equal(t, successBefore+1, counterValue(t, syncCounter, "upload", "success"))
	require.Equal(t, failureBefore+1, counterValue(t, syncCounter, "upload", "failure"))
}

func TestRecordSyncCountsEntitiesOnSuccessOnly(t *testing.T) {
	before := counterValue(t, entitiesSynced, "download", "activity")

	recordSync("download", time.Now(), Result{Success: true, ActivitiesSynced: 3})
	recordSync("download", time.Now(), Result{Success: false, ActivitiesSynced: 9})

	require.Equal(t, before+3, counterValue(t, entitiesSynced, "download", "activity"))
}
