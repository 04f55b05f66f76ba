package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestJobMetrics(t *testing.T) {
	before := testutil.ToFloat64(JobsFinishedTotal.WithLabelValues("failed", "stall_timeout"))
	JobsFinishedTotal.WithLabelValues("failed", "stall_timeout").Inc()
	assert.InDelta(t, before+1, testutil.ToFloat64(JobsFinishedTotal.WithLabelValues("failed", "stall_timeout")), 0.001)

	JobsInFlight.Set(0)
	JobsInFlight.Inc()
	JobsInFlight.Inc()
	JobsInFlight.Dec()
	assert.InDelta(t, 1.0, testutil.ToFloat64(JobsInFlight), 0.001)
	JobsInFlight.Set(0)
}

func TestSetAppInfo(t *testing.T) {
	SetAppInfo("1.0.0", "abc123", "go1.25")

	expected := `
# HELP convertarr_app_info Application information
# TYPE convertarr_app_info gauge
convertarr_app_info{commit="abc123",go_version="go1.25",version="1.0.0"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(AppInfo, strings.NewReader(expected)))
}

func TestMetricNames(t *testing.T) {
	ConversionDuration.WithLabelValues("mp4", "completed").Observe(12)
	assert.Positive(t, testutil.CollectAndCount(ConversionDuration))

	JobStallsTotal.WithLabelValues("requeued").Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(JobStallsTotal.WithLabelValues("requeued")), 1.0)
}
