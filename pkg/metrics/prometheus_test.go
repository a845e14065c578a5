package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordObservation("EVERY_SECOND", 154.2)
	r.RecordObservation("EVERY_SECOND", 154.3)
	r.RecordObservation("EVERY_5_SECONDS", 154.3)
	r.RecordError("export")
	r.RecordRunState("complete")
	r.RecordStepLateness(0.002)
	r.RecordLatency("run", 1.5)

	require.Equal(t, 2.0, testutil.ToFloat64(r.observations.WithLabelValues("EVERY_SECOND")))
	require.Equal(t, 154.3, testutil.ToFloat64(r.lastPrice))
	require.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("export")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.runStates.WithLabelValues("complete")))

	n, err := testutil.GatherAndCount(reg, "pricesim_step_lateness_seconds", "pricesim_operation_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
