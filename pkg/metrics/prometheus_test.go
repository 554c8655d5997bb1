package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordRun("csv", "ok", 0.4)
	r.RecordRun("csv", "ok", 0.2)
	r.RecordRun("csv", "error", 0.1)
	r.RecordRows("^NSEI", 3200)
	r.RecordFinalEquity("^NSEI", 101250.5)
	r.RecordError("regime_fit")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runsTotal.WithLabelValues("csv", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runsTotal.WithLabelValues("csv", "error")))
	assert.Equal(t, 3200.0, testutil.ToFloat64(r.rows.WithLabelValues("^NSEI")))
	assert.Equal(t, 101250.5, testutil.ToFloat64(r.finalEquity.WithLabelValues("^NSEI")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("regime_fit")))
}
