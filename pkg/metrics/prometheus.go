package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	stageTime   *prometheus.HistogramVec
	rows        *prometheus.GaugeVec
	finalEquity *prometheus.GaugeVec
	errorsTotal *prometheus.CounterVec
}

// New creates a pipeline metrics recorder registered on reg, or the default registry when nil.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "niftyquant_pipeline_runs_total",
				Help: "Total number of pipeline runs by source and outcome",
			},
			[]string{"source", "status"},
		),
		runDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "niftyquant_pipeline_run_duration_seconds",
				Help:    "End-to-end pipeline run duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"source"},
		),
		stageTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "niftyquant_pipeline_stage_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		rows: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "niftyquant_pipeline_rows",
				Help: "Rows in the latest processed series",
			},
			[]string{"symbol"},
		),
		finalEquity: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "niftyquant_backtest_final_equity",
				Help: "Final equity of the latest simulated run",
			},
			[]string{"symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "niftyquant_errors_total",
				Help: "Total number of errors encountered by kind",
			},
			[]string{"type"},
		),
	}
}

// RecordRun records one pipeline run.
func (r *Recorder) RecordRun(source, status string, seconds float64) {
	r.runsTotal.WithLabelValues(source, status).Inc()
	r.runDuration.WithLabelValues(source).Observe(seconds)
}

// RecordStage records the duration of one stage (load, features, regimes, simulate, persist).
func (r *Recorder) RecordStage(stage string, seconds float64) {
	r.stageTime.WithLabelValues(stage).Observe(seconds)
}

// RecordRows records the processed row count.
func (r *Recorder) RecordRows(symbol string, n int) {
	r.rows.WithLabelValues(symbol).Set(float64(n))
}

// RecordFinalEquity records the simulated final equity.
func (r *Recorder) RecordFinalEquity(symbol string, equity float64) {
	r.finalEquity.WithLabelValues(symbol).Set(equity)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
