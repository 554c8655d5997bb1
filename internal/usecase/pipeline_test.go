package usecase

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NiftyQuant/internal/domain/models"
	domrepo "NiftyQuant/internal/domain/repository"
	"NiftyQuant/internal/repository"
	"NiftyQuant/internal/services/analytics"
	"NiftyQuant/internal/services/features"
	"NiftyQuant/internal/services/strategy"
)

type staticSource struct {
	series []models.PricePoint
	err    error
	calls  int
}

func (s *staticSource) Name() string { return "static" }

func (s *staticSource) LoadSeries(context.Context, string) ([]models.PricePoint, error) {
	s.calls++
	return s.series, s.err
}

type recordingEvents struct {
	mu   sync.Mutex
	runs []string
	err  error
}

func (e *recordingEvents) PublishRunCompleted(_ context.Context, r *models.PipelineResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs = append(e.runs, r.RunID)
	return e.err
}

func (e *recordingEvents) Close() error { return nil }

type countingMetrics struct {
	mu     sync.Mutex
	runs   map[string]int
	errors map[string]int
	stages map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{runs: map[string]int{}, errors: map[string]int{}, stages: map[string]int{}}
}

func (m *countingMetrics) RecordRun(_, status string, _ float64) {
	m.mu.Lock()
	m.runs[status]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordStage(stage string, _ float64) {
	m.mu.Lock()
	m.stages[stage]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordRows(string, int)            {}
func (m *countingMetrics) RecordFinalEquity(string, float64) {}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

// syntheticSeries is a seeded random walk with a calm half and a volatile half.
func syntheticSeries(n int) []models.PricePoint {
	rng := rand.New(rand.NewSource(7))
	start := time.Date(2024, 10, 1, 3, 45, 0, 0, time.UTC)
	out := make([]models.PricePoint, n)
	price := 25000.0
	for i := range out {
		sigma := 0.001
		if i >= n/2 {
			sigma = 0.006
		}
		price *= 1 + rng.NormFloat64()*sigma
		out[i] = models.PricePoint{
			Timestamp: start.Add(time.Duration(i) * 5 * time.Minute),
			Open:      price, High: price * 1.001, Low: price * 0.999, Close: price,
			Volume: int64(1000 + i),
		}
	}
	return out
}

type fixture struct {
	uc      *PipelineUseCase
	source  *staticSource
	results *repository.MemoryResultStore
	models  *repository.MemoryModelStore
	events  *recordingEvents
	metrics *countingMetrics
}

func newFixture(t *testing.T, n int, mutate func(*PipelineConfig)) *fixture {
	t.Helper()
	cfg := PipelineConfig{
		Symbol:           "^NSEI",
		InitialCapital:   100000,
		NStates:          3,
		OutlierThreshold: 2,
		ModelKey:         "test:model",
		Features:         features.DefaultParams(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{
		source:  &staticSource{series: syntheticSeries(n)},
		results: repository.NewMemoryResultStore(),
		models:  repository.NewMemoryModelStore(),
		events:  &recordingEvents{},
		metrics: newCountingMetrics(),
	}
	f.uc = NewPipelineUseCase(cfg, f.source,
		features.NewEngine(features.WithParams(cfg.Features)),
		analytics.NewDetector(),
		strategy.NewSimulator(),
		f.results, f.models, f.events, f.metrics,
	)
	return f
}

func TestPipelineRun(t *testing.T) {
	f := newFixture(t, 300, nil)
	res, err := f.uc.Run(context.Background(), RunParams{})
	require.NoError(t, err)

	_, err = uuid.Parse(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "^NSEI", res.Symbol)
	assert.Equal(t, 20, res.WarmupDropped)
	require.Len(t, res.Rows, 280)
	assert.Equal(t, 280, res.Metrics.Rows)
	assert.Equal(t, 100000.0, res.Metrics.InitialCapital)

	// one trimmed row set shared by features, regimes and simulation
	for i, r := range res.Rows {
		assert.True(t, models.IsDefined(r.Volatility), "row %d volatility", i)
		assert.True(t, models.IsDefined(r.Momentum), "row %d momentum", i)
		assert.True(t, models.IsDefined(r.BandUpper), "row %d band", i)
		assert.True(t, r.Regime >= 0 && r.Regime < 3, "row %d regime %d", i, r.Regime)
	}
	assert.Equal(t, 0, res.Rows[0].Position)

	require.NotNil(t, res.Regime)
	assert.Len(t, res.Regime.States, 3)
	assert.False(t, res.Regime.Reused)

	stored, err := f.uc.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.RunID, stored.RunID)
	assert.Equal(t, []string{res.RunID}, f.events.runs)

	data, err := f.models.LoadModel(context.Background(), "test:model")
	require.NoError(t, err)
	assert.Contains(t, string(data), res.Regime.Checksum)

	assert.Equal(t, 1, f.metrics.runs["ok"])
	for _, stage := range []string{"load", "features", "regimes", "simulate", "store"} {
		assert.Equal(t, 1, f.metrics.stages[stage], stage)
	}
}

func TestPipelineRunIsDeterministic(t *testing.T) {
	a, err := newFixture(t, 300, nil).uc.Run(context.Background(), RunParams{})
	require.NoError(t, err)
	b, err := newFixture(t, 300, nil).uc.Run(context.Background(), RunParams{})
	require.NoError(t, err)

	assert.Equal(t, a.Regime.Checksum, b.Regime.Checksum)
	assert.Equal(t, a.Metrics, b.Metrics)
	for i := range a.Rows {
		assert.Equal(t, a.Rows[i].Regime, b.Rows[i].Regime)
		assert.Equal(t, a.Rows[i].Equity, b.Rows[i].Equity)
	}
}

func TestPipelineReusesStoredModel(t *testing.T) {
	f := newFixture(t, 300, nil)
	first, err := f.uc.Run(context.Background(), RunParams{})
	require.NoError(t, err)

	second, err := f.uc.Run(context.Background(), RunParams{ReuseModel: true})
	require.NoError(t, err)
	require.NotNil(t, second.Regime)
	assert.True(t, second.Regime.Reused)
	assert.Equal(t, first.Regime.Checksum, second.Regime.Checksum)
	assert.NotEqual(t, first.RunID, second.RunID)

	// a different state count cannot reuse the stored model
	third, err := f.uc.Run(context.Background(), RunParams{ReuseModel: true, NStates: 2})
	require.NoError(t, err)
	assert.False(t, third.Regime.Reused)
	assert.Len(t, third.Regime.States, 2)
}

func TestPipelineCapitalOverride(t *testing.T) {
	f := newFixture(t, 300, nil)
	res, err := f.uc.Run(context.Background(), RunParams{Capital: 50000})
	require.NoError(t, err)
	assert.Equal(t, 50000.0, res.Metrics.InitialCapital)

	_, err = f.uc.Run(context.Background(), RunParams{Capital: -1})
	var cfgErr *models.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, 1, f.metrics.errors["configuration"])
}

func TestPipelineRegimeFitFailure(t *testing.T) {
	// 23 rows leave 3 after the warmup trim, fewer than the 8 requested states
	f := newFixture(t, 23, nil)
	_, err := f.uc.Run(context.Background(), RunParams{NStates: 8})
	var fitErr *models.RegimeFitError
	require.True(t, errors.As(err, &fitErr), "got %v", err)
	assert.Equal(t, 1, f.metrics.runs["error"])
	assert.Empty(t, f.events.runs)

	_, err = f.uc.Latest(context.Background())
	assert.ErrorIs(t, err, domrepo.ErrNotFound)
}

func TestPipelineRegimeFallbackIsOptIn(t *testing.T) {
	f := newFixture(t, 23, nil)
	res, err := f.uc.Run(context.Background(), RunParams{NStates: 8, RegimeFallback: true, FallbackRegime: 0})
	require.NoError(t, err)
	assert.Nil(t, res.Regime)
	for _, r := range res.Rows {
		assert.Equal(t, 0, r.Regime)
	}
	assert.Equal(t, 1, f.metrics.errors["regime_fallback"])
}

func TestPipelineInsufficientHistory(t *testing.T) {
	f := newFixture(t, 21, nil)
	_, err := f.uc.Run(context.Background(), RunParams{})
	var histErr *models.InsufficientHistoryError
	require.True(t, errors.As(err, &histErr))
	assert.Equal(t, 21, histErr.Have)
}

func TestPipelineSourceError(t *testing.T) {
	f := newFixture(t, 300, nil)
	f.source.err = errors.New("upstream down")
	_, err := f.uc.Run(context.Background(), RunParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load series")
	assert.Equal(t, "internal", ErrorKind(err))
}

func TestPipelinePublishFailureDoesNotFailRun(t *testing.T) {
	f := newFixture(t, 300, nil)
	f.events.err = errors.New("broker down")
	res, err := f.uc.Run(context.Background(), RunParams{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, f.metrics.errors["publish"])
}

func TestPipelineCurrent(t *testing.T) {
	manual := newFixture(t, 300, nil)
	_, err := manual.uc.Current(context.Background())
	assert.ErrorIs(t, err, domrepo.ErrNotFound)
	assert.Equal(t, 0, manual.source.calls)

	auto := newFixture(t, 300, func(c *PipelineConfig) { c.AutoRefresh = true })
	res, err := auto.uc.Current(context.Background())
	require.NoError(t, err)
	again, err := auto.uc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.RunID, again.RunID)
	assert.Equal(t, 1, auto.source.calls)
}

func TestPipelineCurrentRunsOnceUnderConcurrency(t *testing.T) {
	f := newFixture(t, 300, func(c *PipelineConfig) { c.AutoRefresh = true })

	var wg sync.WaitGroup
	ids := make([]string, 4)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.uc.Current(context.Background())
			if assert.NoError(t, err) {
				ids[i] = res.RunID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.source.calls)
	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
}

func TestPipelineAnomalies(t *testing.T) {
	f := newFixture(t, 300, func(c *PipelineConfig) { c.AutoRefresh = true })
	res, all, err := f.uc.Anomalies(context.Background(), 2, 0)
	require.NoError(t, err)
	for _, a := range all {
		assert.Greater(t, math.Abs(a.ZScore), 2.0)
		assert.Equal(t, res.Rows[a.Index].Timestamp, a.Timestamp)
	}

	_, strict, err := f.uc.Anomalies(context.Background(), 3, 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(strict), len(all))

	if len(all) > 1 {
		_, capped, err := f.uc.Anomalies(context.Background(), 2, 1)
		require.NoError(t, err)
		require.Len(t, capped, 1)
		assert.Equal(t, all[len(all)-1], capped[0])
	}
}

func TestTailRows(t *testing.T) {
	rows := make([]models.SimulationRow, 5)
	for i := range rows {
		rows[i].Equity = float64(i)
	}
	assert.Len(t, TailRows(rows, 0), 5)
	assert.Len(t, TailRows(rows, 10), 5)
	tail := TailRows(rows, 2)
	require.Len(t, tail, 2)
	assert.Equal(t, 3.0, tail[0].Equity)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "configuration", ErrorKind(models.NewConfigurationError("x", "bad")))
	assert.Equal(t, "insufficient_history", ErrorKind(&models.InsufficientHistoryError{}))
	assert.Equal(t, "regime_fit", ErrorKind(&models.RegimeFitError{Reason: "x"}))
	assert.Equal(t, "data_integrity", ErrorKind(&models.DataIntegrityError{Index: -1}))
	assert.Equal(t, "timeout", ErrorKind(context.DeadlineExceeded))
	assert.Equal(t, "internal", ErrorKind(errors.New("x")))
}
