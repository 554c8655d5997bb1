package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"NiftyQuant/internal/domain/models"
	domrepo "NiftyQuant/internal/domain/repository"
	domsvc "NiftyQuant/internal/domain/service"
	"NiftyQuant/internal/services/features"
	applogger "NiftyQuant/pkg/logger"
)

// PipelineConfig holds the defaults applied to every run.
type PipelineConfig struct {
	Symbol           string
	InitialCapital   float64
	NStates          int
	OutlierThreshold float64
	ReuseModel       bool
	RegimeFallback   bool
	FallbackRegime   int
	ModelKey         string
	AutoRefresh      bool
	RunTimeout       time.Duration
	Features         features.Params
}

// RunParams overrides PipelineConfig for one run. Zero values keep the configured default.
type RunParams struct {
	Capital    float64
	NStates    int
	ReuseModel bool
	// RegimeFallback labels every row with FallbackRegime when the regime fit fails
	// instead of failing the run.
	RegimeFallback bool
	FallbackRegime int
}

// PipelineUseCase sequences source -> features -> regimes -> simulation and keeps the latest result.
type PipelineUseCase struct {
	cfg      PipelineConfig
	source   domrepo.SeriesSource
	engine   domsvc.FeatureEngine
	detector domsvc.RegimeDetector
	sim      domsvc.StrategySimulator
	results  domrepo.ResultStore
	models   domrepo.ModelStore
	events   domrepo.EventPublisher
	metrics  domrepo.Metrics
	l        *applogger.Logger

	mu     sync.Mutex // one recompute at a time
	latest atomic.Pointer[models.PipelineResult]
	now    func() time.Time
}

func NewPipelineUseCase(
	cfg PipelineConfig,
	source domrepo.SeriesSource,
	engine domsvc.FeatureEngine,
	detector domsvc.RegimeDetector,
	sim domsvc.StrategySimulator,
	results domrepo.ResultStore,
	modelStore domrepo.ModelStore,
	events domrepo.EventPublisher,
	metrics domrepo.Metrics,
) *PipelineUseCase {
	return &PipelineUseCase{
		cfg:      cfg,
		source:   source,
		engine:   engine,
		detector: detector,
		sim:      sim,
		results:  results,
		models:   modelStore,
		events:   events,
		metrics:  metrics,
		l:        applogger.Nop(),
		now:      time.Now,
	}
}

// SetLogger injects a structured logger.
func (uc *PipelineUseCase) SetLogger(l *applogger.Logger) {
	if l != nil {
		uc.l = l
	}
}

// Symbol returns the configured instrument.
func (uc *PipelineUseCase) Symbol() string { return uc.cfg.Symbol }

func (uc *PipelineUseCase) resolve(p RunParams) RunParams {
	if p.Capital == 0 {
		p.Capital = uc.cfg.InitialCapital
	}
	if p.NStates == 0 {
		p.NStates = uc.cfg.NStates
	}
	p.ReuseModel = p.ReuseModel || uc.cfg.ReuseModel
	if !p.RegimeFallback && uc.cfg.RegimeFallback {
		p.RegimeFallback = true
		p.FallbackRegime = uc.cfg.FallbackRegime
	}
	return p
}

// Run recomputes the full pipeline, stores the result and announces it.
// Concurrent calls are serialised; readers of Latest are not blocked.
func (uc *PipelineUseCase) Run(ctx context.Context, p RunParams) (*models.PipelineResult, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.runLocked(ctx, p)
}

func (uc *PipelineUseCase) runLocked(ctx context.Context, p RunParams) (*models.PipelineResult, error) {
	if uc.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.cfg.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := uc.run(ctx, uc.resolve(p))
	status := "ok"
	if err != nil {
		status = "error"
		uc.metrics.RecordError(ErrorKind(err))
		uc.l.Error("pipeline run failed",
			applogger.String("symbol", uc.cfg.Symbol),
			applogger.String("source", uc.source.Name()),
			applogger.Error(err),
		)
	}
	uc.metrics.RecordRun(uc.source.Name(), status, time.Since(start).Seconds())
	return res, err
}

func (uc *PipelineUseCase) run(ctx context.Context, p RunParams) (*models.PipelineResult, error) {
	symbol := uc.cfg.Symbol

	t := time.Now()
	series, err := uc.source.LoadSeries(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load series: %w", err)
	}
	uc.metrics.RecordStage("load", time.Since(t).Seconds())

	t = time.Now()
	rows, err := uc.engine.Compute(series)
	if err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}
	trimmed, dropped := features.TrimWarmup(rows, uc.cfg.Features)
	if len(trimmed) < 2 {
		return nil, &models.InsufficientHistoryError{Op: "pipeline", Need: uc.cfg.Features.Warmup() + 2, Have: len(rows)}
	}
	uc.metrics.RecordStage("features", time.Since(t).Seconds())

	t = time.Now()
	labelled, summary, err := uc.regimes(ctx, trimmed, p)
	if err != nil {
		return nil, err
	}
	uc.metrics.RecordStage("regimes", time.Since(t).Seconds())

	t = time.Now()
	bt, err := uc.sim.RunWithRegimes(labelled, p.Capital)
	if err != nil {
		return nil, fmt.Errorf("simulate: %w", err)
	}
	uc.metrics.RecordStage("simulate", time.Since(t).Seconds())

	res := &models.PipelineResult{
		RunID:         uuid.NewString(),
		Symbol:        symbol,
		CreatedAt:     uc.now().UTC(),
		Rows:          bt.Rows,
		Metrics:       bt.Metrics,
		Regime:        summary,
		Anomalies:     features.Outliers(trimmed, uc.cfg.OutlierThreshold),
		WarmupDropped: dropped,
	}

	t = time.Now()
	if err := uc.results.SaveRun(ctx, res); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	uc.metrics.RecordStage("store", time.Since(t).Seconds())
	uc.latest.Store(res)

	// the run is stored; a lost announcement is logged, not fatal
	if err := uc.events.PublishRunCompleted(ctx, res); err != nil {
		uc.metrics.RecordError("publish")
		uc.l.Error("publish run completed failed",
			applogger.String("run_id", res.RunID),
			applogger.Error(err),
		)
	}

	uc.metrics.RecordRows(symbol, len(res.Rows))
	uc.metrics.RecordFinalEquity(symbol, res.Metrics.FinalEquity)
	uc.l.Info("pipeline run completed",
		applogger.String("run_id", res.RunID),
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(res.Rows)),
		applogger.Int("warmup_dropped", dropped),
		applogger.Float("final_equity", res.Metrics.FinalEquity),
		applogger.Int("num_trades", res.Metrics.NumTrades),
		applogger.Int("anomalies", len(res.Anomalies)),
	)
	return res, nil
}

// regimes labels rows with a reused model when asked and available, otherwise with a fresh fit.
func (uc *PipelineUseCase) regimes(ctx context.Context, rows []models.FeatureRow, p RunParams) ([]models.RegimeRow, *models.RegimeSummary, error) {
	if p.ReuseModel {
		labelled, summary, ok := uc.reuse(ctx, rows, p.NStates)
		if ok {
			return labelled, summary, nil
		}
	}

	model, labelled, err := uc.detector.FitRegimes(rows, p.NStates)
	if err != nil {
		if !p.RegimeFallback {
			return nil, nil, fmt.Errorf("regimes: %w", err)
		}
		uc.metrics.RecordError("regime_fallback")
		uc.l.Warn("regime fit failed, labelling rows with fallback regime",
			applogger.Int("fallback_regime", p.FallbackRegime),
			applogger.Error(err),
		)
		return fallbackLabels(rows, p.FallbackRegime), nil, nil
	}

	uc.saveModel(ctx, model)
	s := model.Summary()
	return labelled, &s, nil
}

func (uc *PipelineUseCase) reuse(ctx context.Context, rows []models.FeatureRow, nStates int) ([]models.RegimeRow, *models.RegimeSummary, bool) {
	data, err := uc.models.LoadModel(ctx, uc.cfg.ModelKey)
	if err != nil {
		if !errors.Is(err, domrepo.ErrNotFound) {
			uc.l.Warn("load regime model failed, refitting", applogger.Error(err))
		}
		return nil, nil, false
	}
	model, err := uc.detector.RestoreModel(data)
	if err != nil {
		uc.l.Warn("stored regime model rejected, refitting", applogger.Error(err))
		return nil, nil, false
	}
	s := model.Summary()
	if len(s.States) != nStates {
		uc.l.Info("stored regime model has a different state count, refitting",
			applogger.Int("stored", len(s.States)),
			applogger.Int("requested", nStates),
		)
		return nil, nil, false
	}
	labelled, err := model.Predict(rows)
	if err != nil {
		uc.l.Warn("stored regime model predict failed, refitting", applogger.Error(err))
		return nil, nil, false
	}
	s.Reused = true
	uc.l.Info("regime model reused", applogger.String("checksum", s.Checksum))
	return labelled, &s, true
}

func (uc *PipelineUseCase) saveModel(ctx context.Context, model domsvc.RegimeModel) {
	data, err := model.MarshalJSON()
	if err == nil {
		err = uc.models.SaveModel(ctx, uc.cfg.ModelKey, data, model.Checksum())
	}
	if err != nil {
		uc.metrics.RecordError("model_store")
		uc.l.Error("save regime model failed", applogger.Error(err))
	}
}

func fallbackLabels(rows []models.FeatureRow, regime int) []models.RegimeRow {
	out := make([]models.RegimeRow, len(rows))
	for i, r := range rows {
		out[i] = models.RegimeRow{FeatureRow: r, Regime: regime}
	}
	return out
}

// Latest returns the most recent stored result without recomputing.
func (uc *PipelineUseCase) Latest(ctx context.Context) (*models.PipelineResult, error) {
	if r := uc.latest.Load(); r != nil {
		return r, nil
	}
	r, err := uc.results.LatestRun(ctx, uc.cfg.Symbol)
	if err != nil {
		return nil, err
	}
	uc.latest.CompareAndSwap(nil, r)
	return r, nil
}

// Current returns the latest result, running the pipeline first when nothing is stored
// and auto refresh is enabled.
func (uc *PipelineUseCase) Current(ctx context.Context) (*models.PipelineResult, error) {
	r, err := uc.Latest(ctx)
	if err == nil || !errors.Is(err, domrepo.ErrNotFound) || !uc.cfg.AutoRefresh {
		return r, err
	}
	uc.mu.Lock()
	defer uc.mu.Unlock()
	// a concurrent caller may have produced a result while we waited
	if r := uc.latest.Load(); r != nil {
		return r, nil
	}
	uc.l.Info("no stored result, running pipeline", applogger.String("symbol", uc.cfg.Symbol))
	return uc.runLocked(ctx, RunParams{})
}

// ErrorKind names the error class for metrics and logs.
func ErrorKind(err error) string {
	var (
		cfgErr  *models.ConfigurationError
		histErr *models.InsufficientHistoryError
		fitErr  *models.RegimeFitError
		dataErr *models.DataIntegrityError
	)
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &histErr):
		return "insufficient_history"
	case errors.As(err, &fitErr):
		return "regime_fit"
	case errors.As(err, &dataErr):
		return "data_integrity"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "internal"
	}
}
