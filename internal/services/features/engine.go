package features

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"NiftyQuant/internal/domain/models"
	domsvc "NiftyQuant/internal/domain/service"
	"NiftyQuant/pkg/logger"
)

// Params configures the indicator windows. Zero values are invalid, use DefaultParams.
type Params struct {
	FastSpan         int     `yaml:"fast_span" json:"fast_span" default:"9"`
	SlowSpan         int     `yaml:"slow_span" json:"slow_span" default:"21"`
	VolatilityWindow int     `yaml:"volatility_window" json:"volatility_window" default:"20"`
	MomentumWindow   int     `yaml:"momentum_window" json:"momentum_window" default:"14"`
	BandWindow       int     `yaml:"band_window" json:"band_window" default:"20"`
	BandDeviations   float64 `yaml:"band_deviations" json:"band_deviations" default:"2"`
}

// DefaultParams returns the standard indicator windows.
func DefaultParams() Params {
	return Params{
		FastSpan:         9,
		SlowSpan:         21,
		VolatilityWindow: 20,
		MomentumWindow:   14,
		BandWindow:       20,
		BandDeviations:   2,
	}
}

// Validate checks window sizes. It never adjusts a value.
func (p Params) Validate() error {
	switch {
	case p.FastSpan <= 0:
		return models.NewConfigurationError("fast_span", "must be positive, got %d", p.FastSpan)
	case p.SlowSpan <= 0:
		return models.NewConfigurationError("slow_span", "must be positive, got %d", p.SlowSpan)
	case p.FastSpan >= p.SlowSpan:
		return models.NewConfigurationError("fast_span", "must be less than slow_span (%d >= %d)", p.FastSpan, p.SlowSpan)
	case p.VolatilityWindow < 2:
		return models.NewConfigurationError("volatility_window", "must be at least 2, got %d", p.VolatilityWindow)
	case p.MomentumWindow <= 0:
		return models.NewConfigurationError("momentum_window", "must be positive, got %d", p.MomentumWindow)
	case p.BandWindow <= 0:
		return models.NewConfigurationError("band_window", "must be positive, got %d", p.BandWindow)
	case !(p.BandDeviations > 0) || math.IsInf(p.BandDeviations, 0):
		return models.NewConfigurationError("band_deviations", "must be positive and finite, got %v", p.BandDeviations)
	}
	return nil
}

// Warmup is the number of leading rows in which at least one windowed column is undefined.
func (p Params) Warmup() int {
	w := p.VolatilityWindow
	if p.MomentumWindow > w {
		w = p.MomentumWindow
	}
	if p.BandWindow-1 > w {
		w = p.BandWindow - 1
	}
	return w
}

// Engine derives indicator columns from a price series.
// Rows are re-sorted by timestamp before any windowed computation.
type Engine struct {
	params Params
	log    *logger.Logger
}

// Option configures Engine.
type Option func(*Engine)

// WithParams overrides the default indicator windows.
func WithParams(p Params) Option { return func(e *Engine) { e.params = p } }

// NewEngine creates an Engine with DefaultParams unless overridden.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{params: DefaultParams()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetLogger injects the logger.
func (e *Engine) SetLogger(l *logger.Logger) { e.log = l }

// Params returns the active parameters.
func (e *Engine) Params() Params { return e.params }

// Compute returns one FeatureRow per input row, in timestamp order.
func (e *Engine) Compute(series []models.PricePoint) ([]models.FeatureRow, error) {
	if err := e.params.Validate(); err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, &models.InsufficientHistoryError{Op: "compute features", Need: 1, Have: 0}
	}
	sorted, err := sortAndCheck(series)
	if err != nil {
		return nil, err
	}

	closes := make([]float64, len(sorted))
	for i, p := range sorted {
		closes[i] = p.Close
	}
	returns := Returns(closes)

	var (
		emaFast, emaSlow, vol, mom, upper, lower, z []float64
		g                                           errgroup.Group
	)
	g.Go(func() error { emaFast = EMA(closes, e.params.FastSpan); return nil })
	g.Go(func() error { emaSlow = EMA(closes, e.params.SlowSpan); return nil })
	g.Go(func() error { vol = RollingStd(returns, e.params.VolatilityWindow); return nil })
	g.Go(func() error { mom = Momentum(closes, e.params.MomentumWindow); return nil })
	g.Go(func() error {
		var berr error
		upper, lower, berr = Bands(closes, e.params.BandWindow, e.params.BandDeviations)
		return berr
	})
	g.Go(func() error { z = ZScores(returns); return nil })
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("compute features: %w", err)
	}

	rows := make([]models.FeatureRow, len(sorted))
	for i, p := range sorted {
		rows[i] = models.FeatureRow{
			PricePoint: p,
			Return:     returns[i],
			EMAFast:    emaFast[i],
			EMASlow:    emaSlow[i],
			Volatility: vol[i],
			Momentum:   mom[i],
			BandUpper:  upper[i],
			BandLower:  lower[i],
			ZScore:     z[i],
		}
	}
	if e.log != nil {
		e.log.Debug("features computed",
			logger.Int("rows", len(rows)),
			logger.Int("warmup", e.params.Warmup()),
		)
	}
	return rows, nil
}

// sortAndCheck returns a timestamp-sorted copy and validates the canonical schema.
func sortAndCheck(series []models.PricePoint) ([]models.PricePoint, error) {
	out := make([]models.PricePoint, len(series))
	copy(out, series)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	for i, p := range out {
		if p.Timestamp.IsZero() {
			return nil, &models.DataIntegrityError{Index: i, Reason: "missing timestamp"}
		}
		if i > 0 && p.Timestamp.Equal(out[i-1].Timestamp) {
			return nil, &models.DataIntegrityError{Index: i, Reason: "duplicate timestamp " + p.Timestamp.UTC().Format("2006-01-02T15:04:05Z")}
		}
		for _, v := range [...]float64{p.Open, p.High, p.Low, p.Close} {
			if !models.IsDefined(v) || v <= 0 {
				return nil, &models.DataIntegrityError{Index: i, Reason: fmt.Sprintf("price must be positive and finite, got %v", v)}
			}
		}
		if p.Volume < 0 {
			return nil, &models.DataIntegrityError{Index: i, Reason: fmt.Sprintf("negative volume %d", p.Volume)}
		}
	}
	return out, nil
}

// TrimWarmup drops the leading rows in which any windowed column lacks history.
// It is the single edge policy of the pipeline and runs after every window computation.
func TrimWarmup(rows []models.FeatureRow, p Params) ([]models.FeatureRow, int) {
	n := p.Warmup()
	if n > len(rows) {
		n = len(rows)
	}
	return rows[n:], n
}

var _ domsvc.FeatureEngine = (*Engine)(nil)
