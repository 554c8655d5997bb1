package analytics

import (
	"fmt"
	"math"
	"time"

	"NiftyQuant/internal/domain/models"
	"NiftyQuant/pkg/logger"
)

// Feature names understood by the detector.
const (
	FeatureReturn     = "return"
	FeatureVolatility = "volatility"
)

// DetectorConfig tunes the Gaussian HMM fit.
type DetectorConfig struct {
	Scale    float64 `yaml:"scale" json:"scale" default:"100"`
	MinCovar float64 `yaml:"min_covar" json:"min_covar" default:"0.001"`
	MaxIter  int     `yaml:"max_iter" json:"max_iter" default:"100"`
	Tol      float64 `yaml:"tol" json:"tol" default:"0.01"`
	Seed     int64   `yaml:"seed" json:"seed" default:"42"`
}

// DefaultDetectorConfig returns the standard fit settings.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{Scale: 100, MinCovar: 1e-3, MaxIter: 100, Tol: 0.01, Seed: 42}
}

func (c DetectorConfig) validate() error {
	switch {
	case !(c.Scale > 0) || math.IsInf(c.Scale, 0):
		return models.NewConfigurationError("scale", "must be positive and finite, got %v", c.Scale)
	case !(c.MinCovar > 0) || math.IsInf(c.MinCovar, 0):
		return models.NewConfigurationError("min_covar", "must be positive and finite, got %v", c.MinCovar)
	case c.MaxIter <= 0:
		return models.NewConfigurationError("max_iter", "must be positive, got %d", c.MaxIter)
	case c.Tol < 0 || math.IsNaN(c.Tol):
		return models.NewConfigurationError("tol", "must be non-negative, got %v", c.Tol)
	}
	return nil
}

// Detector fits Gaussian HMM regime models on return and volatility.
type Detector struct {
	cfg      DetectorConfig
	features []string
	log      *logger.Logger
}

// DetectorOption configures Detector.
type DetectorOption func(*Detector)

// WithDetectorConfig replaces the fit settings.
func WithDetectorConfig(c DetectorConfig) DetectorOption { return func(d *Detector) { d.cfg = c } }

// WithSeed overrides the initialisation seed.
func WithSeed(seed int64) DetectorOption { return func(d *Detector) { d.cfg.Seed = seed } }

// WithMaxIter overrides the EM iteration budget.
func WithMaxIter(n int) DetectorOption { return func(d *Detector) { d.cfg.MaxIter = n } }

// NewDetector creates a Detector with DefaultDetectorConfig unless overridden.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{cfg: DefaultDetectorConfig(), features: []string{FeatureReturn, FeatureVolatility}}
	for _, o := range opts {
		o(d)
	}
	return d
}

// SetLogger injects the logger.
func (d *Detector) SetLogger(l *logger.Logger) { d.log = l }

// Config returns the active fit settings.
func (d *Detector) Config() DetectorConfig { return d.cfg }

// Fit estimates a new model with Baum-Welch and labels rows by Viterbi decoding.
// Every row must have defined return and volatility values.
func (d *Detector) Fit(rows []models.FeatureRow, nStates int) (*RegimeModel, []models.RegimeRow, error) {
	if err := d.cfg.validate(); err != nil {
		return nil, nil, err
	}
	if nStates < 2 {
		return nil, nil, models.NewConfigurationError("n_states", "must be at least 2, got %d", nStates)
	}
	if len(rows) < nStates {
		return nil, nil, &models.RegimeFitError{Reason: fmt.Sprintf("%d rows cannot fit %d states", len(rows), nStates)}
	}
	x, err := featureMatrix(rows, d.features, d.cfg.Scale)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	p := d.initParams(x, nStates)
	var (
		prev      = math.Inf(-1)
		converged bool
		iters     int
	)
	for iters = 1; iters <= d.cfg.MaxIter; iters++ {
		st := p.expectation(x)
		if st.zeroProb || math.IsNaN(st.logLik) || math.IsInf(st.logLik, 0) {
			return nil, nil, &models.RegimeFitError{Reason: fmt.Sprintf("non-finite log-likelihood at iteration %d", iters)}
		}
		if iters > 1 && st.logLik-prev < d.cfg.Tol {
			converged = true
			prev = st.logLik
			break
		}
		prev = st.logLik
		p.maximize(x, st, d.cfg.MinCovar)
		if err := checkVariances(p); err != nil {
			return nil, nil, err
		}
	}
	if iters > d.cfg.MaxIter {
		iters = d.cfg.MaxIter
		final := p.expectation(x)
		if final.zeroProb || math.IsNaN(final.logLik) || math.IsInf(final.logLik, 0) {
			return nil, nil, &models.RegimeFitError{Reason: "non-finite log-likelihood after final iteration"}
		}
		prev = final.logLik
	}

	path := p.viterbi(x)
	shares := make([]float64, nStates)
	for _, s := range path {
		shares[s]++
	}
	for s := range shares {
		shares[s] /= float64(len(path))
	}
	model, err := newRegimeModel(d.features, d.cfg.Scale, p, prev, iters, converged, shares)
	if err != nil {
		return nil, nil, &models.RegimeFitError{Reason: "encode model", Err: err}
	}
	if d.log != nil {
		fields := []logger.Field{
			logger.Int("rows", len(rows)),
			logger.Int("states", nStates),
			logger.Int("iterations", iters),
			logger.Float("log_likelihood", prev),
			logger.Duration("elapsed", time.Since(start)),
			logger.String("checksum", model.Checksum()),
		}
		if converged {
			d.log.Info("regime model fitted", fields...)
		} else {
			d.log.Warn("regime model did not converge within iteration budget", fields...)
		}
	}
	return model, label(rows, path), nil
}

// initParams seeds means with k-means, variances with the global per-dimension
// variance, and uses uniform start and transition probabilities.
func (d *Detector) initParams(x [][]float64, k int) *hmmParams {
	dim := len(x[0])
	mean := make([]float64, dim)
	for _, obs := range x {
		for j, v := range obs {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(len(x))
	}
	global := make([]float64, dim)
	if len(x) > 1 {
		for _, obs := range x {
			for j, v := range obs {
				global[j] += (v - mean[j]) * (v - mean[j])
			}
		}
		for j := range global {
			global[j] /= float64(len(x) - 1)
		}
	}
	p := &hmmParams{
		startProb: make([]float64, k),
		transMat:  newMatrix(k, k),
		means:     kmeans(x, k, d.cfg.Seed),
		variances: newMatrix(k, dim),
	}
	for i := 0; i < k; i++ {
		p.startProb[i] = 1 / float64(k)
		for j := 0; j < k; j++ {
			p.transMat[i][j] = 1 / float64(k)
		}
		for j := 0; j < dim; j++ {
			p.variances[i][j] = global[j] + d.cfg.MinCovar
		}
	}
	return p
}

func checkVariances(p *hmmParams) error {
	for s, row := range p.variances {
		for j, v := range row {
			if !(v > 0) || math.IsInf(v, 0) {
				return &models.RegimeFitError{Reason: fmt.Sprintf("state %d feature %d variance %v is not positive after flooring", s, j, v)}
			}
		}
		for j, v := range p.means[s] {
			if !models.IsDefined(v) {
				return &models.RegimeFitError{Reason: fmt.Sprintf("state %d feature %d mean is not finite", s, j)}
			}
		}
	}
	return nil
}

// featureMatrix extracts the named columns multiplied by scale.
func featureMatrix(rows []models.FeatureRow, features []string, scale float64) ([][]float64, error) {
	x := make([][]float64, len(rows))
	for i, r := range rows {
		obs := make([]float64, len(features))
		for j, f := range features {
			var v float64
			switch f {
			case FeatureReturn:
				v = r.Return
			case FeatureVolatility:
				v = r.Volatility
			default:
				return nil, &models.RegimeFitError{Reason: "unknown feature " + f}
			}
			if !models.IsDefined(v) {
				return nil, &models.RegimeFitError{Reason: fmt.Sprintf("row %d: %s is not finite", i, f)}
			}
			obs[j] = v * scale
		}
		x[i] = obs
	}
	return x, nil
}
