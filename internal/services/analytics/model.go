package analytics

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"NiftyQuant/internal/domain/models"
	domsvc "NiftyQuant/internal/domain/service"
)

const modelFormatVersion = 1

// RegimeModel is a fitted Gaussian HMM. It is never mutated after construction and
// is safe for concurrent Predict calls.
type RegimeModel struct {
	features      []string
	scale         float64
	params        *hmmParams
	logLikelihood float64
	iterations    int
	converged     bool
	shares        []float64
	checksum      string
}

// modelPayload is the canonical serialized form. Field order is fixed by the struct.
type modelPayload struct {
	Features      []string    `json:"features"`
	Scale         float64     `json:"scale"`
	StartProb     []float64   `json:"start_prob"`
	TransMat      [][]float64 `json:"trans_mat"`
	Means         [][]float64 `json:"means"`
	Variances     [][]float64 `json:"variances"`
	LogLikelihood float64     `json:"log_likelihood"`
	Iterations    int         `json:"iterations"`
	Converged     bool        `json:"converged"`
	Shares        []float64   `json:"shares"`
}

type modelEnvelope struct {
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	Model    json.RawMessage `json:"model"`
}

func newRegimeModel(features []string, scale float64, p *hmmParams, ll float64, iters int, converged bool, shares []float64) (*RegimeModel, error) {
	m := &RegimeModel{
		features:      append([]string(nil), features...),
		scale:         scale,
		params:        p.clone(),
		logLikelihood: ll,
		iterations:    iters,
		converged:     converged,
		shares:        append([]float64(nil), shares...),
	}
	raw, err := json.Marshal(m.payload())
	if err != nil {
		return nil, fmt.Errorf("encode regime model: %w", err)
	}
	m.checksum = checksumOf(raw)
	return m, nil
}

func (m *RegimeModel) payload() modelPayload {
	return modelPayload{
		Features:      m.features,
		Scale:         m.scale,
		StartProb:     m.params.startProb,
		TransMat:      m.params.transMat,
		Means:         m.params.means,
		Variances:     m.params.variances,
		LogLikelihood: m.logLikelihood,
		Iterations:    m.iterations,
		Converged:     m.converged,
		Shares:        m.shares,
	}
}

func checksumOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// MarshalJSON returns the canonical artifact: identical models produce identical bytes.
func (m *RegimeModel) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(m.payload())
	if err != nil {
		return nil, fmt.Errorf("encode regime model: %w", err)
	}
	return json.Marshal(modelEnvelope{Version: modelFormatVersion, Checksum: checksumOf(raw), Model: raw})
}

// UnmarshalRegimeModel restores a model and verifies its checksum.
func UnmarshalRegimeModel(data []byte) (*RegimeModel, error) {
	var env modelEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &models.RegimeFitError{Reason: "decode model", Err: err}
	}
	if env.Version != modelFormatVersion {
		return nil, &models.RegimeFitError{Reason: fmt.Sprintf("unsupported model version %d", env.Version)}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, env.Model); err != nil {
		return nil, &models.RegimeFitError{Reason: "decode model", Err: err}
	}
	if got := checksumOf(compact.Bytes()); got != env.Checksum {
		return nil, &models.RegimeFitError{Reason: fmt.Sprintf("checksum mismatch: have %s, want %s", got, env.Checksum)}
	}
	var p modelPayload
	if err := json.Unmarshal(env.Model, &p); err != nil {
		return nil, &models.RegimeFitError{Reason: "decode model", Err: err}
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &RegimeModel{
		features:      p.Features,
		scale:         p.Scale,
		params:        &hmmParams{startProb: p.StartProb, transMat: p.TransMat, means: p.Means, variances: p.Variances},
		logLikelihood: p.LogLikelihood,
		iterations:    p.Iterations,
		converged:     p.Converged,
		shares:        p.Shares,
		checksum:      env.Checksum,
	}, nil
}

func (p modelPayload) validate() error {
	k, d := len(p.StartProb), len(p.Features)
	if k < 2 || d == 0 {
		return &models.RegimeFitError{Reason: fmt.Sprintf("malformed model: %d states, %d features", k, d)}
	}
	if len(p.TransMat) != k || len(p.Means) != k || len(p.Variances) != k || len(p.Shares) != k {
		return &models.RegimeFitError{Reason: "malformed model: state dimension mismatch"}
	}
	for s := 0; s < k; s++ {
		if len(p.TransMat[s]) != k || len(p.Means[s]) != d || len(p.Variances[s]) != d {
			return &models.RegimeFitError{Reason: fmt.Sprintf("malformed model: state %d shape", s)}
		}
		for _, v := range p.Variances[s] {
			if !(v > 0) || math.IsInf(v, 0) {
				return &models.RegimeFitError{Reason: fmt.Sprintf("malformed model: state %d variance %v", s, v)}
			}
		}
	}
	return nil
}

// Checksum is the SHA-256 of the canonical model payload.
func (m *RegimeModel) Checksum() string { return m.checksum }

// States returns the number of hidden states.
func (m *RegimeModel) States() int { return m.params.states() }

// Features returns the feature names the model was fitted on.
func (m *RegimeModel) Features() []string { return append([]string(nil), m.features...) }

// Scale returns the input multiplier applied before fitting.
func (m *RegimeModel) Scale() float64 { return m.scale }

// Means returns a copy of the per-state means in scaled units.
func (m *RegimeModel) Means() [][]float64 { return cloneMatrix(m.params.means) }

// Variances returns a copy of the per-state variances in scaled units.
func (m *RegimeModel) Variances() [][]float64 { return cloneMatrix(m.params.variances) }

// TransitionMatrix returns a copy of the state transition probabilities.
func (m *RegimeModel) TransitionMatrix() [][]float64 { return cloneMatrix(m.params.transMat) }

// Converged reports whether EM stopped on the tolerance rather than the iteration budget.
func (m *RegimeModel) Converged() bool { return m.converged }

// LogLikelihood of the training sequence under the final parameters.
func (m *RegimeModel) LogLikelihood() float64 { return m.logLikelihood }

// Summary describes the model without exposing its internals.
func (m *RegimeModel) Summary() models.RegimeSummary {
	states := make([]models.RegimeState, m.params.states())
	for s := range states {
		states[s] = models.RegimeState{
			Index:     s,
			Means:     append([]float64(nil), m.params.means[s]...),
			Variances: append([]float64(nil), m.params.variances[s]...),
			Share:     m.shares[s],
		}
	}
	return models.RegimeSummary{
		Checksum:      m.checksum,
		Features:      m.Features(),
		States:        states,
		LogLikelihood: m.logLikelihood,
		Iterations:    m.iterations,
		Converged:     m.converged,
	}
}

// Predict labels rows with the most likely state path without refitting.
func (m *RegimeModel) Predict(rows []models.FeatureRow) ([]models.RegimeRow, error) {
	if len(rows) == 0 {
		return nil, &models.InsufficientHistoryError{Op: "predict regimes", Need: 1, Have: 0}
	}
	x, err := featureMatrix(rows, m.features, m.scale)
	if err != nil {
		return nil, err
	}
	return label(rows, m.params.viterbi(x)), nil
}

func label(rows []models.FeatureRow, path []int) []models.RegimeRow {
	out := make([]models.RegimeRow, len(rows))
	for i, r := range rows {
		out[i] = models.RegimeRow{FeatureRow: r, Regime: path[i]}
	}
	return out
}

var _ domsvc.RegimeModel = (*RegimeModel)(nil)
