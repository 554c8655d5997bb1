package models

import (
	"math"
	"time"
)

// NoRegime marks a simulation row that was not classified by the regime detector.
const NoRegime = -1

// PricePoint is one OHLCV bar of the canonical input schema.
type PricePoint struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// FeatureRow is a PricePoint extended with derived indicator columns.
// Values that lack enough history are NaN (see Undefined).
type FeatureRow struct {
	PricePoint
	Return     float64
	EMAFast    float64
	EMASlow    float64
	Volatility float64
	Momentum   float64 // RSI-style, [0,100]
	BandUpper  float64
	BandLower  float64
	ZScore     float64
}

// RegimeRow is a FeatureRow labelled with a hidden state index.
// State indices are arbitrary per fit.
type RegimeRow struct {
	FeatureRow
	Regime int
}

// SimulationRow carries the strategy state for one timestep.
type SimulationRow struct {
	FeatureRow
	Regime         int
	Signal         int
	Position       int
	MarketReturn   float64
	StrategyReturn float64
	Equity         float64
}

// Metrics summarises a simulated equity curve.
type Metrics struct {
	InitialCapital float64
	FinalEquity    float64
	TotalReturn    float64
	ReturnPct      float64
	NumTrades      int
	TradeCounting  string
	MaxDrawdownPct float64
	WinRate        float64
	Rows           int
}

// Backtest is the simulator output.
type Backtest struct {
	Rows    []SimulationRow
	Metrics Metrics
}

// Anomaly is a row whose return z-score exceeds the configured threshold.
type Anomaly struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Close     float64   `json:"close"`
	Return    float64   `json:"return"`
	ZScore    float64   `json:"z_score"`
	Direction string    `json:"direction"` // "shock_up" | "shock_down"
}

// RegimeState describes one fitted hidden state over the scaled feature subset.
type RegimeState struct {
	Index     int       `json:"index"`
	Means     []float64 `json:"means"`
	Variances []float64 `json:"variances"`
	Share     float64   `json:"share"` // fraction of rows decoded into this state
}

// RegimeSummary is the transport-neutral description of a fitted model.
type RegimeSummary struct {
	Checksum      string        `json:"checksum"`
	Features      []string      `json:"features"`
	States        []RegimeState `json:"states"`
	LogLikelihood float64       `json:"log_likelihood"`
	Iterations    int           `json:"iterations"`
	Converged     bool          `json:"converged"`
	Reused        bool          `json:"reused"`
}

// PipelineResult is one complete run of features -> regimes -> simulation.
type PipelineResult struct {
	RunID         string
	Symbol        string
	CreatedAt     time.Time
	Rows          []SimulationRow
	Metrics       Metrics
	Regime        *RegimeSummary
	Anomalies     []Anomaly
	WarmupDropped int
}

// Undefined returns the marker used for values without enough history.
func Undefined() float64 { return math.NaN() }

// IsDefined reports whether v is a usable (finite) value.
func IsDefined(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
