package strategy

import (
	"math"

	"NiftyQuant/internal/domain/models"
	domsvc "NiftyQuant/internal/domain/service"
	"NiftyQuant/pkg/logger"
)

// Trade counting policies.
const (
	// CountLegs sums |position[t]-position[t-1]|, so a -1 -> +1 flip counts two.
	CountLegs = "legs"
	// CountEvents counts the timesteps where the position changes.
	CountEvents = "events"
)

// Simulator runs the EMA crossover strategy with a one-step position lag.
type Simulator struct {
	counting string
	log      *logger.Logger
}

// Option configures Simulator.
type Option func(*Simulator)

// WithTradeCounting selects the NumTrades policy.
func WithTradeCounting(policy string) Option { return func(s *Simulator) { s.counting = policy } }

// NewSimulator creates a Simulator counting trade legs unless overridden.
func NewSimulator(opts ...Option) *Simulator {
	s := &Simulator{counting: CountLegs}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetLogger injects the logger.
func (s *Simulator) SetLogger(l *logger.Logger) { s.log = l }

// Signal is +1 when the fast EMA is above the slow one, -1 when below, 0 otherwise.
func Signal(r models.FeatureRow) int {
	if !models.IsDefined(r.EMAFast) || !models.IsDefined(r.EMASlow) {
		return 0
	}
	switch {
	case r.EMAFast > r.EMASlow:
		return 1
	case r.EMAFast < r.EMASlow:
		return -1
	default:
		return 0
	}
}

// Run simulates rows without regime labels.
func (s *Simulator) Run(rows []models.FeatureRow, capital float64) (*models.Backtest, error) {
	regimes := make([]int, len(rows))
	for i := range regimes {
		regimes[i] = models.NoRegime
	}
	return s.simulate(rows, regimes, capital)
}

// RunWithRegimes simulates rows and carries their regime labels into the output.
func (s *Simulator) RunWithRegimes(rows []models.RegimeRow, capital float64) (*models.Backtest, error) {
	features := make([]models.FeatureRow, len(rows))
	regimes := make([]int, len(rows))
	for i, r := range rows {
		features[i] = r.FeatureRow
		regimes[i] = r.Regime
	}
	return s.simulate(features, regimes, capital)
}

func (s *Simulator) simulate(rows []models.FeatureRow, regimes []int, capital float64) (*models.Backtest, error) {
	if !(capital > 0) || math.IsInf(capital, 0) {
		return nil, models.NewConfigurationError("initial_capital", "must be positive and finite, got %v", capital)
	}
	if s.counting != CountLegs && s.counting != CountEvents {
		return nil, models.NewConfigurationError("trade_counting", "unknown policy %q", s.counting)
	}
	if len(rows) < 2 {
		return nil, &models.InsufficientHistoryError{Op: "simulate", Need: 2, Have: len(rows)}
	}

	out := make([]models.SimulationRow, len(rows))
	equity, peak, maxDD := capital, capital, 0.0
	trades, wins, active := 0, 0, 0
	for t, r := range rows {
		row := models.SimulationRow{FeatureRow: r, Regime: regimes[t], Signal: Signal(r)}
		if t > 0 {
			// position at t only knows the signal observed at t-1
			row.Position = out[t-1].Signal
			row.MarketReturn = (r.Close - rows[t-1].Close) / rows[t-1].Close
			row.StrategyReturn = float64(row.Position) * row.MarketReturn

			if d := row.Position - out[t-1].Position; d != 0 {
				if s.counting == CountLegs {
					trades += abs(d)
				} else {
					trades++
				}
			}
			if row.StrategyReturn != 0 {
				active++
				if row.StrategyReturn > 0 {
					wins++
				}
			}
		}
		equity *= 1 + row.StrategyReturn
		row.Equity = equity
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak * 100; dd > maxDD {
			maxDD = dd
		}
		out[t] = row
	}

	total := equity - capital
	m := models.Metrics{
		InitialCapital: capital,
		FinalEquity:    equity,
		TotalReturn:    total,
		ReturnPct:      total / capital * 100,
		NumTrades:      trades,
		TradeCounting:  s.counting,
		MaxDrawdownPct: maxDD,
		Rows:           len(out),
	}
	if active > 0 {
		m.WinRate = float64(wins) / float64(active)
	}
	if s.log != nil {
		s.log.Debug("simulation finished",
			logger.Int("rows", m.Rows),
			logger.Int("trades", m.NumTrades),
			logger.Float("final_equity", m.FinalEquity),
		)
	}
	return &models.Backtest{Rows: out, Metrics: m}, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

var _ domsvc.StrategySimulator = (*Simulator)(nil)
