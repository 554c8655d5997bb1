package models

import "time"

// Wire views of pipeline results. Undefined values become JSON null rather than a
// substituted number, so consumers decide how to fill them.

type RowView struct {
	Timestamp      time.Time `json:"timestamp"`
	Open           float64   `json:"open"`
	High           float64   `json:"high"`
	Low            float64   `json:"low"`
	Close          float64   `json:"close"`
	Volume         int64     `json:"volume"`
	Return         *float64  `json:"return"`
	EMAFast        *float64  `json:"ema_fast"`
	EMASlow        *float64  `json:"ema_slow"`
	Volatility     *float64  `json:"volatility"`
	Momentum       *float64  `json:"momentum_index"`
	BandUpper      *float64  `json:"band_upper"`
	BandLower      *float64  `json:"band_lower"`
	ZScore         *float64  `json:"z_score"`
	Regime         *int      `json:"regime"`
	Signal         int       `json:"signal"`
	Position       int       `json:"position"`
	MarketReturn   float64   `json:"market_return"`
	StrategyReturn float64   `json:"strategy_return"`
	Equity         float64   `json:"equity"`
}

type MetricsView struct {
	InitialCapital float64 `json:"initial_capital"`
	FinalEquity    float64 `json:"final_equity"`
	TotalReturn    float64 `json:"total_return"`
	ReturnPct      float64 `json:"return_pct"`
	NumTrades      int     `json:"num_trades"`
	TradeCounting  string  `json:"trade_counting"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	WinRate        float64 `json:"win_rate"`
	Rows           int     `json:"rows"`
}

type DataView struct {
	RunID     string    `json:"run_id"`
	Symbol    string    `json:"symbol"`
	CreatedAt time.Time `json:"created_at"`
	Count     int       `json:"count"`
	Rows      []RowView `json:"rows"`
}

type SummaryView struct {
	RunID         string         `json:"run_id"`
	Symbol        string         `json:"symbol"`
	CreatedAt     time.Time      `json:"created_at"`
	WarmupDropped int            `json:"warmup_dropped"`
	Metrics       MetricsView    `json:"metrics"`
	Regime        *RegimeSummary `json:"regime,omitempty"`
	Anomalies     int            `json:"anomalies"`
}

type RefreshView struct {
	Message string      `json:"message"`
	RunID   string      `json:"run_id"`
	Rows    int         `json:"rows"`
	Metrics MetricsView `json:"metrics"`
}

type AnomaliesView struct {
	RunID     string    `json:"run_id"`
	Symbol    string    `json:"symbol"`
	Threshold float64   `json:"threshold"`
	Count     int       `json:"count"`
	Anomalies []Anomaly `json:"anomalies"`
}

// NewRowView converts a simulation row into its wire form.
func NewRowView(r SimulationRow) RowView {
	v := RowView{
		Timestamp:      r.Timestamp,
		Open:           r.Open,
		High:           r.High,
		Low:            r.Low,
		Close:          r.Close,
		Volume:         r.Volume,
		Return:         OptionalFloat(r.Return),
		EMAFast:        OptionalFloat(r.EMAFast),
		EMASlow:        OptionalFloat(r.EMASlow),
		Volatility:     OptionalFloat(r.Volatility),
		Momentum:       OptionalFloat(r.Momentum),
		BandUpper:      OptionalFloat(r.BandUpper),
		BandLower:      OptionalFloat(r.BandLower),
		ZScore:         OptionalFloat(r.ZScore),
		Signal:         r.Signal,
		Position:       r.Position,
		MarketReturn:   r.MarketReturn,
		StrategyReturn: r.StrategyReturn,
		Equity:         r.Equity,
	}
	if r.Regime != NoRegime {
		reg := r.Regime
		v.Regime = &reg
	}
	return v
}

// NewMetricsView converts metrics into their wire form.
func NewMetricsView(m Metrics) MetricsView {
	return MetricsView{
		InitialCapital: m.InitialCapital,
		FinalEquity:    m.FinalEquity,
		TotalReturn:    m.TotalReturn,
		ReturnPct:      m.ReturnPct,
		NumTrades:      m.NumTrades,
		TradeCounting:  m.TradeCounting,
		MaxDrawdownPct: m.MaxDrawdownPct,
		WinRate:        m.WinRate,
		Rows:           m.Rows,
	}
}

// OptionalFloat returns nil for undefined values.
func OptionalFloat(v float64) *float64 {
	if !IsDefined(v) {
		return nil
	}
	return &v
}
