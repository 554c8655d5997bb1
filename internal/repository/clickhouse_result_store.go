package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"NiftyQuant/internal/domain/models"
	domrepo "NiftyQuant/internal/domain/repository"
	pkgch "NiftyQuant/pkg/clickhouse"
	applogger "NiftyQuant/pkg/logger"
)

// ResultSchema holds the DDL for the run tables. Undefined indicator values are stored as NULL.
var ResultSchema = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
        run_id           String,
        symbol           LowCardinality(String),
        created_at       DateTime64(3, 'UTC'),
        initial_capital  Float64,
        final_equity     Float64,
        total_return     Float64,
        return_pct       Float64,
        num_trades       UInt32,
        trade_counting   LowCardinality(String),
        max_drawdown_pct Float64,
        win_rate         Float64,
        row_count        UInt32,
        warmup_dropped   UInt32,
        regime           String,
        anomalies        String
    ) ENGINE = MergeTree ORDER BY (symbol, created_at)`,
	`CREATE TABLE IF NOT EXISTS pipeline_rows (
        run_id          String,
        idx             UInt32,
        ts              DateTime64(3, 'UTC'),
        open            Float64,
        high            Float64,
        low             Float64,
        close           Float64,
        volume          Int64,
        ret             Nullable(Float64),
        ema_fast        Nullable(Float64),
        ema_slow        Nullable(Float64),
        volatility      Nullable(Float64),
        momentum        Nullable(Float64),
        band_upper      Nullable(Float64),
        band_lower      Nullable(Float64),
        z_score         Nullable(Float64),
        regime          Int32,
        signal          Int8,
        position        Int8,
        market_return   Float64,
        strategy_return Float64,
        equity          Float64
    ) ENGINE = MergeTree ORDER BY (run_id, idx)`,
}

const (
	insertRunSQL = `INSERT INTO pipeline_runs (run_id, symbol, created_at, initial_capital, final_equity, total_return,
        return_pct, num_trades, trade_counting, max_drawdown_pct, win_rate, row_count, warmup_dropped, regime, anomalies)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertRowSQL = `INSERT INTO pipeline_rows (run_id, idx, ts, open, high, low, close, volume, ret, ema_fast, ema_slow,
        volatility, momentum, band_upper, band_lower, z_score, regime, signal, position, market_return, strategy_return, equity)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	latestRunSQL = `SELECT run_id, symbol, created_at, initial_capital, final_equity, total_return, return_pct,
        num_trades, trade_counting, max_drawdown_pct, win_rate, row_count, warmup_dropped, regime, anomalies
        FROM pipeline_runs WHERE symbol = ? ORDER BY created_at DESC LIMIT 1`
	runRowsSQL = `SELECT ts, open, high, low, close, volume, ret, ema_fast, ema_slow, volatility, momentum,
        band_upper, band_lower, z_score, regime, signal, position, market_return, strategy_return, equity
        FROM pipeline_rows WHERE run_id = ? ORDER BY idx ASC`
)

// CHResultStore persists pipeline runs in ClickHouse.
type CHResultStore struct {
	ch *pkgch.Client
	l  *applogger.Logger
}

func NewCHResultStore(ch *pkgch.Client) *CHResultStore {
	return &CHResultStore{ch: ch}
}

// SetLogger injects a structured logger.
func (s *CHResultStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHResultStore) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, ResultSchema)
}

// SaveRun writes the run header and its rows in one transaction; the driver sends the
// prepared row inserts as a single block on commit.
func (s *CHResultStore) SaveRun(ctx context.Context, r *models.PipelineResult) error {
	start := time.Now()
	regime, err := encodeJSONColumn(r.Regime)
	if err != nil {
		return fmt.Errorf("encode regime: %w", err)
	}
	anomalies, err := encodeJSONColumn(r.Anomalies)
	if err != nil {
		return fmt.Errorf("encode anomalies: %w", err)
	}

	err = s.ch.WithTx(ctx, func(tx *sql.Tx) error {
		m := r.Metrics
		if _, err := tx.ExecContext(ctx, insertRunSQL,
			r.RunID, r.Symbol, r.CreatedAt.UTC(),
			m.InitialCapital, m.FinalEquity, m.TotalReturn, m.ReturnPct,
			uint32(m.NumTrades), m.TradeCounting, m.MaxDrawdownPct, m.WinRate,
			uint32(len(r.Rows)), uint32(r.WarmupDropped), regime, anomalies,
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		if len(r.Rows) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx, insertRowSQL)
		if err != nil {
			return fmt.Errorf("prepare rows: %w", err)
		}
		defer stmt.Close()
		for i, row := range r.Rows {
			if _, err := stmt.ExecContext(ctx,
				r.RunID, uint32(i), row.Timestamp.UTC(),
				row.Open, row.High, row.Low, row.Close, row.Volume,
				nullFloat(row.Return), nullFloat(row.EMAFast), nullFloat(row.EMASlow),
				nullFloat(row.Volatility), nullFloat(row.Momentum),
				nullFloat(row.BandUpper), nullFloat(row.BandLower), nullFloat(row.ZScore),
				int32(row.Regime), int8(row.Signal), int8(row.Position),
				row.MarketReturn, row.StrategyReturn, row.Equity,
			); err != nil {
				return fmt.Errorf("insert row %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse save_run error",
				applogger.String("run_id", r.RunID),
				applogger.String("symbol", r.Symbol),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("save run: %w", err)
	}
	if s.l != nil {
		s.l.Info("clickhouse save_run ok",
			applogger.String("run_id", r.RunID),
			applogger.String("symbol", r.Symbol),
			applogger.Int("rows", len(r.Rows)),
			applogger.Duration("duration", time.Since(start)),
		)
	}
	return nil
}

// LatestRun returns the most recent run for symbol or domrepo.ErrNotFound.
func (s *CHResultStore) LatestRun(ctx context.Context, symbol string) (*models.PipelineResult, error) {
	db := s.ch.DB()
	var (
		r                            models.PipelineResult
		numTrades, rowCount, dropped uint32
		regime, anomalies            string
	)
	err := db.QueryRowContext(ctx, latestRunSQL, symbol).Scan(
		&r.RunID, &r.Symbol, &r.CreatedAt,
		&r.Metrics.InitialCapital, &r.Metrics.FinalEquity, &r.Metrics.TotalReturn, &r.Metrics.ReturnPct,
		&numTrades, &r.Metrics.TradeCounting, &r.Metrics.MaxDrawdownPct, &r.Metrics.WinRate,
		&rowCount, &dropped, &regime, &anomalies,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domrepo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.Metrics.NumTrades = int(numTrades)
	r.Metrics.Rows = int(rowCount)
	r.WarmupDropped = int(dropped)
	if regime != "" {
		r.Regime = &models.RegimeSummary{}
		if err := json.Unmarshal([]byte(regime), r.Regime); err != nil {
			return nil, fmt.Errorf("decode regime: %w", err)
		}
	}
	if anomalies != "" {
		if err := json.Unmarshal([]byte(anomalies), &r.Anomalies); err != nil {
			return nil, fmt.Errorf("decode anomalies: %w", err)
		}
	}

	rows, err := db.QueryContext(ctx, runRowsSQL, r.RunID)
	if err != nil {
		return nil, fmt.Errorf("run rows: %w", err)
	}
	defer rows.Close()

	r.Rows = make([]models.SimulationRow, 0, rowCount)
	for rows.Next() {
		var (
			row                              models.SimulationRow
			ret, ef, es, vol, mom, bu, bl, z sql.NullFloat64
			regimeIdx                        int32
			signal, position                 int8
		)
		if err := rows.Scan(
			&row.Timestamp, &row.Open, &row.High, &row.Low, &row.Close, &row.Volume,
			&ret, &ef, &es, &vol, &mom, &bu, &bl, &z,
			&regimeIdx, &signal, &position,
			&row.MarketReturn, &row.StrategyReturn, &row.Equity,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row.Timestamp = row.Timestamp.UTC()
		row.Return = fromNull(ret)
		row.EMAFast = fromNull(ef)
		row.EMASlow = fromNull(es)
		row.Volatility = fromNull(vol)
		row.Momentum = fromNull(mom)
		row.BandUpper = fromNull(bu)
		row.BandLower = fromNull(bl)
		row.ZScore = fromNull(z)
		row.Regime = int(regimeIdx)
		row.Signal = int(signal)
		row.Position = int(position)
		r.Rows = append(r.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return &r, nil
}

// Close is a no-op; the shared client is closed by whoever opened it.
func (s *CHResultStore) Close() error { return nil }

func nullFloat(v float64) interface{} {
	if !models.IsDefined(v) {
		return nil
	}
	return v
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return models.Undefined()
	}
	return v.Float64
}

func encodeJSONColumn(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return "", nil
	}
	return string(b), nil
}

var _ domrepo.ResultStore = (*CHResultStore)(nil)
