package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"NiftyQuant/internal/domain/models"
	domrepo "NiftyQuant/internal/domain/repository"
	pkgch "NiftyQuant/pkg/clickhouse"
	applogger "NiftyQuant/pkg/logger"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// CHSeriesSource reads OHLCV bars from a ClickHouse candles table.
type CHSeriesSource struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

// NewCHSeriesSource validates the table identifier since it is interpolated into the query.
func NewCHSeriesSource(ch *pkgch.Client, table string) (*CHSeriesSource, error) {
	if !identRe.MatchString(table) {
		return nil, models.NewConfigurationError("source.table", "invalid table name %q", table)
	}
	return &CHSeriesSource{db: ch.DB(), table: table}, nil
}

// SetLogger injects a structured logger.
func (s *CHSeriesSource) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHSeriesSource) Name() string { return "clickhouse" }

func (s *CHSeriesSource) LoadSeries(ctx context.Context, symbol string) ([]models.PricePoint, error) {
	start := time.Now()
	const qtpl = `
        SELECT ts, open, high, low, close, volume
        FROM %s
        WHERE symbol = ?
        ORDER BY ts ASC
    `
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(qtpl, s.table), symbol)
	if err != nil {
		s.logErr("query", symbol, err)
		return nil, fmt.Errorf("load series: %w", err)
	}
	defer rows.Close()

	out := make([]models.PricePoint, 0, 1024)
	for rows.Next() {
		var p models.PricePoint
		if err := rows.Scan(&p.Timestamp, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume); err != nil {
			s.logErr("scan", symbol, err)
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		p.Timestamp = p.Timestamp.UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		s.logErr("rows", symbol, err)
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.l != nil {
		s.l.Info("clickhouse load_series ok",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration", time.Since(start)),
		)
	}
	return out, nil
}

func (s *CHSeriesSource) logErr(stage, symbol string, err error) {
	if s.l == nil {
		return
	}
	s.l.Error("clickhouse load_series "+stage+" error",
		applogger.String("table", s.table),
		applogger.String("symbol", symbol),
		applogger.Error(err),
	)
}

var _ domrepo.SeriesSource = (*CHSeriesSource)(nil)
