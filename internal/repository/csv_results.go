package repository

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"NiftyQuant/internal/domain/models"
	"NiftyQuant/pkg/util"
)

var resultColumns = []string{
	"timestamp", "open", "high", "low", "close", "volume",
	"return", "ema_fast", "ema_slow", "volatility", "momentum_index",
	"band_upper", "band_lower", "z_score", "regime",
	"signal", "position", "market_return", "strategy_return", "equity",
}

// WriteResultsCSV writes simulation rows with undefined values as empty cells.
func WriteResultsCSV(w io.Writer, rows []models.SimulationRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(resultColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	rec := make([]string, len(resultColumns))
	for _, r := range rows {
		rec = rec[:0]
		rec = append(rec,
			util.FormatTime(r.Timestamp),
			fmtFloat(r.Open), fmtFloat(r.High), fmtFloat(r.Low), fmtFloat(r.Close),
			strconv.FormatInt(r.Volume, 10),
			fmtFloat(r.Return), fmtFloat(r.EMAFast), fmtFloat(r.EMASlow),
			fmtFloat(r.Volatility), fmtFloat(r.Momentum),
			fmtFloat(r.BandUpper), fmtFloat(r.BandLower), fmtFloat(r.ZScore),
			fmtRegime(r.Regime),
			strconv.Itoa(r.Signal), strconv.Itoa(r.Position),
			fmtFloat(r.MarketReturn), fmtFloat(r.StrategyReturn), fmtFloat(r.Equity),
		)
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func fmtFloat(v float64) string {
	if !models.IsDefined(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fmtRegime(r int) string {
	if r == models.NoRegime {
		return ""
	}
	return strconv.Itoa(r)
}
