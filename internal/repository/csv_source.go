package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"NiftyQuant/internal/domain/models"
	domrepo "NiftyQuant/internal/domain/repository"
	applogger "NiftyQuant/pkg/logger"
	"NiftyQuant/pkg/util"
)

// CSVColumns is the canonical header of a series file.
var CSVColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

// column aliases produced by common exporters
var csvAliases = map[string]string{
	"datetime": "timestamp",
	"date":     "timestamp",
	"time":     "timestamp",
}

// CSVSource reads a single-symbol OHLCV file.
type CSVSource struct {
	path string
	l    *applogger.Logger
}

func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// SetLogger injects a structured logger.
func (s *CSVSource) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CSVSource) Name() string { return "csv" }

// LoadSeries reads the whole file. The symbol is only used for logging since a file holds one series.
func (s *CSVSource) LoadSeries(ctx context.Context, symbol string) ([]models.PricePoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open series csv: %w", err)
	}
	defer f.Close()

	out, err := ReadSeriesCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if s.l != nil {
		s.l.Info("csv series loaded",
			applogger.String("path", s.path),
			applogger.String("symbol", symbol),
			applogger.Int("rows", len(out)),
		)
	}
	return out, nil
}

// ReadSeriesCSV parses the canonical schema. Header names are matched case-insensitively;
// extra columns are ignored.
func ReadSeriesCSV(r io.Reader) ([]models.PricePoint, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &models.DataIntegrityError{Index: -1, Reason: "empty csv"}
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if alias, ok := csvAliases[name]; ok {
			name = alias
		}
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}
	var missing []string
	for _, c := range CSVColumns {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &models.DataIntegrityError{Index: -1, Reason: "missing columns: " + strings.Join(missing, ",")}
	}

	out := make([]models.PricePoint, 0, 1024)
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row, err)
		}
		p, err := parseSeriesRecord(rec, idx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func parseSeriesRecord(rec []string, idx map[string]int, row int) (models.PricePoint, error) {
	field := func(name string) (string, error) {
		i := idx[name]
		if i >= len(rec) {
			return "", &models.DataIntegrityError{Index: row, Reason: "short record, no " + name}
		}
		return strings.TrimSpace(rec[i]), nil
	}
	num := func(name string) (float64, error) {
		s, err := field(name)
		if err != nil {
			return 0, err
		}
		v, perr := strconv.ParseFloat(s, 64)
		if perr != nil {
			return 0, &models.DataIntegrityError{Index: row, Reason: fmt.Sprintf("bad %s %q", name, s)}
		}
		return v, nil
	}

	var p models.PricePoint
	ts, err := field("timestamp")
	if err != nil {
		return p, err
	}
	t, ok := util.ParseTime(ts)
	if !ok {
		return p, &models.DataIntegrityError{Index: row, Reason: fmt.Sprintf("bad timestamp %q", ts)}
	}
	p.Timestamp = t
	if p.Open, err = num("open"); err != nil {
		return p, err
	}
	if p.High, err = num("high"); err != nil {
		return p, err
	}
	if p.Low, err = num("low"); err != nil {
		return p, err
	}
	if p.Close, err = num("close"); err != nil {
		return p, err
	}
	vol, err := num("volume")
	if err != nil {
		return p, err
	}
	p.Volume = int64(vol)
	return p, nil
}

var _ domrepo.SeriesSource = (*CSVSource)(nil)
