package repository

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NiftyQuant/internal/domain/models"
)

func TestReadSeriesCSV(t *testing.T) {
	in := "Datetime,Open,High,Low,Close,Adj Close,Volume\n" +
		"2024-10-01 09:15:00+05:30,25800.5,25820,25790,25810,25810,0\n" +
		"2024-10-01 09:20:00+05:30,25810,25830,25800,25825.5,25825.5,1200.0\n"

	got, err := ReadSeriesCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Timestamp.Equal(time.Date(2024, 10, 1, 3, 45, 0, 0, time.UTC)))
	assert.Equal(t, 25825.5, got[1].Close)
	assert.Equal(t, int64(1200), got[1].Volume)
}

func TestReadSeriesCSVMissingColumns(t *testing.T) {
	_, err := ReadSeriesCSV(strings.NewReader("timestamp,open,close\n2024-10-01,1,2\n"))
	var die *models.DataIntegrityError
	require.True(t, errors.As(err, &die))
	assert.Contains(t, die.Reason, "high")
	assert.Contains(t, die.Reason, "volume")
}

func TestReadSeriesCSVBadValues(t *testing.T) {
	cases := map[string]string{
		"price":     "timestamp,open,high,low,close,volume\n2024-10-01,1,2,0.5,abc,10\n",
		"timestamp": "timestamp,open,high,low,close,volume\nyesterday,1,2,0.5,1,10\n",
		"empty":     "",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadSeriesCSV(strings.NewReader(in))
			var die *models.DataIntegrityError
			assert.True(t, errors.As(err, &die), "got %v", err)
		})
	}
}

func TestCSVSourceLoadSeries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nifty.csv")
	require.NoError(t, os.WriteFile(path, []byte("timestamp,open,high,low,close,volume\n1727754300,1,2,0.5,1.5,10\n"), 0o600))

	src := NewCSVSource(path)
	assert.Equal(t, "csv", src.Name())
	got, err := src.LoadSeries(context.Background(), "^NSEI")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1.5, got[0].Close)

	_, err = NewCSVSource(filepath.Join(t.TempDir(), "missing.csv")).LoadSeries(context.Background(), "^NSEI")
	assert.Error(t, err)
}

func TestWriteResultsCSV(t *testing.T) {
	row := models.SimulationRow{
		FeatureRow: models.FeatureRow{
			PricePoint: models.PricePoint{
				Timestamp: time.Date(2024, 10, 1, 3, 45, 0, 0, time.UTC),
				Open:      100, High: 101, Low: 99, Close: 100.5, Volume: 7,
			},
			Return:     models.Undefined(),
			EMAFast:    100.5,
			EMASlow:    100.5,
			Volatility: models.Undefined(),
			Momentum:   models.Undefined(),
			BandUpper:  models.Undefined(),
			BandLower:  models.Undefined(),
			ZScore:     models.Undefined(),
		},
		Regime: models.NoRegime,
		Equity: 100000,
	}
	var buf bytes.Buffer
	require.NoError(t, WriteResultsCSV(&buf, []models.SimulationRow{row}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "timestamp,open,high,low,close,volume,return"))
	assert.Equal(t, "2024-10-01T03:45:00Z,100,101,99,100.5,7,,100.5,100.5,,,,,,,0,0,0,0,100000", lines[1])

	// written rows read back through the canonical schema
	back, err := ReadSeriesCSV(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, row.PricePoint, back[0])
}
