package yahoo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chartBody = `{"chart":{"result":[{"meta":{"symbol":"^NSEI","exchangeTimezoneName":"Asia/Kolkata"},
"timestamp":[1727754300,1727754600,1727754900],
"indicators":{"quote":[{"open":[25800.5,25810.0,null],"high":[25820.0,25830.0,25840.0],
"low":[25790.0,25800.0,25810.0],"close":[25810.0,25825.5,25830.0],"volume":[0,1200,1500]}]}}],"error":null}}`

func TestLoadSeries(t *testing.T) {
	var gotPath, gotRange, gotInterval string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotRange = r.URL.Query().Get("range")
		gotInterval = r.URL.Query().Get("interval")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chartBody))
	}))
	defer srv.Close()

	src := NewSource(Config{BaseURL: srv.URL, Range: "60d", Interval: "5m"}, nil)
	series, err := src.LoadSeries(context.Background(), "^NSEI")
	require.NoError(t, err)

	assert.Equal(t, "/v8/finance/chart/%5ENSEI", gotPath)
	assert.Equal(t, "60d", gotRange)
	assert.Equal(t, "5m", gotInterval)
	require.Len(t, series, 2)
	assert.Equal(t, time.Unix(1727754300, 0).UTC(), series[0].Timestamp)
	assert.Equal(t, 25810.0, series[0].Close)
	assert.Equal(t, int64(1200), series[1].Volume)
}

func TestLoadSeriesChartError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
	}))
	defer srv.Close()

	_, err := NewSource(Config{BaseURL: srv.URL}, nil).LoadSeries(context.Background(), "^BOGUS")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No data found")
}

func TestBreakerOpensOnUpstreamFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewSource(Config{BaseURL: srv.URL, MaxFailures: 2, OpenTimeout: time.Minute}, nil)
	for i := 0; i < 2; i++ {
		_, err := src.LoadSeries(context.Background(), "^NSEI")
		require.Error(t, err)
	}
	_, err := src.LoadSeries(context.Background(), "^NSEI")
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "open", src.State())
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src := NewSource(Config{BaseURL: srv.URL, MaxFailures: 1, OpenTimeout: time.Minute}, nil)
	for i := 0; i < 3; i++ {
		_, err := src.LoadSeries(context.Background(), "^NSEI")
		require.Error(t, err)
		assert.False(t, errors.Is(err, gobreaker.ErrOpenState))
	}
	assert.Equal(t, "closed", src.State())
}
