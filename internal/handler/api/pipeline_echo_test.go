package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	models "NiftyQuant/internal/domain/models"
	domrepo "NiftyQuant/internal/domain/repository"
	"NiftyQuant/internal/service/cache"
	"NiftyQuant/internal/service/ratelimit"
	"NiftyQuant/internal/usecase"
	xlogger "NiftyQuant/pkg/logger"
)

type fakePipeline struct {
	res       *models.PipelineResult
	err       error
	runParams usecase.RunParams
	runs      int
	threshold float64
}

func (f *fakePipeline) Symbol() string { return "^NSEI" }

func (f *fakePipeline) Run(_ context.Context, p usecase.RunParams) (*models.PipelineResult, error) {
	f.runs++
	f.runParams = p
	if f.err != nil {
		return nil, f.err
	}
	next := *f.res
	next.RunID = fmt.Sprintf("run-%d", f.runs+1)
	f.res = &next
	return f.res, nil
}

func (f *fakePipeline) Current(context.Context) (*models.PipelineResult, error) {
	return f.res, f.err
}

func (f *fakePipeline) Anomalies(_ context.Context, threshold float64, limit int) (*models.PipelineResult, []models.Anomaly, error) {
	f.threshold = threshold
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.res, f.res.Anomalies, nil
}

func testResult() *models.PipelineResult {
	ts := time.Date(2024, 10, 1, 3, 45, 0, 0, time.UTC)
	rows := make([]models.SimulationRow, 3)
	for i := range rows {
		rows[i] = models.SimulationRow{
			FeatureRow: models.FeatureRow{
				PricePoint: models.PricePoint{Timestamp: ts.Add(time.Duration(i) * 5 * time.Minute), Open: 100, High: 101, Low: 99, Close: 100 + float64(i), Volume: 10},
				Return:     0.01, EMAFast: 100, EMASlow: 100, Volatility: 0.002, Momentum: 55,
				BandUpper: 102, BandLower: 98, ZScore: 0.5,
			},
			Regime: 1,
			Equity: 100000,
		}
	}
	rows[0].Return = models.Undefined()
	rows[0].ZScore = models.Undefined()
	rows[0].Regime = models.NoRegime
	return &models.PipelineResult{
		RunID:     "run-1",
		Symbol:    "^NSEI",
		CreatedAt: ts,
		Rows:      rows,
		Metrics:   models.Metrics{InitialCapital: 100000, FinalEquity: 100000, TradeCounting: "legs", Rows: 3},
		Regime:    &models.RegimeSummary{Checksum: "abc", Features: []string{"return", "volatility"}},
		Anomalies: []models.Anomaly{{Index: 2, Timestamp: ts, Close: 102, Return: 0.03, ZScore: 2.4, Direction: "shock_up"}},
	}
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(p Pipeline, c cache.BytesCache, lim *ratelimit.Limiter) (*echo.Echo, *PipelineEchoHandler) {
	e := echo.New()
	h := NewPipelineEchoHandler(xlogger.Nop(), p, c, time.Minute, lim)
	h.RegisterRoutes(e)
	return e, h
}

func do(e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestDataServesRowsWithNulls(t *testing.T) {
	e, _ := newTestServer(&fakePipeline{res: testResult()}, cache.NewTTLCache(), nil)

	rec, env := do(e, http.MethodGet, "/api/data", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		RunID string                   `json:"run_id"`
		Count int                      `json:"count"`
		Rows  []map[string]interface{} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "run-1", view.RunID)
	assert.Equal(t, 3, view.Count)
	assert.Nil(t, view.Rows[0]["return"])
	assert.Nil(t, view.Rows[0]["z_score"])
	assert.Nil(t, view.Rows[0]["regime"])
	assert.Equal(t, 0.01, view.Rows[1]["return"])
	assert.Equal(t, 1.0, view.Rows[1]["regime"])
}

func TestDataLimit(t *testing.T) {
	e, _ := newTestServer(&fakePipeline{res: testResult()}, nil, nil)

	rec, env := do(e, http.MethodGet, "/api/data?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view models.DataView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	require.Len(t, view.Rows, 1)
	assert.Equal(t, 102.0, view.Rows[0].Close)

	rec, _ = do(e, http.MethodGet, "/api/data?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDataCacheInvalidatedOnRefresh(t *testing.T) {
	c := cache.NewTTLCache()
	p := &fakePipeline{res: testResult()}
	e, _ := newTestServer(p, c, nil)
	key := cache.Key("data", "^NSEI", "run-1", "0")

	rec, _ := do(e, http.MethodGet, "/api/data", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cached, ok, err := c.GetBytes(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, rec.Body.String(), string(cached))

	rec, _ = do(e, http.MethodPost, "/api/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, ok, _ = c.GetBytes(context.Background(), key)
	assert.False(t, ok)

	_, env := do(e, http.MethodGet, "/api/data", "")
	var view models.DataView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "run-2", view.RunID)
}

func TestRefreshOverrides(t *testing.T) {
	p := &fakePipeline{res: testResult()}
	e, _ := newTestServer(p, nil, nil)

	rec, env := do(e, http.MethodPost, "/api/refresh", `{"capital":50000,"n_states":2,"reuse_model":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, usecase.RunParams{Capital: 50000, NStates: 2, ReuseModel: true}, p.runParams)

	var view models.RefreshView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "run-2", view.RunID)
	assert.Equal(t, 3, view.Rows)

	rec, _ = do(e, http.MethodPost, "/api/refresh", `{"fallback_regime":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, usecase.RunParams{RegimeFallback: true, FallbackRegime: 0}, p.runParams)

	rec, _ = do(e, http.MethodPost, "/api/refresh", `{"n_states":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = do(e, http.MethodPost, "/api/refresh", `{"capital":-5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = do(e, http.MethodPost, "/api/refresh", `{"fallback_regime":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 2, p.runs)
}

func TestRefreshRateLimited(t *testing.T) {
	e, _ := newTestServer(&fakePipeline{res: testResult()}, nil, ratelimit.New(0.001, 1))

	rec, _ := do(e, http.MethodPost, "/api/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec, env := do(e, http.MethodPost, "/api/refresh", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, string(env.Data), "ERR_RATE_LIMITED")
}

func TestSummary(t *testing.T) {
	e, _ := newTestServer(&fakePipeline{res: testResult()}, nil, nil)
	rec, env := do(e, http.MethodGet, "/api/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view models.SummaryView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, 100000.0, view.Metrics.InitialCapital)
	require.NotNil(t, view.Regime)
	assert.Equal(t, "abc", view.Regime.Checksum)
	assert.Equal(t, 1, view.Anomalies)
}

func TestAnomalies(t *testing.T) {
	p := &fakePipeline{res: testResult()}
	e, _ := newTestServer(p, nil, nil)

	rec, env := do(e, http.MethodGet, "/api/anomalies?z=2.5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.5, p.threshold)
	var view models.AnomaliesView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, 1, view.Count)
	assert.Equal(t, "shock_up", view.Anomalies[0].Direction)

	_, _ = do(e, http.MethodGet, "/api/anomalies", "")
	assert.Equal(t, 2.0, p.threshold)

	rec, _ = do(e, http.MethodGet, "/api/anomalies?z=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"configuration", models.NewConfigurationError("capital", "must be positive"), http.StatusBadRequest, "ERR_CONFIGURATION"},
		{"insufficient history", fmt.Errorf("features: %w", &models.InsufficientHistoryError{Op: "pipeline", Need: 22, Have: 5}), http.StatusUnprocessableEntity, "ERR_INSUFFICIENT_HISTORY"},
		{"data integrity", &models.DataIntegrityError{Index: 3, Reason: "duplicate timestamp"}, http.StatusUnprocessableEntity, "ERR_DATA_INTEGRITY"},
		{"regime fit", fmt.Errorf("regimes: %w", &models.RegimeFitError{Reason: "fewer rows than states"}), http.StatusInternalServerError, "ERR_REGIME_FIT"},
		{"not found", domrepo.ErrNotFound, http.StatusNotFound, "ERR_NOT_FOUND"},
		{"breaker open", fmt.Errorf("load series: %w", gobreaker.ErrOpenState), http.StatusServiceUnavailable, "ERR_UNAVAILABLE"},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, "ERR_INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := newTestServer(&fakePipeline{err: tc.err}, nil, nil)
			for _, path := range []string{"/api/data", "/api/summary"} {
				rec, env := do(e, http.MethodGet, path, "")
				assert.Equal(t, tc.status, rec.Code, path)
				assert.Equal(t, tc.status, env.Status, path)
				var errs []map[string]interface{}
				require.NoError(t, json.Unmarshal(env.Data, &errs))
				require.Len(t, errs, 1)
				assert.Equal(t, tc.code, errs[0]["code"])
			}
		})
	}
}
