package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sony/gobreaker"

	models "NiftyQuant/internal/domain/models"
	domrepo "NiftyQuant/internal/domain/repository"
	"NiftyQuant/internal/service/cache"
	apimetrics "NiftyQuant/internal/service/metrics"
	"NiftyQuant/internal/service/ratelimit"
	"NiftyQuant/internal/usecase"
	xhttp "NiftyQuant/pkg/http"
	xlogger "NiftyQuant/pkg/logger"
)

// Pipeline is the use case surface the handlers need.
type Pipeline interface {
	Symbol() string
	Run(ctx context.Context, p usecase.RunParams) (*models.PipelineResult, error)
	Current(ctx context.Context) (*models.PipelineResult, error)
	Anomalies(ctx context.Context, threshold float64, limit int) (*models.PipelineResult, []models.Anomaly, error)
}

// PipelineEchoHandler serves pipeline results over echo.
type PipelineEchoHandler struct {
	logger   *xlogger.Logger
	pipeline Pipeline
	cache    cache.BytesCache
	cacheTTL time.Duration
	limiter  *ratelimit.Limiter

	mu         sync.Mutex
	cachedKeys map[string]struct{}
}

func NewPipelineEchoHandler(logger *xlogger.Logger, pipeline Pipeline, c cache.BytesCache, cacheTTL time.Duration, limiter *ratelimit.Limiter) *PipelineEchoHandler {
	apimetrics.Register()
	return &PipelineEchoHandler{
		logger:     logger,
		pipeline:   pipeline,
		cache:      c,
		cacheTTL:   cacheTTL,
		limiter:    limiter,
		cachedKeys: make(map[string]struct{}),
	}
}

func (h *PipelineEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/data", h.Data)
	g.POST("/refresh", h.Refresh)
	g.GET("/summary", h.Summary)
	g.GET("/anomalies", h.Anomalies)
}

// Data returns the processed rows of the latest run, most recent limit rows when limit > 0.
func (h *PipelineEchoHandler) Data(c echo.Context) error {
	const endpoint = "data"
	defer apimetrics.ObserveSince(endpoint, time.Now())

	req := &models.DataRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	res, err := h.pipeline.Current(ctx)
	if err != nil {
		return h.fail(c, endpoint, err)
	}

	key := cache.Key("data", res.Symbol, res.RunID, strconv.Itoa(req.Limit))
	if h.cache != nil {
		if b, ok, err := h.cache.GetBytes(ctx, key); err == nil && ok {
			apimetrics.CacheResults.WithLabelValues(endpoint, "hit").Inc()
			return c.JSONBlob(http.StatusOK, b)
		} else if err != nil {
			h.logger.Warn("response cache get failed", xlogger.String("key", key), xlogger.Error(err))
		}
		apimetrics.CacheResults.WithLabelValues(endpoint, "miss").Inc()
	}

	rows := usecase.TailRows(res.Rows, req.Limit)
	view := models.DataView{
		RunID:     res.RunID,
		Symbol:    res.Symbol,
		CreatedAt: res.CreatedAt,
		Count:     len(rows),
		Rows:      make([]models.RowView, len(rows)),
	}
	for i, r := range rows {
		view.Rows[i] = models.NewRowView(r)
	}
	body, err := json.Marshal(xhttp.APIResponse{Status: http.StatusOK, Message: http.StatusText(http.StatusOK), Data: view})
	if err != nil {
		return h.fail(c, endpoint, err)
	}
	if h.cache != nil {
		if err := h.cache.SetBytes(ctx, key, body, h.cacheTTL); err != nil {
			h.logger.Warn("response cache set failed", xlogger.String("key", key), xlogger.Error(err))
		} else {
			h.mu.Lock()
			h.cachedKeys[key] = struct{}{}
			h.mu.Unlock()
		}
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return c.JSONBlob(http.StatusOK, body)
}

// Refresh recomputes the pipeline now. The optional body overrides capital, state count and model reuse.
func (h *PipelineEchoHandler) Refresh(c echo.Context) error {
	const endpoint = "refresh"
	defer apimetrics.ObserveSince(endpoint, time.Now())

	if h.limiter != nil && !h.limiter.Allow(c.RealIP()) {
		apimetrics.APIErrors.WithLabelValues(endpoint, "ERR_RATE_LIMITED").Inc()
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("refresh rate limit exceeded, retry later"))
	}
	req := &models.RefreshRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	params := usecase.RunParams{
		Capital:    req.Capital,
		NStates:    req.States,
		ReuseModel: req.ReuseModel,
	}
	if req.FallbackRegime != nil {
		params.RegimeFallback = true
		params.FallbackRegime = *req.FallbackRegime
	}
	res, err := h.pipeline.Run(c.Request().Context(), params)
	if err != nil {
		return h.fail(c, endpoint, err)
	}
	h.invalidate(c.Request().Context())

	return xhttp.SuccessResponse(c, models.RefreshView{
		Message: "pipeline refreshed",
		RunID:   res.RunID,
		Rows:    len(res.Rows),
		Metrics: models.NewMetricsView(res.Metrics),
	})
}

// Summary returns metrics and the regime model description of the latest run.
func (h *PipelineEchoHandler) Summary(c echo.Context) error {
	const endpoint = "summary"
	defer apimetrics.ObserveSince(endpoint, time.Now())

	res, err := h.pipeline.Current(c.Request().Context())
	if err != nil {
		return h.fail(c, endpoint, err)
	}
	return xhttp.SuccessResponse(c, models.SummaryView{
		RunID:         res.RunID,
		Symbol:        res.Symbol,
		CreatedAt:     res.CreatedAt,
		WarmupDropped: res.WarmupDropped,
		Metrics:       models.NewMetricsView(res.Metrics),
		Regime:        res.Regime,
		Anomalies:     len(res.Anomalies),
	})
}

// Anomalies returns rows whose return z-score exceeds z.
func (h *PipelineEchoHandler) Anomalies(c echo.Context) error {
	const endpoint = "anomalies"
	defer apimetrics.ObserveSince(endpoint, time.Now())

	req := &models.AnomalyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, out, err := h.pipeline.Anomalies(c.Request().Context(), req.Threshold, req.Limit)
	if err != nil {
		return h.fail(c, endpoint, err)
	}
	if out == nil {
		out = []models.Anomaly{}
	}
	return xhttp.SuccessResponse(c, models.AnomaliesView{
		RunID:     res.RunID,
		Symbol:    res.Symbol,
		Threshold: req.Threshold,
		Count:     len(out),
		Anomalies: out,
	})
}

func (h *PipelineEchoHandler) invalidate(ctx context.Context) {
	if h.cache == nil {
		return
	}
	h.mu.Lock()
	keys := make([]string, 0, len(h.cachedKeys))
	for k := range h.cachedKeys {
		keys = append(keys, k)
	}
	h.cachedKeys = make(map[string]struct{})
	h.mu.Unlock()
	if len(keys) == 0 {
		return
	}
	if err := h.cache.Delete(ctx, keys...); err != nil {
		h.logger.Warn("response cache invalidation failed", xlogger.Int("keys", len(keys)), xlogger.Error(err))
	}
}

func (h *PipelineEchoHandler) fail(c echo.Context, endpoint string, err error) error {
	appErr := toAppError(err)
	apimetrics.APIErrors.WithLabelValues(endpoint, appErr.Code).Inc()
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error("pipeline request failed",
			xlogger.String("endpoint", endpoint),
			xlogger.String("code", appErr.Code),
			xlogger.Error(err),
		)
	} else {
		h.logger.Info("pipeline request rejected",
			xlogger.String("endpoint", endpoint),
			xlogger.String("code", appErr.Code),
			xlogger.Error(err),
		)
	}
	return xhttp.AppErrorResponse(c, appErr)
}

// toAppError maps core errors to HTTP errors. This is the only place they become statuses.
func toAppError(err error) *xhttp.AppError {
	var (
		cfgErr  *models.ConfigurationError
		histErr *models.InsufficientHistoryError
		dataErr *models.DataIntegrityError
		fitErr  *models.RegimeFitError
	)
	switch {
	case errors.As(err, &cfgErr):
		return xhttp.NewAppError("ERR_CONFIGURATION", cfgErr.Field, cfgErr.Error(), http.StatusBadRequest).WithError(err)
	case errors.As(err, &histErr):
		return xhttp.UnprocessableError("ERR_INSUFFICIENT_HISTORY", histErr.Error()).
			WithParam("need", histErr.Need).
			WithParam("have", histErr.Have).
			WithError(err)
	case errors.As(err, &dataErr):
		return xhttp.UnprocessableError("ERR_DATA_INTEGRITY", dataErr.Error()).WithError(err)
	case errors.As(err, &fitErr):
		return xhttp.NewAppError("ERR_REGIME_FIT", "", fitErr.Error(), http.StatusInternalServerError).WithError(err)
	case errors.Is(err, domrepo.ErrNotFound):
		return xhttp.NotFoundError("no pipeline result yet, POST /api/refresh to compute one").WithError(err)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, context.DeadlineExceeded):
		return xhttp.UnavailableError("data source unavailable, retry later").WithError(err)
	default:
		return xhttp.InternalError("pipeline failed").WithError(err)
	}
}
