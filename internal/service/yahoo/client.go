package yahoo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"NiftyQuant/internal/domain/models"
	"NiftyQuant/internal/domain/repository"
	xhttp "NiftyQuant/pkg/http"
	"NiftyQuant/pkg/logger"
)

// Config controls the chart endpoint request and the circuit breaker.
type Config struct {
	BaseURL     string
	Range       string
	Interval    repository.Interval
	Timeout     time.Duration
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Source loads OHLCV bars from the Yahoo Finance chart API.
type Source struct {
	cfg     Config
	client  *xhttp.Client
	breaker *gobreaker.CircuitBreaker
	log     *logger.Logger
}

// NewSource creates a chart API source. Consecutive upstream failures open the breaker
// so a refresh storm does not hammer the provider.
func NewSource(cfg Config, log *logger.Logger) *Source {
	if cfg.Range == "" {
		cfg.Range = "60d"
	}
	cfg.Interval = repository.NormalizeInterval(string(cfg.Interval))
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	s := &Source{
		cfg: cfg,
		client: xhttp.NewClient(
			xhttp.WithTimeout(cfg.Timeout),
			xhttp.WithUserAgent("Mozilla/5.0 (compatible; NiftyQuant/1.0)"),
		),
		log: log,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "yahoo-chart",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// client errors (unknown symbol, bad range) say nothing about upstream health
			var se *xhttp.StatusError
			return errors.As(err, &se) && !se.Temporary()
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if log != nil {
				log.Warn("circuit breaker state changed",
					logger.String("breaker", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()),
				)
			}
		},
	})
	return s
}

// Name identifies the source in metrics and logs.
func (s *Source) Name() string { return "yahoo" }

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol   string `json:"symbol"`
				Timezone string `json:"exchangeTimezoneName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// LoadSeries fetches bars for symbol. Bars with any null field are skipped.
func (s *Source) LoadSeries(ctx context.Context, symbol string) ([]models.PricePoint, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, fmt.Errorf("yahoo: symbol is required")
	}
	out, err := s.breaker.Execute(func() (interface{}, error) {
		var resp chartResponse
		err := s.client.DoJSON(ctx, xhttp.Request{
			URL: strings.TrimRight(s.cfg.BaseURL, "/") + "/v8/finance/chart/" + url.PathEscape(symbol),
			Query: url.Values{
				"range":    {s.cfg.Range},
				"interval": {string(s.cfg.Interval)},
			},
		}, &resp)
		if err != nil {
			return nil, err
		}
		return &resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("yahoo chart %s: %w", symbol, err)
	}
	resp := out.(*chartResponse)
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart %s: %s: %s", symbol, resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, &models.DataIntegrityError{Index: -1, Reason: "yahoo chart returned no quotes for " + symbol}
	}
	res := resp.Chart.Result[0]
	q := res.Indicators.Quote[0]
	n := len(res.Timestamp)
	if len(q.Open) != n || len(q.High) != n || len(q.Low) != n || len(q.Close) != n || len(q.Volume) != n {
		return nil, &models.DataIntegrityError{Index: -1, Reason: "yahoo chart column lengths differ"}
	}

	series := make([]models.PricePoint, 0, n)
	skipped := 0
	for i, ts := range res.Timestamp {
		if q.Open[i] == nil || q.High[i] == nil || q.Low[i] == nil || q.Close[i] == nil || q.Volume[i] == nil {
			skipped++
			continue
		}
		series = append(series, models.PricePoint{
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      *q.Open[i],
			High:      *q.High[i],
			Low:       *q.Low[i],
			Close:     *q.Close[i],
			Volume:    *q.Volume[i],
		})
	}
	if s.log != nil {
		s.log.Info("yahoo series loaded",
			logger.String("symbol", symbol),
			logger.String("range", s.cfg.Range),
			logger.String("interval", string(s.cfg.Interval)),
			logger.Int("rows", len(series)),
			logger.Int("skipped", skipped),
		)
	}
	return series, nil
}

// State exposes the breaker state for health reporting.
func (s *Source) State() string { return s.breaker.State().String() }

var _ repository.SeriesSource = (*Source)(nil)
