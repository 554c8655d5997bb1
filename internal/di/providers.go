package di

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"NiftyQuant/internal/domain/repository"
	domsvc "NiftyQuant/internal/domain/service"
	"NiftyQuant/internal/handler/api"
	internalrepo "NiftyQuant/internal/repository"
	"NiftyQuant/internal/service/cache"
	"NiftyQuant/internal/service/ratelimit"
	"NiftyQuant/internal/service/yahoo"
	"NiftyQuant/internal/services/analytics"
	"NiftyQuant/internal/services/features"
	"NiftyQuant/internal/services/strategy"
	"NiftyQuant/internal/usecase"
	pkgch "NiftyQuant/pkg/clickhouse"
	"NiftyQuant/pkg/config"
	xhttp "NiftyQuant/pkg/http"
	pkgkafka "NiftyQuant/pkg/kafka"
	"NiftyQuant/pkg/logger"
	"NiftyQuant/pkg/metrics"
	"NiftyQuant/pkg/server"
)

// ProvideLogger creates the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder on the default registry.
func ProvideMetrics() repository.Metrics {
	return metrics.New(nil)
}

// ProvideClickHouseClient connects only when a component needs ClickHouse; otherwise it returns nil.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.UsesClickHouse() {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideRedisClient opens a shared pool when the model store or response cache uses Redis.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.UsesRedis() {
		return nil, func() {}, nil
	}
	rdb := cache.NewRedisClient(cache.RedisConfig{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, func() { _ = rdb.Close() }, nil
}

// ProvideSeriesSource selects the configured data source.
func ProvideSeriesSource(cfg *config.Config, ch *pkgch.Client, l *logger.Logger) (repository.SeriesSource, error) {
	switch cfg.Source.Type {
	case "csv":
		src := internalrepo.NewCSVSource(cfg.Source.CSVPath)
		src.SetLogger(l.Component("csv_source"))
		return src, nil
	case "clickhouse":
		src, err := internalrepo.NewCHSeriesSource(ch, cfg.Source.Table)
		if err != nil {
			return nil, err
		}
		src.SetLogger(l.Component("clickhouse_source"))
		return src, nil
	default:
		y := cfg.Source.Yahoo
		return yahoo.NewSource(yahoo.Config{
			BaseURL:     y.BaseURL,
			Range:       y.Range,
			Interval:    repository.Interval(y.Interval),
			Timeout:     y.Timeout,
			MaxFailures: y.MaxFailures,
			OpenTimeout: y.OpenTimeout,
		}, l.Component("yahoo_source")), nil
	}
}

// ProvideResultStore selects the result store and ensures its schema.
func ProvideResultStore(cfg *config.Config, ch *pkgch.Client, l *logger.Logger) (repository.ResultStore, error) {
	if cfg.Store.Results != "clickhouse" {
		return internalrepo.NewMemoryResultStore(), nil
	}
	store := internalrepo.NewCHResultStore(ch)
	store.SetLogger(l.Component("result_store"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("result store schema: %w", err)
	}
	return store, nil
}

// ProvideModelStore selects where fitted regime models are kept.
func ProvideModelStore(cfg *config.Config, rdb *redis.Client, l *logger.Logger) repository.ModelStore {
	if cfg.Store.Models != "redis" {
		return internalrepo.NewMemoryModelStore()
	}
	store := internalrepo.NewRedisModelStore(rdb)
	store.SetLogger(l.Component("model_store"))
	return store
}

// ProvideResponseCache selects the /api/data response cache.
func ProvideResponseCache(cfg *config.Config, rdb *redis.Client) cache.BytesCache {
	if cfg.Serve.Cache == "redis" {
		return cache.NewRedisCache(rdb, "niftyquant")
	}
	return cache.NewTTLCache()
}

// ProvideEventPublisher returns a Kafka publisher when enabled, otherwise a no-op.
func ProvideEventPublisher(cfg *config.Config, l *logger.Logger) (repository.EventPublisher, func(), error) {
	if !cfg.Kafka.Enabled {
		return internalrepo.NoopPublisher{}, func() {}, nil
	}
	k := cfg.Kafka
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithTarget(k.Topic, k.Brokers...),
		pkgkafka.WithDelivery(k.RequiredAcks, k.Producer.MaxAttempts, k.Producer.Async),
		pkgkafka.WithBatching(k.Producer.BatchSize, k.Producer.BatchBytes, k.Producer.Linger),
		pkgkafka.WithCompression(k.Compression),
		pkgkafka.WithTimeouts(k.Producer.WriteTimeout, k.Producer.ReadTimeout),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	pub := internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topic)
	pub.SetLogger(l.Component("event_publisher"))
	return pub, func() { _ = pub.Close() }, nil
}

// FeatureParams maps the pipeline section onto indicator parameters.
func FeatureParams(cfg *config.Config) features.Params {
	p := cfg.Pipeline
	return features.Params{
		FastSpan:         p.FastSpan,
		SlowSpan:         p.SlowSpan,
		VolatilityWindow: p.VolatilityWindow,
		MomentumWindow:   p.MomentumWindow,
		BandWindow:       p.BandWindow,
		BandDeviations:   p.BandDeviations,
	}
}

// ProvideFeatureEngine creates the indicator engine.
func ProvideFeatureEngine(cfg *config.Config, l *logger.Logger) domsvc.FeatureEngine {
	e := features.NewEngine(features.WithParams(FeatureParams(cfg)))
	e.SetLogger(l.Component("features"))
	return e
}

// ProvideRegimeDetector creates the HMM regime detector.
func ProvideRegimeDetector(cfg *config.Config, l *logger.Logger) domsvc.RegimeDetector {
	r := cfg.Pipeline.Regime
	d := analytics.NewDetector(analytics.WithDetectorConfig(analytics.DetectorConfig{
		Scale:    r.Scale,
		MinCovar: r.MinCovar,
		MaxIter:  r.MaxIter,
		Tol:      r.Tol,
		Seed:     r.Seed,
	}))
	d.SetLogger(l.Component("regimes"))
	return d
}

// ProvideSimulator creates the strategy simulator.
func ProvideSimulator(cfg *config.Config, l *logger.Logger) domsvc.StrategySimulator {
	s := strategy.NewSimulator(strategy.WithTradeCounting(cfg.Pipeline.TradeCounting))
	s.SetLogger(l.Component("strategy"))
	return s
}

// PipelineConfig maps configuration onto use case defaults.
func PipelineConfig(cfg *config.Config) usecase.PipelineConfig {
	p := cfg.Pipeline
	return usecase.PipelineConfig{
		Symbol:           cfg.Source.Symbol,
		InitialCapital:   p.InitialCapital,
		NStates:          p.NStates,
		OutlierThreshold: p.OutlierThreshold,
		ReuseModel:       p.ReuseModel,
		RegimeFallback:   p.RegimeFallback,
		FallbackRegime:   p.FallbackRegime,
		ModelKey:         cfg.Store.ModelKey,
		AutoRefresh:      cfg.Serve.AutoRefresh,
		RunTimeout:       cfg.Serve.RunTimeout,
		Features:         FeatureParams(cfg),
	}
}

// ProvidePipeline assembles the pipeline use case.
func ProvidePipeline(
	cfg *config.Config,
	l *logger.Logger,
	source repository.SeriesSource,
	engine domsvc.FeatureEngine,
	detector domsvc.RegimeDetector,
	sim domsvc.StrategySimulator,
	results repository.ResultStore,
	modelStore repository.ModelStore,
	events repository.EventPublisher,
	m repository.Metrics,
) *usecase.PipelineUseCase {
	uc := usecase.NewPipelineUseCase(PipelineConfig(cfg), source, engine, detector, sim, results, modelStore, events, m)
	uc.SetLogger(l.Component("pipeline"))
	return uc
}

// ProvideRefreshLimiter limits POST /api/refresh per client.
func ProvideRefreshLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Serve.RefreshRate, cfg.Serve.RefreshBurst)
}

// ProvideHTTPHandler creates the echo route handler.
func ProvideHTTPHandler(cfg *config.Config, l *logger.Logger, uc *usecase.PipelineUseCase, c cache.BytesCache, lim *ratelimit.Limiter) xhttp.Handler {
	return api.NewPipelineEchoHandler(l.Component("api"), uc, c, cfg.Serve.CacheTTL, lim)
}

// ProvideApp creates the application server.
func ProvideApp(cfg *config.Config, l *logger.Logger, h xhttp.Handler, uc *usecase.PipelineUseCase) *server.App {
	return server.New(cfg, l, h, uc)
}
