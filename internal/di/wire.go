//go:build wireinject
// +build wireinject

package di

import (
	"NiftyQuant/pkg/config"
	"NiftyQuant/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideRedisClient,

		// Repositories
		ProvideSeriesSource,
		ProvideResultStore,
		ProvideModelStore,
		ProvideResponseCache,
		ProvideEventPublisher,

		// Core
		ProvideFeatureEngine,
		ProvideRegimeDetector,
		ProvideSimulator,

		// Use cases
		ProvidePipeline,

		// Transport
		ProvideRefreshLimiter,
		ProvideHTTPHandler,
		ProvideApp,
	)
	return nil, nil, nil
}
