package repository

import (
	"context"
	"errors"

	"NiftyQuant/internal/domain/models"
)

// ErrNotFound is returned by stores when nothing has been saved for a key.
var ErrNotFound = errors.New("not found")

// SeriesSource loads a raw OHLCV series in the canonical schema.
type SeriesSource interface {
	Name() string
	LoadSeries(ctx context.Context, symbol string) ([]models.PricePoint, error)
}

// ResultStore persists processed pipeline runs.
type ResultStore interface {
	Init(ctx context.Context) error // ensure tables
	SaveRun(ctx context.Context, r *models.PipelineResult) error
	LatestRun(ctx context.Context, symbol string) (*models.PipelineResult, error)
	Close() error
}

// ModelStore persists serialized regime models with their checksum.
type ModelStore interface {
	SaveModel(ctx context.Context, key string, data []byte, checksum string) error
	LoadModel(ctx context.Context, key string) ([]byte, error)
}

// EventPublisher announces completed pipeline runs.
type EventPublisher interface {
	PublishRunCompleted(ctx context.Context, r *models.PipelineResult) error
	Close() error
}

// Metrics records pipeline observations.
type Metrics interface {
	RecordRun(source, status string, seconds float64)
	RecordStage(stage string, seconds float64)
	RecordRows(symbol string, n int)
	RecordFinalEquity(symbol string, equity float64)
	RecordError(kind string)
}
