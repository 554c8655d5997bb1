package service

import (
	"NiftyQuant/internal/domain/models"
)

// FeatureEngine derives indicator columns from a price series.
type FeatureEngine interface {
	Compute(series []models.PricePoint) ([]models.FeatureRow, error)
}

// RegimeModel is a fitted, immutable regime classifier.
type RegimeModel interface {
	Predict(rows []models.FeatureRow) ([]models.RegimeRow, error)
	Summary() models.RegimeSummary
	Checksum() string
	MarshalJSON() ([]byte, error)
}

// RegimeDetector fits regime models and restores persisted ones.
type RegimeDetector interface {
	FitRegimes(rows []models.FeatureRow, nStates int) (RegimeModel, []models.RegimeRow, error)
	RestoreModel(data []byte) (RegimeModel, error)
}

// StrategySimulator turns indicator rows into positions and an equity curve.
type StrategySimulator interface {
	Run(rows []models.FeatureRow, capital float64) (*models.Backtest, error)
	RunWithRegimes(rows []models.RegimeRow, capital float64) (*models.Backtest, error)
}
