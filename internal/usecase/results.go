package usecase

import (
	"context"

	"NiftyQuant/internal/domain/models"
	"NiftyQuant/internal/services/features"
)

// TailRows returns the most recent limit rows. A non-positive limit returns all rows.
func TailRows(rows []models.SimulationRow, limit int) []models.SimulationRow {
	if limit <= 0 || limit >= len(rows) {
		return rows
	}
	return rows[len(rows)-limit:]
}

// Anomalies re-evaluates the current result at threshold and returns at most limit
// anomalies, most recent last.
func (uc *PipelineUseCase) Anomalies(ctx context.Context, threshold float64, limit int) (*models.PipelineResult, []models.Anomaly, error) {
	res, err := uc.Current(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows := make([]models.FeatureRow, len(res.Rows))
	for i := range res.Rows {
		rows[i] = res.Rows[i].FeatureRow
	}
	out := features.Outliers(rows, threshold)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return res, out, nil
}
