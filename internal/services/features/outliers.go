package features

import (
	"math"

	"NiftyQuant/internal/domain/models"
)

// DefaultOutlierThreshold is the |z| above which a return is reported.
const DefaultOutlierThreshold = 2.0

const (
	DirectionUp   = "shock_up"
	DirectionDown = "shock_down"
)

// Outliers reports rows whose return z-score magnitude exceeds threshold.
// A non-positive threshold uses DefaultOutlierThreshold.
func Outliers(rows []models.FeatureRow, threshold float64) []models.Anomaly {
	if !(threshold > 0) {
		threshold = DefaultOutlierThreshold
	}
	var out []models.Anomaly
	for i, r := range rows {
		if !models.IsDefined(r.ZScore) || math.Abs(r.ZScore) <= threshold {
			continue
		}
		dir := DirectionUp
		if r.ZScore < 0 {
			dir = DirectionDown
		}
		out = append(out, models.Anomaly{
			Index:     i,
			Timestamp: r.Timestamp,
			Close:     r.Close,
			Return:    r.Return,
			ZScore:    r.ZScore,
			Direction: dir,
		})
	}
	return out
}
