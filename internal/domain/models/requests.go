package models

// Requests for pipeline HTTP endpoints. Defined in domain for consistency and reuse.

type DataRequest struct {
	Limit int `query:"limit" json:"limit" default:"0" validate:"gte=0,lte=100000"`
}

type RefreshRequest struct {
	Capital    float64 `json:"capital" validate:"omitempty,gt=0"`
	States     int     `json:"n_states" validate:"omitempty,gte=2,lte=8"`
	ReuseModel bool    `json:"reuse_model"`
	// FallbackRegime, when present, labels rows with it if the regime fit fails.
	FallbackRegime *int `json:"fallback_regime" validate:"omitempty,gte=0"`
}

type AnomalyRequest struct {
	Threshold float64 `query:"z" json:"z" default:"2" validate:"gt=0,lte=10"`
	Limit     int     `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=10000"`
}
