package analytics

import (
	"fmt"
	"slices"

	"NiftyQuant/internal/domain/models"
	domsvc "NiftyQuant/internal/domain/service"
)

// FitRegimes adapts Fit to the domain RegimeDetector interface.
func (d *Detector) FitRegimes(rows []models.FeatureRow, nStates int) (domsvc.RegimeModel, []models.RegimeRow, error) {
	m, labelled, err := d.Fit(rows, nStates)
	if err != nil {
		return nil, nil, err
	}
	return m, labelled, nil
}

// RestoreModel decodes a persisted model and checks it matches this detector's feature shape.
func (d *Detector) RestoreModel(data []byte) (domsvc.RegimeModel, error) {
	m, err := UnmarshalRegimeModel(data)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(m.features, d.features) || m.scale != d.cfg.Scale {
		return nil, &models.RegimeFitError{Reason: fmt.Sprintf("model shape %v x%v does not match detector %v x%v", m.features, m.scale, d.features, d.cfg.Scale)}
	}
	return m, nil
}

var _ domsvc.RegimeDetector = (*Detector)(nil)
