package analytics

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NiftyQuant/internal/domain/models"
)

// twoRegimeRows builds calm rows followed by turbulent rows.
func twoRegimeRows(perRegime int, seed int64) []models.FeatureRow {
	r := rand.New(rand.NewSource(seed))
	start := time.Date(2024, 9, 2, 3, 45, 0, 0, time.UTC)
	rows := make([]models.FeatureRow, 0, 2*perRegime)
	for i := 0; i < 2*perRegime; i++ {
		vol := 0.001
		if i >= perRegime {
			vol = 0.01
		}
		rows = append(rows, models.FeatureRow{
			PricePoint: models.PricePoint{Timestamp: start.Add(time.Duration(i) * 5 * time.Minute), Open: 1, High: 1, Low: 1, Close: 1},
			Return:     r.NormFloat64() * vol,
			Volatility: vol * (1 + 0.05*r.NormFloat64()),
		})
	}
	return rows
}

func majority(labels []models.RegimeRow) (int, float64) {
	counts := map[int]int{}
	for _, l := range labels {
		counts[l.Regime]++
	}
	best, n := 0, -1
	for k, v := range counts {
		if v > n || (v == n && k < best) {
			best, n = k, v
		}
	}
	return best, float64(n) / float64(len(labels))
}

func TestFitSeparatesVolatilityRegimes(t *testing.T) {
	rows := twoRegimeRows(150, 1)
	model, labelled, err := NewDetector().Fit(rows, 2)
	require.NoError(t, err)
	require.Len(t, labelled, len(rows))

	calm, calmShare := majority(labelled[:150])
	wild, wildShare := majority(labelled[150:])
	assert.NotEqual(t, calm, wild)
	assert.Greater(t, calmShare, 0.9)
	assert.Greater(t, wildShare, 0.9)
	for _, l := range labelled {
		assert.True(t, l.Regime == 0 || l.Regime == 1)
	}
	assert.Equal(t, 2, model.States())
	assert.NotEmpty(t, model.Checksum())
}

func TestFitIsReproducible(t *testing.T) {
	rows := twoRegimeRows(80, 9)
	m1, l1, err := NewDetector().Fit(rows, 3)
	require.NoError(t, err)
	m2, l2, err := NewDetector().Fit(rows, 3)
	require.NoError(t, err)
	assert.Equal(t, l1, l2)
	assert.Equal(t, m1.Checksum(), m2.Checksum())
	assert.NotSame(t, m1, m2)
}

func TestFitRejectsTooFewRows(t *testing.T) {
	rows := twoRegimeRows(1, 1)
	_, _, err := NewDetector().Fit(rows, 3)
	var fe *models.RegimeFitError
	require.True(t, errors.As(err, &fe), "got %v", err)

	_, _, err = NewDetector().Fit(nil, 3)
	assert.True(t, errors.As(err, &fe))
}

func TestFitRejectsBadInput(t *testing.T) {
	rows := twoRegimeRows(20, 1)
	_, _, err := NewDetector().Fit(rows, 1)
	var ce *models.ConfigurationError
	assert.True(t, errors.As(err, &ce))

	rows[7].Volatility = math.NaN()
	_, _, err = NewDetector().Fit(rows, 2)
	var fe *models.RegimeFitError
	assert.True(t, errors.As(err, &fe))

	cfg := DefaultDetectorConfig()
	cfg.MinCovar = 0
	_, _, err = NewDetector(WithDetectorConfig(cfg)).Fit(twoRegimeRows(20, 1), 2)
	assert.True(t, errors.As(err, &ce))
}

func TestFitReportsNonConvergence(t *testing.T) {
	model, labelled, err := NewDetector(WithMaxIter(1)).Fit(twoRegimeRows(50, 4), 2)
	require.NoError(t, err)
	assert.False(t, model.Converged())
	assert.Len(t, labelled, 100)
	assert.Equal(t, 1, model.Summary().Iterations)
}

func TestFitDegenerateFlatFeatures(t *testing.T) {
	rows := twoRegimeRows(10, 1)
	for i := range rows {
		rows[i].Return, rows[i].Volatility = 0, 0
	}
	model, labelled, err := NewDetector().Fit(rows, 2)
	require.NoError(t, err)
	assert.Len(t, labelled, 20)
	for _, row := range model.Variances() {
		for _, v := range row {
			assert.Greater(t, v, 0.0)
		}
	}
}

func TestPredictMatchesFit(t *testing.T) {
	rows := twoRegimeRows(100, 3)
	model, labelled, err := NewDetector().Fit(rows, 2)
	require.NoError(t, err)
	predicted, err := model.Predict(rows)
	require.NoError(t, err)
	assert.Equal(t, labelled, predicted)

	_, err = model.Predict(nil)
	var ih *models.InsufficientHistoryError
	assert.True(t, errors.As(err, &ih))
}

func TestPredictConcurrent(t *testing.T) {
	rows := twoRegimeRows(60, 5)
	model, labelled, err := NewDetector().Fit(rows, 2)
	require.NoError(t, err)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := model.Predict(rows)
			assert.NoError(t, err)
			assert.Equal(t, labelled, got)
		}()
	}
	wg.Wait()
}

func TestModelAccessorsReturnCopies(t *testing.T) {
	model, _, err := NewDetector().Fit(twoRegimeRows(40, 2), 2)
	require.NoError(t, err)
	means := model.Means()
	means[0][0] = 1e9
	assert.NotEqual(t, 1e9, model.Means()[0][0])
	sum := model.Summary()
	sum.States[0].Means[0] = 1e9
	assert.NotEqual(t, 1e9, model.Summary().States[0].Means[0])
}

func TestModelRoundTrip(t *testing.T) {
	rows := twoRegimeRows(70, 6)
	model, labelled, err := NewDetector().Fit(rows, 2)
	require.NoError(t, err)

	data, err := model.MarshalJSON()
	require.NoError(t, err)
	restored, err := UnmarshalRegimeModel(data)
	require.NoError(t, err)
	assert.Equal(t, model.Checksum(), restored.Checksum())

	again, err := restored.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, data, again)

	predicted, err := restored.Predict(rows)
	require.NoError(t, err)
	assert.Equal(t, labelled, predicted)

	tampered := bytes.Replace(data, []byte(`"scale":100`), []byte(`"scale":101`), 1)
	require.NotEqual(t, data, tampered)
	_, err = UnmarshalRegimeModel(tampered)
	var fe *models.RegimeFitError
	assert.True(t, errors.As(err, &fe))
}

func TestRestoreModelChecksShape(t *testing.T) {
	model, _, err := NewDetector().Fit(twoRegimeRows(30, 8), 2)
	require.NoError(t, err)
	data, err := model.MarshalJSON()
	require.NoError(t, err)

	_, err = NewDetector().RestoreModel(data)
	require.NoError(t, err)

	cfg := DefaultDetectorConfig()
	cfg.Scale = 10
	_, err = NewDetector(WithDetectorConfig(cfg)).RestoreModel(data)
	var fe *models.RegimeFitError
	assert.True(t, errors.As(err, &fe))
}
