package features

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"NiftyQuant/internal/domain/models"
)

// Returns computes simple returns close[t]/close[t-1]-1. The first value is undefined.
func Returns(closes []float64) []float64 {
	out := make([]float64, len(closes))
	if len(out) == 0 {
		return out
	}
	out[0] = models.Undefined()
	for i := 1; i < len(closes); i++ {
		out[i] = closes[i]/closes[i-1] - 1
	}
	return out
}

// EMA is the recursive exponential average seeded with the first value, alpha = 2/(span+1).
// talib.Ema seeds with an SMA and leaves the first span-1 values empty, so it is not used here.
func EMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RollingStd is the trailing sample (n-1) standard deviation. A window containing any
// undefined value yields an undefined result.
func RollingStd(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = models.Undefined()
		if i+1 < window {
			continue
		}
		var sum float64
		ok := true
		for _, v := range values[i+1-window : i+1] {
			if !models.IsDefined(v) {
				ok = false
				break
			}
			sum += v
		}
		if !ok {
			continue
		}
		mean := sum / float64(window)
		var ss float64
		for _, v := range values[i+1-window : i+1] {
			d := v - mean
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(window-1))
	}
	return out
}

// Momentum is an RSI-style index over simple rolling means of gains and losses.
// A window without losses reads 100; values before the window fills are undefined.
func Momentum(closes []float64, window int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = models.Undefined()
	}
	if len(closes) <= window {
		return out
	}
	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}
	for i := window; i < len(closes); i++ {
		var g, l float64
		for j := i + 1 - window; j <= i; j++ {
			g += gains[j]
			l += losses[j]
		}
		avgGain := g / float64(window)
		avgLoss := l / float64(window)
		switch {
		case avgLoss == 0:
			out[i] = 100
		default:
			out[i] = 100 - 100/(1+avgGain/avgLoss)
		}
	}
	return out
}

// Bands returns rolling mean +/- k population standard deviations of closes.
// Values before the window fills are undefined.
func Bands(closes []float64, window int, k float64) ([]float64, []float64, error) {
	upper := make([]float64, len(closes))
	lower := make([]float64, len(closes))
	for i := range closes {
		upper[i] = models.Undefined()
		lower[i] = models.Undefined()
	}
	if len(closes) < window {
		return upper, lower, nil
	}
	if window == 1 {
		copy(upper, closes)
		copy(lower, closes)
		return upper, lower, nil
	}
	u, _, l := talib.BBands(closes, window, k, k, talib.SMA)
	if len(u) != len(closes) || len(l) != len(closes) {
		return nil, nil, fmt.Errorf("bbands: unexpected output length %d/%d for %d inputs", len(u), len(l), len(closes))
	}
	for i := window - 1; i < len(closes); i++ {
		upper[i] = u[i]
		lower[i] = l[i]
	}
	return upper, lower, nil
}

// ZScores standardises every defined value against the full-series sample mean and std.
func ZScores(values []float64) []float64 {
	out := make([]float64, len(values))
	var sum float64
	n := 0
	for _, v := range values {
		if models.IsDefined(v) {
			sum += v
			n++
		}
	}
	for i := range out {
		out[i] = models.Undefined()
	}
	if n < 2 {
		return out
	}
	mean := sum / float64(n)
	var ss float64
	for _, v := range values {
		if models.IsDefined(v) {
			ss += (v - mean) * (v - mean)
		}
	}
	std := math.Sqrt(ss / float64(n-1))
	if std == 0 {
		return out
	}
	for i, v := range values {
		if models.IsDefined(v) {
			out[i] = (v - mean) / std
		}
	}
	return out
}
