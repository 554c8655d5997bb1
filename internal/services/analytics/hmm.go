package analytics

import (
	"math"
)

// hmmParams holds a diagonal-covariance Gaussian HMM.
type hmmParams struct {
	startProb []float64   // K
	transMat  [][]float64 // K x K
	means     [][]float64 // K x D
	variances [][]float64 // K x D
}

func (p *hmmParams) states() int { return len(p.startProb) }

func (p *hmmParams) clone() *hmmParams {
	return &hmmParams{
		startProb: append([]float64(nil), p.startProb...),
		transMat:  cloneMatrix(p.transMat),
		means:     cloneMatrix(p.means),
		variances: cloneMatrix(p.variances),
	}
}

// logEmissions returns log N(x_t | mean_k, diag(var_k)) for every t and k.
func (p *hmmParams) logEmissions(x [][]float64) [][]float64 {
	k := p.states()
	out := make([][]float64, len(x))
	for t, obs := range x {
		row := make([]float64, k)
		for s := 0; s < k; s++ {
			var lp float64
			for d, v := range obs {
				vr := p.variances[s][d]
				diff := v - p.means[s][d]
				lp += -0.5 * (math.Log(2*math.Pi*vr) + diff*diff/vr)
			}
			row[s] = lp
		}
		out[t] = row
	}
	return out
}

// sufficientStats are the E-step accumulators for one pass over the sequence.
type sufficientStats struct {
	gamma    [][]float64 // T x K posteriors
	xiSum    [][]float64 // K x K expected transitions
	logLik   float64
	zeroProb bool
}

// expectation runs the scaled forward-backward pass. Emissions are shifted by their
// per-row maximum before exponentiation and the shift is added back into the likelihood.
func (p *hmmParams) expectation(x [][]float64) sufficientStats {
	T, K := len(x), p.states()
	logB := p.logEmissions(x)
	b := make([][]float64, T)
	shift := make([]float64, T)
	for t := 0; t < T; t++ {
		m := math.Inf(-1)
		for _, v := range logB[t] {
			if v > m {
				m = v
			}
		}
		shift[t] = m
		b[t] = make([]float64, K)
		for s := 0; s < K; s++ {
			b[t][s] = math.Exp(logB[t][s] - m)
		}
	}

	alpha := make([][]float64, T)
	scale := make([]float64, T)
	var st sufficientStats
	for t := 0; t < T; t++ {
		alpha[t] = make([]float64, K)
		for j := 0; j < K; j++ {
			var a float64
			if t == 0 {
				a = p.startProb[j]
			} else {
				for i := 0; i < K; i++ {
					a += alpha[t-1][i] * p.transMat[i][j]
				}
			}
			alpha[t][j] = a * b[t][j]
			scale[t] += alpha[t][j]
		}
		if !(scale[t] > 0) || math.IsInf(scale[t], 0) {
			st.zeroProb = true
			st.logLik = math.Inf(-1)
			return st
		}
		for j := 0; j < K; j++ {
			alpha[t][j] /= scale[t]
		}
		st.logLik += math.Log(scale[t]) + shift[t]
	}

	beta := make([][]float64, T)
	beta[T-1] = make([]float64, K)
	for i := range beta[T-1] {
		beta[T-1][i] = 1
	}
	for t := T - 2; t >= 0; t-- {
		beta[t] = make([]float64, K)
		for i := 0; i < K; i++ {
			var s float64
			for j := 0; j < K; j++ {
				s += p.transMat[i][j] * b[t+1][j] * beta[t+1][j]
			}
			beta[t][i] = s / scale[t+1]
		}
	}

	st.gamma = make([][]float64, T)
	for t := 0; t < T; t++ {
		g := make([]float64, K)
		var norm float64
		for i := 0; i < K; i++ {
			g[i] = alpha[t][i] * beta[t][i]
			norm += g[i]
		}
		if norm > 0 {
			for i := range g {
				g[i] /= norm
			}
		}
		st.gamma[t] = g
	}

	st.xiSum = newMatrix(K, K)
	for t := 0; t < T-1; t++ {
		for i := 0; i < K; i++ {
			if alpha[t][i] == 0 {
				continue
			}
			for j := 0; j < K; j++ {
				st.xiSum[i][j] += alpha[t][i] * p.transMat[i][j] * b[t+1][j] * beta[t+1][j] / scale[t+1]
			}
		}
	}
	return st
}

// maximize re-estimates parameters from the E-step statistics and floors every variance.
// States with no posterior mass keep their previous emission parameters.
func (p *hmmParams) maximize(x [][]float64, st sufficientStats, minCovar float64) {
	K, D := p.states(), len(x[0])

	var startNorm float64
	for i := 0; i < K; i++ {
		startNorm += st.gamma[0][i]
	}
	if startNorm > 0 {
		for i := 0; i < K; i++ {
			p.startProb[i] = st.gamma[0][i] / startNorm
		}
	}

	for i := 0; i < K; i++ {
		var rowSum float64
		for j := 0; j < K; j++ {
			rowSum += st.xiSum[i][j]
		}
		if rowSum <= 0 {
			continue
		}
		for j := 0; j < K; j++ {
			p.transMat[i][j] = st.xiSum[i][j] / rowSum
		}
	}

	for s := 0; s < K; s++ {
		var w float64
		mean := make([]float64, D)
		for t, obs := range x {
			g := st.gamma[t][s]
			w += g
			for d, v := range obs {
				mean[d] += g * v
			}
		}
		if w <= 0 {
			continue
		}
		for d := range mean {
			mean[d] /= w
		}
		vr := make([]float64, D)
		for t, obs := range x {
			g := st.gamma[t][s]
			for d, v := range obs {
				diff := v - mean[d]
				vr[d] += g * diff * diff
			}
		}
		for d := range vr {
			vr[d] = vr[d]/w + minCovar
		}
		p.means[s] = mean
		p.variances[s] = vr
	}
}

// viterbi returns the most likely state path. Ties resolve to the lowest state index.
func (p *hmmParams) viterbi(x [][]float64) []int {
	T, K := len(x), p.states()
	if T == 0 {
		return nil
	}
	logB := p.logEmissions(x)
	logA := newMatrix(K, K)
	for i := range logA {
		for j := range logA[i] {
			logA[i][j] = safeLog(p.transMat[i][j])
		}
	}
	delta := make([]float64, K)
	for s := 0; s < K; s++ {
		delta[s] = safeLog(p.startProb[s]) + logB[0][s]
	}
	back := make([][]int, T)
	for t := 1; t < T; t++ {
		next := make([]float64, K)
		back[t] = make([]int, K)
		for j := 0; j < K; j++ {
			best, arg := math.Inf(-1), 0
			for i := 0; i < K; i++ {
				if v := delta[i] + logA[i][j]; v > best {
					best, arg = v, i
				}
			}
			next[j] = best + logB[t][j]
			back[t][j] = arg
		}
		delta = next
	}
	path := make([]int, T)
	best := math.Inf(-1)
	for s := 0; s < K; s++ {
		if delta[s] > best {
			best, path[T-1] = delta[s], s
		}
	}
	for t := T - 1; t > 0; t-- {
		path[t-1] = back[t][path[t]]
	}
	return path
}

func safeLog(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return math.Log(v)
}

func newMatrix(r, c int) [][]float64 {
	m := make([][]float64, r)
	for i := range m {
		m[i] = make([]float64, c)
	}
	return m
}

func cloneMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
