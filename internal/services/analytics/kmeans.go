package analytics

import (
	"math"
	"math/rand"
)

const kmeansMaxIter = 300

// kmeans clusters x into k centroids with k-means++ seeding and Lloyd iterations.
// The result depends only on x, k and seed.
func kmeans(x [][]float64, k int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	centers := make([][]float64, 0, k)
	centers = append(centers, append([]float64(nil), x[rng.Intn(len(x))]...))

	dist := make([]float64, len(x))
	for len(centers) < k {
		var total float64
		for i, obs := range x {
			dist[i] = math.Inf(1)
			for _, c := range centers {
				if d := sqDist(obs, c); d < dist[i] {
					dist[i] = d
				}
			}
			total += dist[i]
		}
		pick := rng.Intn(len(x))
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range dist {
				target -= d
				if target <= 0 {
					pick = i
					break
				}
			}
		}
		centers = append(centers, append([]float64(nil), x[pick]...))
	}

	assign := make([]int, len(x))
	for i := range assign {
		assign[i] = -1
	}
	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := false
		for i, obs := range x {
			best, arg := math.Inf(1), 0
			for c, ctr := range centers {
				if d := sqDist(obs, ctr); d < best {
					best, arg = d, c
				}
			}
			if assign[i] != arg {
				assign[i] = arg
				changed = true
			}
		}
		if !changed {
			break
		}
		sums := newMatrix(k, len(x[0]))
		counts := make([]int, k)
		for i, obs := range x {
			c := assign[i]
			counts[c]++
			for d, v := range obs {
				sums[c][d] += v
			}
		}
		for c := range centers {
			if counts[c] == 0 {
				continue
			}
			for d := range sums[c] {
				centers[c][d] = sums[c][d] / float64(counts[c])
			}
		}
	}
	return centers
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
