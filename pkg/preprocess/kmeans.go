package preprocess

import (
	"math"
	"math/rand"
	"sort"
)

// KMeans clusters 3-D points. Runs are deterministic for a given seed.
type KMeans struct {
	K          int
	Seed       int64
	Restarts   int
	MaxIter    int
	MaxSamples int
}

// Centroids are ordered by their first coordinate, highest first, so that
// cluster ids are stable across runs and inputs.
type Centroids [][3]float64

func sqDist(a, b [3]float64) float64 {
	d0, d1, d2 := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return d0*d0 + d1*d1 + d2*d2
}

// Nearest returns the index of the closest centroid.
func (c Centroids) Nearest(p [3]float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, centroid := range c {
		if d := sqDist(p, centroid); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Fit clusters points and returns the lowest-inertia solution over all
// restarts. Large inputs are subsampled with a fixed stride.
func (km KMeans) Fit(points [][3]float64) Centroids {
	if len(points) == 0 || km.K <= 0 {
		return nil
	}
	if km.MaxSamples > 0 && len(points) > km.MaxSamples {
		stride := float64(len(points)) / float64(km.MaxSamples)
		sampled := make([][3]float64, km.MaxSamples)
		for i := range sampled {
			sampled[i] = points[int(float64(i)*stride)]
		}
		points = sampled
	}

	rng := rand.New(rand.NewSource(km.Seed))
	restarts := max(km.Restarts, 1)
	var best Centroids
	bestInertia := math.Inf(1)
	for r := 0; r < restarts; r++ {
		centroids := km.initPlusPlus(points, rng)
		inertia := km.lloyd(points, centroids)
		if inertia < bestInertia {
			best, bestInertia = centroids, inertia
		}
	}

	sort.SliceStable(best, func(i, j int) bool { return best[i][0] > best[j][0] })
	return best
}

// initPlusPlus seeds centroids with probability proportional to squared
// distance from the ones already chosen.
func (km KMeans) initPlusPlus(points [][3]float64, rng *rand.Rand) Centroids {
	centroids := make(Centroids, 0, km.K)
	centroids = append(centroids, points[rng.Intn(len(points))])
	dist := make([]float64, len(points))
	for len(centroids) < km.K {
		var total float64
		for i, p := range points {
			d := math.Inf(1)
			for _, c := range centroids {
				d = math.Min(d, sqDist(p, c))
			}
			dist[i] = d
			total += d
		}
		if total == 0 {
			// every point already coincides with a centroid
			centroids = append(centroids, centroids[len(centroids)-1])
			continue
		}
		target := rng.Float64() * total
		chosen := len(points) - 1
		for i, d := range dist {
			target -= d
			if target <= 0 {
				chosen = i
				break
			}
		}
		centroids = append(centroids, points[chosen])
	}
	return centroids
}

// lloyd refines centroids in place and returns the final inertia.
func (km KMeans) lloyd(points [][3]float64, centroids Centroids) float64 {
	maxIter := max(km.MaxIter, 1)
	assign := make([]int, len(points))
	var inertia float64
	for iter := 0; iter < maxIter; iter++ {
		changed := iter == 0
		inertia = 0
		for i, p := range points {
			n := centroids.Nearest(p)
			if n != assign[i] {
				assign[i] = n
				changed = true
			}
			inertia += sqDist(p, centroids[n])
		}
		if !changed {
			break
		}

		sums := make([][3]float64, len(centroids))
		counts := make([]int, len(centroids))
		for i, p := range points {
			a := assign[i]
			sums[a][0] += p[0]
			sums[a][1] += p[1]
			sums[a][2] += p[2]
			counts[a]++
		}
		for c := range centroids {
			// empty clusters keep their previous position
			if counts[c] == 0 {
				continue
			}
			n := float64(counts[c])
			centroids[c] = [3]float64{sums[c][0] / n, sums[c][1] / n, sums[c][2] / n}
		}
	}
	return inertia
}
