package preprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blobs() [][3]float64 {
	centers := [][3]float64{{200, 130, 140}, {120, 140, 150}, {40, 135, 135}}
	var points [][3]float64
	for _, c := range centers {
		for i := 0; i < 50; i++ {
			d := float64(i%5) - 2
			points = append(points, [3]float64{c[0] + d, c[1] - d, c[2] + d/2})
		}
	}
	return points
}

func TestKMeansFindsSeparatedClusters(t *testing.T) {
	centroids := KMeans{K: 3, Seed: 42, Restarts: 5, MaxIter: 100}.Fit(blobs())
	require.Len(t, centroids, 3)

	// sorted by lightness, highest first
	assert.InDelta(t, 200, centroids[0][0], 1)
	assert.InDelta(t, 120, centroids[1][0], 1)
	assert.InDelta(t, 40, centroids[2][0], 1)

	assert.Equal(t, 0, centroids.Nearest([3]float64{190, 130, 140}))
	assert.Equal(t, 2, centroids.Nearest([3]float64{10, 128, 128}))
}

func TestKMeansIsDeterministic(t *testing.T) {
	km := KMeans{K: 5, Seed: 7, Restarts: 3, MaxIter: 50, MaxSamples: 60}
	assert.Equal(t, km.Fit(blobs()), km.Fit(blobs()))
}

func TestKMeansIdenticalPoints(t *testing.T) {
	points := make([][3]float64, 20)
	for i := range points {
		points[i] = [3]float64{100, 128, 128}
	}
	centroids := KMeans{K: 5, Seed: 1, Restarts: 2, MaxIter: 10}.Fit(points)
	require.Len(t, centroids, 5)
	assert.Equal(t, 0, centroids.Nearest(points[0]))
}

func TestKMeansEmpty(t *testing.T) {
	assert.Nil(t, KMeans{K: 3}.Fit(nil))
}
