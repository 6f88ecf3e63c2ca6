package grid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGenerate_RingCounts verifies five rings with the expected point counts.
func TestGenerate_RingCounts(t *testing.T) {
	points := Generate(64.84, -147.72)
	require.Len(t, points, 21+42+63+84+105)

	counts := map[int]int{}
	for _, p := range points {
		counts[p.DistanceMiles]++
	}
	assert.Equal(t, map[int]int{50: 21, 100: 42, 150: 63, 200: 84, 250: 105}, counts)
}

// TestGenerate_Deterministic verifies identical output for identical input.
func TestGenerate_Deterministic(t *testing.T) {
	a := Generate(58.77, -94.17)
	b := Generate(58.77, -94.17)
	assert.Equal(t, a, b)
}

// TestGenerate_BearingsAndOrder verifies ring order and bearing range.
func TestGenerate_BearingsAndOrder(t *testing.T) {
	points := Generate(45, 0)
	assert.Equal(t, 0, points[0].Bearing)
	assert.Equal(t, 50, points[0].DistanceMiles)
	// i=1 of 21 points: round(360/21) = 17
	assert.Equal(t, 17, points[1].Bearing)
	assert.Equal(t, 250, points[len(points)-1].DistanceMiles)

	prev := 0
	for _, p := range points {
		assert.GreaterOrEqual(t, p.Bearing, 0)
		assert.Less(t, p.Bearing, 360)
		assert.GreaterOrEqual(t, p.DistanceMiles, prev)
		prev = p.DistanceMiles
	}
}

// TestGenerate_DistanceAccuracy verifies every point lies within 0.5% of its
// ring radius from the center by great-circle distance.
func TestGenerate_DistanceAccuracy(t *testing.T) {
	centers := [][2]float64{{64.84, -147.72}, {0, 0}, {-43.5, 172.6}, {68.35, 18.83}}
	for _, c := range centers {
		for _, p := range Generate(c[0], c[1]) {
			d := HaversineMiles(c[0], c[1], p.Lat, p.Lon)
			rel := math.Abs(d-float64(p.DistanceMiles)) / float64(p.DistanceMiles)
			if rel > 0.005 {
				t.Fatalf("center %v bearing %d ring %d: distance %.3f off by %.4f", c, p.Bearing, p.DistanceMiles, d, rel)
			}
		}
	}
}

func TestDestination_NorthAndEast(t *testing.T) {
	lat, lon := Destination(0, 0, 69.093, 0)
	assert.InDelta(t, 1.0, lat, 0.001)
	assert.InDelta(t, 0.0, lon, 1e-9)

	lat, lon = Destination(0, 0, 69.093, 90)
	assert.InDelta(t, 0.0, lat, 1e-9)
	assert.InDelta(t, 1.0, lon, 0.001)
}

// TestDestination_WrapsAntimeridian verifies longitude normalization near ±180.
func TestDestination_WrapsAntimeridian(t *testing.T) {
	_, lon := Destination(0, 179.9, 50, 90)
	assert.GreaterOrEqual(t, lon, -180.0)
	assert.Less(t, lon, -179.0)
}

func TestNormalizeLon(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{0, 0},
		{180, -180},
		{-180, -180},
		{190, -170},
		{-190, 170},
		{540, -180},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, NormalizeLon(tt.in), 1e-9, "NormalizeLon(%v)", tt.in)
	}
}

func TestToGridPoints(t *testing.T) {
	gp := ToGridPoints([]Point{{Lat: 1, Lon: 2, Bearing: 17, DistanceMiles: 50}})
	require.Len(t, gp, 1)
	assert.Equal(t, 17, gp[0].Bearing)
	assert.Zero(t, gp[0].Probability)
	assert.Nil(t, gp[0].CloudCover)
}
