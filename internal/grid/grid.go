// Package grid generates the ring/bearing sample points used for nearby
// aurora predictions.
package grid

import (
	"math"

	"github.com/kjstillabower/aurora-service/internal/models"
)

const (
	// EarthRadiusMiles is the mean Earth radius used for all geodesy here.
	EarthRadiusMiles = 3958.8

	MaxRadiusMiles    = 250.0
	RingSpacingMiles  = 50.0
	PointSpacingMiles = 15.0
)

// Point is one generated sample before scoring.
type Point struct {
	Lat           float64
	Lon           float64
	Bearing       int
	DistanceMiles int
}

// Generate returns the sample points around (lat, lon), innermost ring first
// and clockwise from north within a ring. The output is deterministic.
func Generate(lat, lon float64) []Point {
	var points []Point
	for radius := RingSpacingMiles; radius <= MaxRadiusMiles; radius += RingSpacingMiles {
		n := PointsInRing(radius)
		step := 360.0 / float64(n)
		for i := 0; i < n; i++ {
			bearing := int(math.Round(float64(i)*step)) % 360
			dLat, dLon := Destination(lat, lon, radius, float64(bearing))
			points = append(points, Point{
				Lat:           dLat,
				Lon:           dLon,
				Bearing:       bearing,
				DistanceMiles: int(radius),
			})
		}
	}
	return points
}

// PointsInRing is round(circumference / point spacing).
func PointsInRing(radiusMiles float64) int {
	return int(math.Round(2 * math.Pi * radiusMiles / PointSpacingMiles))
}

// Destination solves the spherical forward geodesic problem: the point reached
// by travelling distanceMiles from (lat, lon) on the given bearing in degrees.
// Longitude is normalized to [-180, 180).
func Destination(lat, lon, distanceMiles, bearingDeg float64) (float64, float64) {
	phi1 := toRad(lat)
	lambda1 := toRad(lon)
	theta := toRad(bearingDeg)
	delta := distanceMiles / EarthRadiusMiles

	sinPhi2 := math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta)
	phi2 := math.Asin(clamp(sinPhi2, -1, 1))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2),
	)

	return toDeg(phi2), NormalizeLon(toDeg(lambda2))
}

// HaversineMiles is the great-circle distance between two points.
func HaversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	dPhi := toRad(lat2 - lat1)
	dLambda := toRad(lon2 - lon1)
	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * EarthRadiusMiles * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// NormalizeLon wraps a longitude into [-180, 180).
func NormalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// ToGridPoints converts generated points into unscored response points.
func ToGridPoints(points []Point) []models.GridPoint {
	out := make([]models.GridPoint, len(points))
	for i, p := range points {
		out[i] = models.GridPoint{
			Lat:           p.Lat,
			Lon:           p.Lon,
			Bearing:       p.Bearing,
			DistanceMiles: p.DistanceMiles,
		}
	}
	return out
}

func toRad(d float64) float64 { return d * math.Pi / 180 }
func toDeg(r float64) float64 { return r * 180 / math.Pi }

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
