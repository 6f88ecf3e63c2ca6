package astronomy

import (
	"math"
	"strings"
	"time"
)

const (
	// SynodicMonthDays is the mean length of a lunation.
	SynodicMonthDays = 29.530588853
	j2000Unix        = 946684800
	obliquity        = 23.439
)

// referenceNewMoon is the new moon of 2000-01-06 18:14 UTC.
var referenceNewMoon = time.Date(2000, 1, 6, 18, 14, 0, 0, time.UTC)

// MoonAltitude is the approximate lunar altitude in degrees at t, from a
// low-order series for ecliptic longitude and latitude.
func MoonAltitude(lat, lon float64, t time.Time) float64 {
	t = t.UTC()
	d := float64(t.Unix()-j2000Unix) / 86400.0

	meanLon := math.Mod(218.316+13.176396*d, 360)
	meanAnomaly := math.Mod(134.963+13.064993*d, 360)
	argLat := math.Mod(93.272+13.229350*d, 360)

	eclLon := meanLon + 6.289*math.Sin(rad(meanAnomaly))
	eclLat := 5.128 * math.Sin(rad(argLat))

	dec := deg(math.Asin(clamp(
		math.Sin(rad(eclLat))*math.Cos(rad(obliquity)) +
			math.Cos(rad(eclLat))*math.Sin(rad(obliquity))*math.Sin(rad(eclLon)),
	)))

	lst := math.Mod(100.46+0.985647*d+lon+float64(t.Hour())*15+float64(t.Minute())*0.25, 360)
	ra := deg(math.Atan2(
		math.Sin(rad(eclLon))*math.Cos(rad(obliquity))-math.Tan(rad(eclLat))*math.Sin(rad(obliquity)),
		math.Cos(rad(eclLon)),
	))
	hourAngle := lst - ra

	sinAlt := math.Sin(rad(lat))*math.Sin(rad(dec)) +
		math.Cos(rad(lat))*math.Cos(rad(dec))*math.Cos(rad(hourAngle))
	return deg(math.Asin(clamp(sinAlt)))
}

// Phase names as reported by the astronomy provider.
var phaseNames = [8]string{
	"new",
	"waxingCrescent",
	"firstQuarter",
	"waxingGibbous",
	"full",
	"waningGibbous",
	"thirdQuarter",
	"waningCrescent",
}

// PhaseAt names the lunar phase at t from the mean synodic month.
func PhaseAt(t time.Time) string {
	age := math.Mod(t.Sub(referenceNewMoon).Hours()/24, SynodicMonthDays)
	if age < 0 {
		age += SynodicMonthDays
	}
	idx := int(math.Floor(age/SynodicMonthDays*8+0.5)) % 8
	return phaseNames[idx]
}

// Illumination maps a phase name to an approximate illuminated percentage.
// Unknown or empty phases are reported as 50.
func Illumination(phase string) float64 {
	switch strings.ToLower(phase) {
	case "new":
		return 0
	case "waxingcrescent", "waningcrescent":
		return 25
	case "firstquarter", "thirdquarter", "lastquarter":
		return 50
	case "waxinggibbous", "waninggibbous":
		return 75
	case "full":
		return 100
	default:
		return 50
	}
}
