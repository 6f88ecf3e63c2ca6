// Package astronomy computes approximate sun and moon positions and combines
// them with provider data into the astronomy view.
package astronomy

import (
	"math"
	"time"
)

// Sun altitudes that define each event, in degrees.
const (
	AltitudeSunrise      = -0.833
	AltitudeCivil        = -6.0
	AltitudeNautical     = -12.0
	AltitudeAstronomical = -18.0
)

// Declination is the approximate solar declination in degrees for a day of year.
func Declination(dayOfYear int) float64 {
	return -23.45 * math.Cos(rad(360.0/365.0*float64(dayOfYear+10)))
}

// SunAltitude is the approximate solar altitude in degrees at t (UTC) for the
// given location, from declination and hour angle.
func SunAltitude(lat, lon float64, t time.Time) float64 {
	t = t.UTC()
	hour := float64(t.Hour()) + float64(t.Minute())/60.0
	dec := Declination(t.YearDay())
	hourAngle := 15.0 * (hour - 12.0 + lon/15.0)

	sinAlt := math.Sin(rad(lat))*math.Sin(rad(dec)) +
		math.Cos(rad(lat))*math.Cos(rad(dec))*math.Cos(rad(hourAngle))
	return deg(math.Asin(clamp(sinAlt)))
}

// CrossingTimes returns the morning and evening times on t's UTC date at which
// the sun passes the given altitude. ok is false when the sun never reaches
// that altitude that day (|cosH| > 1, polar day or night).
func CrossingTimes(lat, lon, altitude float64, t time.Time) (morning, evening time.Time, ok bool) {
	t = t.UTC()
	dec := Declination(t.YearDay())
	cosH := (math.Sin(rad(altitude)) - math.Sin(rad(lat))*math.Sin(rad(dec))) /
		(math.Cos(rad(lat)) * math.Cos(rad(dec)))
	if math.IsNaN(cosH) || cosH < -1 || cosH > 1 {
		return time.Time{}, time.Time{}, false
	}

	hourAngle := deg(math.Acos(cosH))
	solarNoon := 12.0 - lon/15.0
	return atHour(t, solarNoon-hourAngle/15.0), atHour(t, solarNoon+hourAngle/15.0), true
}

// Twilight holds RFC 3339 dawn and dusk times; nil when the twilight does not occur.
type Twilight struct {
	CivilDawn, CivilDusk               *string
	NauticalDawn, NauticalDusk         *string
	AstronomicalDawn, AstronomicalDusk *string
}

// TwilightTimes computes civil, nautical and astronomical twilight for t's UTC date.
func TwilightTimes(lat, lon float64, t time.Time) Twilight {
	var tw Twilight
	tw.CivilDawn, tw.CivilDusk = crossingStrings(lat, lon, AltitudeCivil, t)
	tw.NauticalDawn, tw.NauticalDusk = crossingStrings(lat, lon, AltitudeNautical, t)
	tw.AstronomicalDawn, tw.AstronomicalDusk = crossingStrings(lat, lon, AltitudeAstronomical, t)
	return tw
}

func crossingStrings(lat, lon, altitude float64, t time.Time) (*string, *string) {
	morning, evening, ok := CrossingTimes(lat, lon, altitude, t)
	if !ok {
		return nil, nil
	}
	return FormatTime(morning), FormatTime(evening)
}

// FormatTime renders t in UTC as RFC 3339.
func FormatTime(t time.Time) *string {
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// atHour places a fractional UTC hour, wrapped into [0, 24), on t's date with
// whole-minute precision.
func atHour(t time.Time, hour float64) time.Time {
	hour = math.Mod(hour, 24)
	if hour < 0 {
		hour += 24
	}
	h := int(hour)
	m := int((hour - float64(h)) * 60)
	y, mo, d := t.Date()
	return time.Date(y, mo, d, h, m, 0, 0, time.UTC)
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
