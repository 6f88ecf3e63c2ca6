package models

import "time"

// View names a section of the composite response that a caller can request.
type View string

const (
	ViewPrediction        View = "prediction"
	ViewNearbyPredictions View = "nearbyPredictions"
	ViewSpaceWeather      View = "spaceWeather"
	ViewSolarWind         View = "solarWind"
	ViewHemisphericPower  View = "hemisphericPower"
	ViewSolarFlares       View = "solarFlares"
	ViewAuroraOval        View = "auroraOval"
	ViewSunImagery        View = "sunImagery"
	ViewAstronomy         View = "astronomy"
	ViewLightPollution    View = "lightPollution"
	ViewWebcams           View = "webcams"
)

// AllViews lists every view in response order.
var AllViews = []View{
	ViewPrediction,
	ViewNearbyPredictions,
	ViewSpaceWeather,
	ViewSolarWind,
	ViewHemisphericPower,
	ViewSolarFlares,
	ViewAuroraOval,
	ViewSunImagery,
	ViewAstronomy,
	ViewLightPollution,
	ViewWebcams,
}

// ViewSet is the set of views requested by a caller.
type ViewSet map[View]struct{}

// NewViewSet builds a ViewSet from the given views.
func NewViewSet(views ...View) ViewSet {
	s := make(ViewSet, len(views))
	for _, v := range views {
		s[v] = struct{}{}
	}
	return s
}

// Has reports whether v was requested.
func (s ViewSet) Has(v View) bool {
	_, ok := s[v]
	return ok
}

// CompositeView is the aggregated aurora conditions for one location.
// Every view field is nil unless that view was requested and succeeded;
// NearbyPredictions is the exception and stays populated when scoring fails.
type CompositeView struct {
	Location          Location          `json:"location"`
	Prediction        *Prediction       `json:"prediction"`
	NearbyPredictions []GridPoint       `json:"nearbyPredictions"`
	SpaceWeather      *SpaceWeather     `json:"spaceWeather"`
	SolarWind         *SolarWind        `json:"solarWind"`
	HemisphericPower  *HemisphericPower `json:"hemisphericPower"`
	SolarFlares       *SolarFlares      `json:"solarFlares"`
	AuroraOval        *AuroraOval       `json:"auroraOval"`
	SunImagery        *SunImagery       `json:"sunImagery"`
	Astronomy         *Astronomy        `json:"astronomy"`
	LightPollution    *LightPollution   `json:"lightPollution"`
	Webcams           []Webcam          `json:"webcams"`
	Meta              Meta              `json:"meta"`
}

type Location struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Timezone string  `json:"timezone"`
}

// Meta carries per-view outcome flags. A Stale flag is only ever set on a
// view whose Error flag is false.
type Meta struct {
	Timestamp             time.Time `json:"timestamp"`
	PredictionError       bool      `json:"predictionError"`
	NearbyError           bool      `json:"nearbyError"`
	SpaceWeatherError     bool      `json:"spaceWeatherError"`
	SpaceWeatherStale     bool      `json:"spaceWeatherStale"`
	SolarWindError        bool      `json:"solarWindError"`
	SolarWindStale        bool      `json:"solarWindStale"`
	HemisphericPowerError bool      `json:"hemisphericPowerError"`
	SolarFlaresError      bool      `json:"solarFlaresError"`
	AuroraOvalError       bool      `json:"auroraOvalError"`
	AstronomyError        bool      `json:"astronomyError"`
	LightPollutionError   bool      `json:"lightPollutionError"`
}

// GridPoint is one sample of the nearby-predictions ring grid.
type GridPoint struct {
	Lat           float64  `json:"lat"`
	Lon           float64  `json:"lon"`
	Bearing       int      `json:"bearing"`
	DistanceMiles int      `json:"distanceMiles"`
	Probability   float64  `json:"probability"`
	CloudCover    *float64 `json:"cloudCover"`
}

// Prediction is the ML scoring result for a single point.
type Prediction struct {
	Probability    float64    `json:"probability"`
	Confidence     string     `json:"confidence"`
	GBProbability  float64    `json:"gbProbability"`
	XGBProbability float64    `json:"xgbProbability"`
	Conditions     Conditions `json:"conditions"`
}

type Conditions struct {
	IsDark           bool    `json:"isDark"`
	CloudCover       float64 `json:"cloudCover"`
	KpIndex          float64 `json:"kpIndex"`
	GeomagneticStorm bool    `json:"geomagneticStorm"`
	MoonInterference bool    `json:"moonInterference"`
}

// KpReading is one row of the planetary K-index series.
type KpReading struct {
	Timestamp  string  `json:"timestamp"`
	Kp         float64 `json:"kp"`
	Type       string  `json:"type"`
	StormLevel *string `json:"stormLevel"`
}

type SpaceWeather struct {
	Current  *KpReading  `json:"current"`
	Forecast []KpReading `json:"forecast"`
}

// CurrentKp returns the most recent observed reading, falling back to the
// first reading when nothing has been observed yet.
func CurrentKp(series []KpReading) *KpReading {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].Type == "observed" {
			r := series[i]
			return &r
		}
	}
	if len(series) == 0 {
		return nil
	}
	r := series[0]
	return &r
}

// NewSpaceWeather builds the view from a full reading series.
func NewSpaceWeather(series []KpReading) *SpaceWeather {
	return &SpaceWeather{Current: CurrentKp(series), Forecast: series}
}

type SolarWindReading struct {
	Timestamp           string  `json:"timestamp"`
	Bz                  float64 `json:"bz"`
	Bt                  float64 `json:"bt"`
	Speed               float64 `json:"speed"`
	Density             float64 `json:"density"`
	EarthArrivalMinutes int     `json:"earthArrivalMinutes"`
}

type SolarWind struct {
	Current *SolarWindReading  `json:"current"`
	History []SolarWindReading `json:"history"`
}

type HpReading struct {
	ObservedAt string  `json:"observedAt"`
	ForecastAt string  `json:"forecastAt"`
	North      float64 `json:"north"`
	South      float64 `json:"south"`
}

// HemisphericPower is measured in gigawatts. Current is the northern value.
type HemisphericPower struct {
	Current float64     `json:"current"`
	South   float64     `json:"south"`
	History []HpReading `json:"history"`
}

type FlareEvent struct {
	ClassType string  `json:"classType"`
	Scale     float64 `json:"scale"`
	Timestamp string  `json:"timestamp"`
	PeakTime  *string `json:"peakTime"`
}

type SolarFlares struct {
	Current6h  string       `json:"current6h"`
	Current24h string       `json:"current24h"`
	Events     []FlareEvent `json:"events"`
}

type AuroraOval struct {
	North               string    `json:"north"`
	South               string    `json:"south"`
	Timestamp           time.Time `json:"timestamp"`
	ForecastLeadMinutes int       `json:"forecastLeadMinutes"`
}

type SunImage struct {
	URL         string    `json:"url"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
}

type SunImagery struct {
	ThematicMap SunImage `json:"thematicMap"`
	AIA193      SunImage `json:"aia193"`
	AIA171      SunImage `json:"aia171"`
	AIA131      SunImage `json:"aia131"`
	AIA1700     SunImage `json:"aia1700"`
}

type Astronomy struct {
	Sun  SunTimes `json:"sun"`
	Moon MoonInfo `json:"moon"`
}

// SunTimes holds RFC 3339 instants. Twilight fields are nil when that
// twilight does not occur on the current day (polar day or night).
type SunTimes struct {
	IsUp             bool    `json:"isUp"`
	Altitude         float64 `json:"altitude"`
	Sunrise          *string `json:"sunrise"`
	Sunset           *string `json:"sunset"`
	CivilDawn        *string `json:"civilDawn"`
	CivilDusk        *string `json:"civilDusk"`
	NauticalDawn     *string `json:"nauticalDawn"`
	NauticalDusk     *string `json:"nauticalDusk"`
	AstronomicalDawn *string `json:"astronomicalDawn"`
	AstronomicalDusk *string `json:"astronomicalDusk"`
}

type MoonInfo struct {
	IsUp         bool    `json:"isUp"`
	Altitude     float64 `json:"altitude"`
	Moonrise     *string `json:"moonrise"`
	Moonset      *string `json:"moonset"`
	Phase        string  `json:"phase"`
	Illumination float64 `json:"illumination"`
}

type LightPollution struct {
	Bortle               int      `json:"bortle"`
	Description          string   `json:"description"`
	ArtificialBrightness *float64 `json:"artificialBrightness"`
}

type Webcam struct {
	Name       string  `json:"name"`
	Location   string  `json:"location"`
	URL        string  `json:"url"`
	StreamType string  `json:"streamType"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Active     bool    `json:"active"`
}
