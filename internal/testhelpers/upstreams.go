package testhelpers

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"

	"github.com/kjstillabower/aurora-service/internal/client"
)

// Paths served by FakeUpstreams.
const (
	PathKp           = "/products/noaa-planetary-k-index-forecast.json"
	PathMag          = "/products/solar-wind/mag-2-hour.json"
	PathPlasma       = "/products/solar-wind/plasma-2-hour.json"
	PathFlares       = "/json/goes/primary/xray-flares-7-day.json"
	PathHemiPower    = "/text/aurora-nowcast-hemi-power.txt"
	PathPredict      = "/predict"
	PathPredictBatch = "/predict/batch"
)

// Canned payloads in the upstream wire formats.
const (
	KpJSON = `[["time_tag","kp","observed","noaa_scale"],
		["2024-05-10 00:00:00","4.67","observed",null],
		["2024-05-10 03:00:00","8.33","observed","G4"],
		["2024-05-11 00:00:00","6.00","predicted","G2"]]`
	MagJSON = `[["time_tag","bx_gsm","by_gsm","bz_gsm","lon_gsm","lat_gsm","bt"],
		["2024-05-10 22:00:00.000","1.0","3.0","-18.0","101.0","-31.0","22.0"]]`
	PlasmaJSON = `[["time_tag","density","speed","temperature"],
		["2024-05-10 22:00:00.000","12.5","750.0","400000"]]`
	FlaresJSON = `[{"time_tag":"2024-05-10T06:27:00Z","max_time":"2024-05-10T06:54:00Z","current_class":"X5.8"}]`
	HemiPowerText = `# Observation  Forecast  North-Hemispheric-Power-Index  South-Hemispheric-Power-Index
2024-05-10_22:00 2024-05-10_22:35    85    62
`
	PredictJSON = `{"probability":0.72,"confidence":"high","gb_probability":0.7,"xgb_probability":0.74,
		"conditions":{"is_dark":true,"cloud_cover":12.5,"kp_index":8.33,"geomagnetic_storm":true,"moon_interference":false}}`
	PredictBatchJSON = `{"predictions":[{"probability":0.5,"cloud_cover":20},{"probability":0.4}]}`
)

// FakeUpstreams serves the NOAA products and the ML scoring endpoints from
// one httptest server. Individual paths can be switched to return 503.
type FakeUpstreams struct {
	Server *httptest.Server

	mu      sync.Mutex
	failing map[string]bool
	hits    map[string]*int64
}

// NewFakeUpstreams starts a fake upstream server. Call Close when done.
func NewFakeUpstreams() *FakeUpstreams {
	f := &FakeUpstreams{failing: map[string]bool{}, hits: map[string]*int64{}}
	payloads := map[string]struct {
		body        string
		contentType string
	}{
		PathKp:           {KpJSON, "application/json"},
		PathMag:          {MagJSON, "application/json"},
		PathPlasma:       {PlasmaJSON, "application/json"},
		PathFlares:       {FlaresJSON, "application/json"},
		PathHemiPower:    {HemiPowerText, "text/plain"},
		PathPredict:      {PredictJSON, "application/json"},
		PathPredictBatch: {PredictBatchJSON, "application/json"},
	}
	for path := range payloads {
		var n int64
		f.hits[path] = &n
	}

	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := payloads[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt64(f.hits[r.URL.Path], 1)
		if f.isFailing(r.URL.Path) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", p.contentType)
		_, _ = w.Write([]byte(p.body))
	}))
	return f
}

// SetFailing makes path answer 503 while fail is true.
func (f *FakeUpstreams) SetFailing(path string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[path] = fail
}

func (f *FakeUpstreams) isFailing(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failing[path]
}

// Hits returns how many requests path has received.
func (f *FakeUpstreams) Hits(path string) int64 {
	n, ok := f.hits[path]
	if !ok {
		return 0
	}
	return atomic.LoadInt64(n)
}

// NOAAURLs points every NOAA product at the fake server.
func (f *FakeUpstreams) NOAAURLs() client.NOAAURLs {
	return client.NOAAURLs{
		Kp:        f.Server.URL + PathKp,
		Mag:       f.Server.URL + PathMag,
		Plasma:    f.Server.URL + PathPlasma,
		Flares:    f.Server.URL + PathFlares,
		HemiPower: f.Server.URL + PathHemiPower,
	}
}

// PredictionURL is the base URL for the ML scoring endpoints.
func (f *FakeUpstreams) PredictionURL() string {
	return f.Server.URL
}

// Close shuts the server down.
func (f *FakeUpstreams) Close() {
	f.Server.Close()
}
