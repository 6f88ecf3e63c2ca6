package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/aurora-service/internal/models"
)

// NOAA SWPC product URLs.
const (
	DefaultKpURL        = "https://services.swpc.noaa.gov/products/noaa-planetary-k-index-forecast.json"
	DefaultMagURL       = "https://services.swpc.noaa.gov/products/solar-wind/mag-2-hour.json"
	DefaultPlasmaURL    = "https://services.swpc.noaa.gov/products/solar-wind/plasma-2-hour.json"
	DefaultFlaresURL    = "https://services.swpc.noaa.gov/json/goes/primary/xray-flares-7-day.json"
	DefaultHemiPowerURL = "https://services.swpc.noaa.gov/text/aurora-nowcast-hemi-power.txt"
)

// l1DistanceKm is the approximate distance from the L1 monitor to Earth.
const l1DistanceKm = 1_500_000.0

// NOAAURLs locates each NOAA product; empty fields use the defaults.
type NOAAURLs struct {
	Kp        string
	Mag       string
	Plasma    string
	Flares    string
	HemiPower string
}

func (u NOAAURLs) withDefaults() NOAAURLs {
	if u.Kp == "" {
		u.Kp = DefaultKpURL
	}
	if u.Mag == "" {
		u.Mag = DefaultMagURL
	}
	if u.Plasma == "" {
		u.Plasma = DefaultPlasmaURL
	}
	if u.Flares == "" {
		u.Flares = DefaultFlaresURL
	}
	if u.HemiPower == "" {
		u.HemiPower = DefaultHemiPowerURL
	}
	return u
}

// NOAAClient fetches and parses the NOAA space weather products.
type NOAAClient struct {
	up   *upstream
	urls NOAAURLs
}

func NewNOAAClient(urls NOAAURLs, timeout time.Duration, retry RetryConfig, breaker *gobreaker.CircuitBreaker) *NOAAClient {
	return &NOAAClient{
		up:   newUpstream(&http.Client{}, timeout, retry, breaker),
		urls: urls.withDefaults(),
	}
}

func (c *NOAAClient) get(ctx context.Context, label, url string) ([]byte, error) {
	return c.up.fetch(ctx, label, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
}

// FetchKp returns the planetary K-index series, header row excluded.
func (c *NOAAClient) FetchKp(ctx context.Context) ([]models.KpReading, error) {
	body, err := c.get(ctx, "noaa_kp", c.urls.Kp)
	if err != nil {
		return nil, err
	}
	return ParseKp(body)
}

// ParseKp parses the tabular K-index product.
func ParseKp(body []byte) ([]models.KpReading, error) {
	rows, err := parseTable(body)
	if err != nil {
		return nil, err
	}
	readings := make([]models.KpReading, 0, len(rows))
	for i, row := range rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("%w: kp row %d has %d columns", ErrBadPayload, i+1, len(row))
		}
		kp, ok := number(row[1])
		if !ok {
			return nil, fmt.Errorf("%w: kp row %d: non-numeric kp %v", ErrBadPayload, i+1, row[1])
		}
		r := models.KpReading{
			Timestamp: text(row[0]),
			Kp:        kp,
			Type:      text(row[2]),
		}
		if len(row) > 3 && row[3] != nil {
			level := text(row[3])
			r.StormLevel = &level
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// FetchSolarWind fetches the magnetic-field and plasma feeds and merges them.
func (c *NOAAClient) FetchSolarWind(ctx context.Context) (*models.SolarWind, error) {
	magBody, err := c.get(ctx, "noaa_mag", c.urls.Mag)
	if err != nil {
		return nil, fmt.Errorf("mag feed: %w", err)
	}
	plasmaBody, err := c.get(ctx, "noaa_plasma", c.urls.Plasma)
	if err != nil {
		return nil, fmt.Errorf("plasma feed: %w", err)
	}
	return ParseSolarWind(magBody, plasmaBody)
}

// ParseSolarWind joins mag rows to plasma rows by exact timestamp. Mag rows
// drive the history; missing or null plasma values read as zero.
func ParseSolarWind(magBody, plasmaBody []byte) (*models.SolarWind, error) {
	magRows, err := parseTable(magBody)
	if err != nil {
		return nil, fmt.Errorf("mag: %w", err)
	}
	plasmaRows, err := parseTable(plasmaBody)
	if err != nil {
		return nil, fmt.Errorf("plasma: %w", err)
	}

	plasmaByTime := make(map[string][]interface{}, len(plasmaRows))
	for _, row := range plasmaRows {
		if len(row) > 0 {
			plasmaByTime[text(row[0])] = row
		}
	}

	history := make([]models.SolarWindReading, 0, len(magRows))
	for _, mag := range magRows {
		if len(mag) == 0 {
			continue
		}
		ts := text(mag[0])
		plasma := plasmaByTime[ts]
		speed := column(plasma, 2)
		history = append(history, models.SolarWindReading{
			Timestamp:           ts,
			Bz:                  column(mag, 3),
			Bt:                  column(mag, 6),
			Speed:               speed,
			Density:             column(plasma, 1),
			EarthArrivalMinutes: EarthArrivalMinutes(speed),
		})
	}

	sw := &models.SolarWind{History: history}
	if len(history) > 0 {
		last := history[len(history)-1]
		sw.Current = &last
	}
	return sw, nil
}

// EarthArrivalMinutes is the L1-to-Earth transit time at speed km/s, truncated.
func EarthArrivalMinutes(speedKmS float64) int {
	if speedKmS <= 0 {
		return 0
	}
	return int(l1DistanceKm / speedKmS / 60)
}

type flareRecord struct {
	CurrentClass *string `json:"current_class"`
	TimeTag      string  `json:"time_tag"`
	MaxTime      *string `json:"max_time"`
}

// FetchFlares returns the GOES X-ray flare list.
func (c *NOAAClient) FetchFlares(ctx context.Context) (*models.SolarFlares, error) {
	body, err := c.get(ctx, "noaa_flares", c.urls.Flares)
	if err != nil {
		return nil, err
	}
	return ParseFlares(body)
}

// ParseFlares parses flare records. A missing class reads as "A0.0"; an empty
// class is skipped. The first event is reported for both windows.
func ParseFlares(body []byte) (*models.SolarFlares, error) {
	var records []flareRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("%w: flares: %v", ErrBadPayload, err)
	}

	out := &models.SolarFlares{Current6h: "A0.0", Current24h: "A0.0", Events: []models.FlareEvent{}}
	for _, r := range records {
		class := "A0.0"
		if r.CurrentClass != nil {
			class = *r.CurrentClass
		}
		if class == "" {
			continue
		}
		scale, err := strconv.ParseFloat(class[1:], 64)
		if err != nil {
			scale = 0
		}
		out.Events = append(out.Events, models.FlareEvent{
			ClassType: class[:1],
			Scale:     scale,
			Timestamp: r.TimeTag,
			PeakTime:  r.MaxTime,
		})
	}

	if len(out.Events) > 0 {
		first := out.Events[0]
		out.Current6h = FormatFlareClass(first.ClassType, first.Scale)
		out.Current24h = out.Current6h
	}
	return out, nil
}

// FormatFlareClass renders a class letter and scale, keeping at least one decimal ("M5.0", "X1.25").
func FormatFlareClass(classType string, scale float64) string {
	s := strconv.FormatFloat(scale, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return classType + s
}

// FetchHemisphericPower returns the hemispheric power nowcast.
func (c *NOAAClient) FetchHemisphericPower(ctx context.Context) (*models.HemisphericPower, error) {
	body, err := c.get(ctx, "noaa_hemi_power", c.urls.HemiPower)
	if err != nil {
		return nil, err
	}
	return ParseHemisphericPower(body)
}

// ParseHemisphericPower parses the text product: '#' comment lines, then
// "<observation> <forecast> <north GW> <south GW>" data lines.
func ParseHemisphericPower(body []byte) (*models.HemisphericPower, error) {
	var history []models.HpReading
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, fmt.Errorf("%w: hemi power line %q", ErrBadPayload, line)
		}
		north, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: hemi power north %q", ErrBadPayload, fields[2])
		}
		south, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: hemi power south %q", ErrBadPayload, fields[3])
		}
		history = append(history, models.HpReading{
			ObservedAt: fields[0],
			ForecastAt: fields[1],
			North:      north,
			South:      south,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: hemi power has no data lines", ErrBadPayload)
	}

	last := history[len(history)-1]
	return &models.HemisphericPower{Current: last.North, South: last.South, History: history}, nil
}

// parseTable decodes a NOAA tabular product and drops the header row.
func parseTable(body []byte) ([][]interface{}, error) {
	var rows [][]interface{}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if len(rows) == 0 {
		return rows, nil
	}
	return rows[1:], nil
}

// number reads a JSON number or numeric string.
func number(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// column reads row[i] as a number, 0 when absent, null or non-numeric.
func column(row []interface{}, i int) float64 {
	if i >= len(row) {
		return 0
	}
	f, ok := number(row[i])
	if !ok {
		return 0
	}
	return f
}

func text(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
