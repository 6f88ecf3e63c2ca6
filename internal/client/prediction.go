package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/aurora-service/internal/grid"
	"github.com/kjstillabower/aurora-service/internal/models"
)

// DefaultPredictionURL is the ML scoring service base URL.
const DefaultPredictionURL = "https://aurora.arryan.xyz"

// PredictionClient calls the ML scoring service for single points and batches.
type PredictionClient struct {
	up      *upstream
	baseURL string
}

func NewPredictionClient(baseURL string, timeout time.Duration, retry RetryConfig, breaker *gobreaker.CircuitBreaker) *PredictionClient {
	if baseURL == "" {
		baseURL = DefaultPredictionURL
	}
	return &PredictionClient{
		up:      newUpstream(&http.Client{}, timeout, retry, breaker),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type predictResponse struct {
	Probability    *float64 `json:"probability"`
	Confidence     *string  `json:"confidence"`
	GBProbability  *float64 `json:"gb_probability"`
	XGBProbability *float64 `json:"xgb_probability"`
	Conditions     struct {
		IsDark           bool    `json:"is_dark"`
		CloudCover       float64 `json:"cloud_cover"`
		KpIndex          float64 `json:"kp_index"`
		GeomagneticStorm bool    `json:"geomagnetic_storm"`
		MoonInterference bool    `json:"moon_interference"`
	} `json:"conditions"`
}

type batchRequest struct {
	Locations []coordinate `json:"locations"`
}

type batchResponse struct {
	Predictions []struct {
		Probability *float64 `json:"probability"`
		CloudCover  *float64 `json:"cloud_cover"`
	} `json:"predictions"`
}

func (c *PredictionClient) post(ctx context.Context, label, path string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return c.up.fetch(ctx, label, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
}

// Predict scores a single point. Missing fields default to zero, false or "unknown".
func (c *PredictionClient) Predict(ctx context.Context, lat, lon float64) (*models.Prediction, error) {
	body, err := c.post(ctx, "prediction", "/predict", coordinate{Latitude: lat, Longitude: lon})
	if err != nil {
		return nil, err
	}
	return ParsePrediction(body)
}

// ParsePrediction decodes a /predict response.
func ParsePrediction(body []byte) (*models.Prediction, error) {
	var resp predictResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: prediction: %v", ErrBadPayload, err)
	}
	p := &models.Prediction{
		Probability:    deref(resp.Probability),
		Confidence:     "unknown",
		GBProbability:  deref(resp.GBProbability),
		XGBProbability: deref(resp.XGBProbability),
		Conditions: models.Conditions{
			IsDark:           resp.Conditions.IsDark,
			CloudCover:       resp.Conditions.CloudCover,
			KpIndex:          resp.Conditions.KpIndex,
			GeomagneticStorm: resp.Conditions.GeomagneticStorm,
			MoonInterference: resp.Conditions.MoonInterference,
		},
	}
	if resp.Confidence != nil {
		p.Confidence = *resp.Confidence
	}
	return p, nil
}

// PredictBatch scores points in one call. Results are correlated to points by
// position; points beyond the returned array keep probability 0 and no cloud cover.
func (c *PredictionClient) PredictBatch(ctx context.Context, points []grid.Point) ([]models.GridPoint, error) {
	req := batchRequest{Locations: make([]coordinate, len(points))}
	for i, p := range points {
		req.Locations[i] = coordinate{Latitude: p.Lat, Longitude: p.Lon}
	}
	body, err := c.post(ctx, "prediction_batch", "/predict/batch", req)
	if err != nil {
		return nil, err
	}
	return MergeBatch(points, body)
}

// MergeBatch applies a /predict/batch response to points positionally.
func MergeBatch(points []grid.Point, body []byte) ([]models.GridPoint, error) {
	var resp batchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: batch prediction: %v", ErrBadPayload, err)
	}
	out := grid.ToGridPoints(points)
	for i := range out {
		if i >= len(resp.Predictions) {
			break
		}
		out[i].Probability = deref(resp.Predictions[i].Probability)
		out[i].CloudCover = resp.Predictions[i].CloudCover
	}
	return out, nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
