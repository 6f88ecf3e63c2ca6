package client

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/kjstillabower/aurora-service/internal/astronomy"
)

// DefaultWeatherKitURL is the WeatherKit REST base URL.
const DefaultWeatherKitURL = "https://weatherkit.apple.com"

const (
	tokenLifetime = time.Hour
	tokenRefresh  = 5 * time.Minute
)

// WeatherKitCredentials identify the developer key used to sign requests.
type WeatherKitCredentials struct {
	KeyID         string
	TeamID        string
	ServiceID     string
	PrivateKeyPEM string
}

// Configured reports whether every credential is present.
func (c WeatherKitCredentials) Configured() bool {
	return c.KeyID != "" && c.TeamID != "" && c.ServiceID != "" && c.PrivateKeyPEM != ""
}

// WeatherKitClient fetches daily astronomy from Apple WeatherKit. Without
// credentials every call fails with ErrProviderUnconfigured.
type WeatherKitClient struct {
	up      *upstream
	baseURL string
	creds   WeatherKitCredentials
	key     *ecdsa.PrivateKey
	clock   clockwork.Clock

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewWeatherKitClient parses the private key when credentials are configured.
// A configured but unparseable key is an error.
func NewWeatherKitClient(baseURL string, creds WeatherKitCredentials, timeout time.Duration, retry RetryConfig, breaker *gobreaker.CircuitBreaker, clock clockwork.Clock) (*WeatherKitClient, error) {
	if baseURL == "" {
		baseURL = DefaultWeatherKitURL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c := &WeatherKitClient{
		up:      newUpstream(&http.Client{}, timeout, retry, breaker),
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		clock:   clock,
	}
	if creds.Configured() {
		pem := strings.ReplaceAll(creds.PrivateKeyPEM, `\n`, "\n")
		key, err := jwt.ParseECPrivateKeyFromPEM([]byte(pem))
		if err != nil {
			return nil, fmt.Errorf("parse weatherkit private key: %w", err)
		}
		c.key = key
	}
	return c, nil
}

// Configured reports whether requests can be signed.
func (c *WeatherKitClient) Configured() bool {
	return c.key != nil
}

// Token returns a signed developer token, reusing the cached one until it is
// within tokenRefresh of expiry.
func (c *WeatherKitClient) Token() (string, error) {
	if !c.Configured() {
		return "", ErrProviderUnconfigured
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.token != "" && now.Before(c.tokenExp.Add(-tokenRefresh)) {
		return c.token, nil
	}

	exp := now.Add(tokenLifetime)
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Issuer:    c.creds.TeamID,
		Subject:   c.creds.ServiceID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	token.Header["kid"] = c.creds.KeyID
	token.Header["id"] = c.creds.TeamID + "." + c.creds.ServiceID

	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign weatherkit token: %w", err)
	}
	c.token = signed
	c.tokenExp = exp
	return signed, nil
}

type weatherKitResponse struct {
	ForecastDaily *struct {
		Days []struct {
			Sunrise   *string `json:"sunrise"`
			Sunset    *string `json:"sunset"`
			Moonrise  *string `json:"moonrise"`
			Moonset   *string `json:"moonset"`
			MoonPhase *string `json:"moonPhase"`
		} `json:"days"`
	} `json:"forecastDaily"`
}

// DailyAstronomy implements astronomy.Provider using today's forecastDaily record.
func (c *WeatherKitClient) DailyAstronomy(ctx context.Context, lat, lon float64) (astronomy.Daily, error) {
	token, err := c.Token()
	if err != nil {
		return astronomy.Daily{}, err
	}

	url := fmt.Sprintf("%s/api/v1/weather/en/%.4f/%.4f?dataSets=forecastDaily", c.baseURL, lat, lon)
	body, err := c.up.fetch(ctx, "weatherkit", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return astronomy.Daily{}, err
	}
	return ParseWeatherKitDaily(body)
}

// ParseWeatherKitDaily extracts the first daily record.
func ParseWeatherKitDaily(body []byte) (astronomy.Daily, error) {
	var resp weatherKitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return astronomy.Daily{}, fmt.Errorf("%w: weatherkit: %v", ErrBadPayload, err)
	}
	if resp.ForecastDaily == nil || len(resp.ForecastDaily.Days) == 0 {
		return astronomy.Daily{}, astronomy.ErrNoData
	}
	today := resp.ForecastDaily.Days[0]
	d := astronomy.Daily{
		Sunrise:  today.Sunrise,
		Sunset:   today.Sunset,
		Moonrise: today.Moonrise,
		Moonset:  today.Moonset,
	}
	if today.MoonPhase != nil {
		d.MoonPhase = *today.MoonPhase
	}
	return d, nil
}
