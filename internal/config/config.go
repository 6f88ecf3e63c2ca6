package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML, .env and the environment.
// It is built once at startup and not mutated afterwards.
type Config struct {
	TestingMode bool

	ServerPort     string
	RequestTimeout time.Duration

	ViewTimeout     time.Duration
	FallbackTimeout time.Duration

	NOAAKpURL        string
	NOAAMagURL       string
	NOAAPlasmaURL    string
	NOAAFlaresURL    string
	NOAAHemiPowerURL string
	NOAATimeout      time.Duration

	PredictionURL     string
	PredictionTimeout time.Duration

	WeatherKitURL        string
	WeatherKitTimeout    time.Duration
	WeatherKitKeyID      string
	WeatherKitTeamID     string
	WeatherKitServiceID  string
	WeatherKitPrivateKey string

	CacheBackend    string // "in_memory", "memcached" or "sqlite"
	SpaceWeatherTTL time.Duration
	SolarWindTTL    time.Duration
	// CacheRetention is how long entries outlive their TTL before pruning.
	CacheRetention time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	SQLitePath string

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	BreakerConsecutiveFailures uint32
	BreakerTimeout             time.Duration
	BreakerInterval            time.Duration
	BreakerMaxRequests         uint32

	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int

	WarmingEnabled  bool
	WarmingInterval time.Duration
	WarmingTimeout  time.Duration

	WebcamsPath string

	// ApproximateAstronomy selects the local astronomy strategy when no
	// WeatherKit credentials are configured.
	ApproximateAstronomy bool

	OTLPEndpoint     string
	TraceSampleRatio float64
}

type fileConfig struct {
	TestingMode *bool `yaml:"testing_mode"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Views struct {
		Timeout         string `yaml:"timeout"`
		FallbackTimeout string `yaml:"fallback_timeout"`
	} `yaml:"views"`

	Upstreams struct {
		NOAA struct {
			KpURL        string `yaml:"kp_url"`
			MagURL       string `yaml:"mag_url"`
			PlasmaURL    string `yaml:"plasma_url"`
			FlaresURL    string `yaml:"flares_url"`
			HemiPowerURL string `yaml:"hemi_power_url"`
			Timeout      string `yaml:"timeout"`
		} `yaml:"noaa"`
		Prediction struct {
			URL     string `yaml:"url"`
			Timeout string `yaml:"timeout"`
		} `yaml:"prediction"`
		WeatherKit struct {
			URL     string `yaml:"url"`
			Timeout string `yaml:"timeout"`
		} `yaml:"weatherkit"`
	} `yaml:"upstreams"`

	Cache struct {
		Backend         string `yaml:"backend"`
		SpaceWeatherTTL string `yaml:"space_weather_ttl"`
		SolarWindTTL    string `yaml:"solar_wind_ttl"`
		Retention       string `yaml:"retention"`
		Memcached       struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts           int    `yaml:"retry_max_attempts"`
		RetryBaseDelay             string `yaml:"retry_base_delay"`
		RetryMaxDelay              string `yaml:"retry_max_delay"`
		RateLimitRPS               int    `yaml:"rate_limit_rps"`
		RateLimitBurst             int    `yaml:"rate_limit_burst"`
		BreakerConsecutiveFailures uint32 `yaml:"breaker_consecutive_failures"`
		BreakerTimeout             string `yaml:"breaker_timeout"`
		BreakerInterval            string `yaml:"breaker_interval"`
		BreakerMaxRequests         uint32 `yaml:"breaker_max_requests"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Health struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Warming struct {
		Enabled  bool   `yaml:"enabled"`
		Interval string `yaml:"interval"`
		Timeout  string `yaml:"timeout"`
	} `yaml:"warming"`

	Webcams struct {
		Path string `yaml:"path"`
	} `yaml:"webcams"`

	Astronomy struct {
		ApproximateWithoutProvider *bool `yaml:"approximate_without_provider"`
	} `yaml:"astronomy"`

	Telemetry struct {
		OTLPEndpoint string   `yaml:"otlp_endpoint"`
		SampleRatio  *float64 `yaml:"sample_ratio"`
	} `yaml:"telemetry"`
}

type secretsFile struct {
	WeatherKitKeyID      string `yaml:"weatherkit_key_id"`
	WeatherKitTeamID     string `yaml:"weatherkit_team_id"`
	WeatherKitServiceID  string `yaml:"weatherkit_service_id"`
	WeatherKitPrivateKey string `yaml:"weatherkit_private_key"`
}

// envOverrides are applied on top of the YAML file. Unset variables leave
// the file value in place.
type envOverrides struct {
	ServerPort     string `env:"SERVER_PORT"`
	TestingMode    *bool  `env:"TESTING_MODE"`
	CacheBackend   string `env:"CACHE_BACKEND"`
	MemcachedAddrs string `env:"MEMCACHED_ADDRS"`
	SQLitePath     string `env:"SQLITE_PATH"`
	PredictionURL  string `env:"PREDICTION_API_URL"`
	RateLimitRPS   *int   `env:"RATE_LIMIT_RPS"`
	WebcamsPath    string `env:"WEBCAMS_PATH"`
	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	WeatherKitKeyID      string `env:"WEATHERKIT_KEY_ID"`
	WeatherKitTeamID     string `env:"WEATHERKIT_TEAM_ID"`
	WeatherKitServiceID  string `env:"WEATHERKIT_SERVICE_ID"`
	WeatherKitPrivateKey string `env:"WEATHERKIT_PRIVATE_KEY"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), an
// optional .env file, environment overrides and config/secrets.yaml.
// WeatherKit credentials are optional. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	envName := os.Getenv("ENV_NAME")
	if envName == "" {
		envName = "dev"
	}
	configPath := filepath.Join(cwd, "config", envName+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg := fromFile(fc)

	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	applyOverrides(cfg, ov)

	if err := loadSecrets(cfg, filepath.Join(cwd, "config", "secrets.yaml")); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fromFile builds a Config from the parsed YAML, filling defaults.
func fromFile(fc fileConfig) *Config {
	cfg := &Config{}
	if fc.TestingMode != nil {
		cfg.TestingMode = *fc.TestingMode
	}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)
	cfg.ViewTimeout = parseDuration(fc.Views.Timeout, 4*time.Second)
	cfg.FallbackTimeout = parseDuration(fc.Views.FallbackTimeout, 500*time.Millisecond)

	noaa := fc.Upstreams.NOAA
	cfg.NOAAKpURL = noaa.KpURL
	cfg.NOAAMagURL = noaa.MagURL
	cfg.NOAAPlasmaURL = noaa.PlasmaURL
	cfg.NOAAFlaresURL = noaa.FlaresURL
	cfg.NOAAHemiPowerURL = noaa.HemiPowerURL
	cfg.NOAATimeout = parseDurationOrZero(noaa.Timeout, 3*time.Second)

	cfg.PredictionURL = fc.Upstreams.Prediction.URL
	cfg.PredictionTimeout = parseDurationOrZero(fc.Upstreams.Prediction.Timeout, 3*time.Second)
	cfg.WeatherKitURL = fc.Upstreams.WeatherKit.URL
	cfg.WeatherKitTimeout = parseDurationOrZero(fc.Upstreams.WeatherKit.Timeout, 3*time.Second)

	cfg.CacheBackend = fc.Cache.Backend
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.SpaceWeatherTTL = parseDuration(fc.Cache.SpaceWeatherTTL, 5*time.Minute)
	cfg.SolarWindTTL = parseDuration(fc.Cache.SolarWindTTL, time.Minute)
	cfg.CacheRetention = parseDuration(fc.Cache.Retention, time.Hour)
	cfg.MemcachedAddrs = fc.Cache.Memcached.Addrs
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.SQLitePath = fc.Cache.SQLite.Path
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join("data", "aurora-cache.db")
	}

	rel := fc.Reliability
	cfg.RetryAttempts = rel.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 2
	}
	cfg.RetryBaseDelay = parseDuration(rel.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(rel.RetryMaxDelay, time.Second)
	cfg.RateLimitRPS = rel.RateLimitRPS
	cfg.RateLimitBurst = rel.RateLimitBurst
	if cfg.RateLimitBurst <= 0 && cfg.RateLimitRPS > 0 {
		cfg.RateLimitBurst = cfg.RateLimitRPS
	}
	cfg.BreakerConsecutiveFailures = rel.BreakerConsecutiveFailures
	if cfg.BreakerConsecutiveFailures == 0 {
		cfg.BreakerConsecutiveFailures = 5
	}
	cfg.BreakerTimeout = parseDuration(rel.BreakerTimeout, 30*time.Second)
	cfg.BreakerInterval = parseDurationOrZero(rel.BreakerInterval, 0)
	cfg.BreakerMaxRequests = rel.BreakerMaxRequests
	if cfg.BreakerMaxRequests == 0 {
		cfg.BreakerMaxRequests = 1
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 10*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 5*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.OverloadWindow = parseDuration(fc.Health.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Health.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 10
	}
	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.WarmingEnabled = fc.Warming.Enabled
	cfg.WarmingInterval = parseDuration(fc.Warming.Interval, time.Minute)
	cfg.WarmingTimeout = parseDuration(fc.Warming.Timeout, 30*time.Second)

	cfg.WebcamsPath = fc.Webcams.Path

	cfg.ApproximateAstronomy = true
	if fc.Astronomy.ApproximateWithoutProvider != nil {
		cfg.ApproximateAstronomy = *fc.Astronomy.ApproximateWithoutProvider
	}

	cfg.OTLPEndpoint = fc.Telemetry.OTLPEndpoint
	cfg.TraceSampleRatio = 1
	if fc.Telemetry.SampleRatio != nil {
		cfg.TraceSampleRatio = *fc.Telemetry.SampleRatio
	}
	return cfg
}

func applyOverrides(cfg *Config, ov envOverrides) {
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setString(&cfg.ServerPort, ov.ServerPort)
	setString(&cfg.CacheBackend, ov.CacheBackend)
	setString(&cfg.MemcachedAddrs, ov.MemcachedAddrs)
	setString(&cfg.SQLitePath, ov.SQLitePath)
	setString(&cfg.PredictionURL, ov.PredictionURL)
	setString(&cfg.WebcamsPath, ov.WebcamsPath)
	setString(&cfg.OTLPEndpoint, ov.OTLPEndpoint)
	setString(&cfg.WeatherKitKeyID, ov.WeatherKitKeyID)
	setString(&cfg.WeatherKitTeamID, ov.WeatherKitTeamID)
	setString(&cfg.WeatherKitServiceID, ov.WeatherKitServiceID)
	setString(&cfg.WeatherKitPrivateKey, ov.WeatherKitPrivateKey)
	if ov.TestingMode != nil {
		cfg.TestingMode = *ov.TestingMode
	}
	if ov.RateLimitRPS != nil {
		cfg.RateLimitRPS = *ov.RateLimitRPS
		if cfg.RateLimitBurst <= 0 {
			cfg.RateLimitBurst = cfg.RateLimitRPS
		}
	}
}

// loadSecrets fills WeatherKit credentials not already set by the environment.
// A missing secrets file is not an error.
func loadSecrets(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return fmt.Errorf("parse secrets file: %w", err)
	}
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&cfg.WeatherKitKeyID, sec.WeatherKitKeyID)
	fill(&cfg.WeatherKitTeamID, sec.WeatherKitTeamID)
	fill(&cfg.WeatherKitServiceID, sec.WeatherKitServiceID)
	fill(&cfg.WeatherKitPrivateKey, sec.WeatherKitPrivateKey)
	return nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// Upstream timeouts must be positive and below the view timeout. RequestTimeout
// is raised to cover a full view plus its cache fallback when set too low.
func validate(cfg *Config) error {
	upstreams := map[string]time.Duration{
		"upstreams.noaa.timeout":       cfg.NOAATimeout,
		"upstreams.prediction.timeout": cfg.PredictionTimeout,
		"upstreams.weatherkit.timeout": cfg.WeatherKitTimeout,
	}
	for name, d := range upstreams {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
		if d >= cfg.ViewTimeout {
			return fmt.Errorf("%s (%s) must be less than views.timeout (%s)", name, d, cfg.ViewTimeout)
		}
	}
	if minRequest := cfg.ViewTimeout + cfg.FallbackTimeout; cfg.RequestTimeout <= minRequest {
		cfg.RequestTimeout = minRequest + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "sqlite":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or sqlite, got %q", cfg.CacheBackend)
	}
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("reliability.rate_limit_rps must not be negative")
	}
	if cfg.TraceSampleRatio < 0 || cfg.TraceSampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1], got %v", cfg.TraceSampleRatio)
	}
	return nil
}

// WeatherKitConfigured reports whether all WeatherKit credentials are present.
func (c *Config) WeatherKitConfigured() bool {
	return c.WeatherKitKeyID != "" && c.WeatherKitTeamID != "" && c.WeatherKitServiceID != "" && c.WeatherKitPrivateKey != ""
}
