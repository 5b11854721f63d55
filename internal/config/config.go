package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

// AppConfig carries everything the acquisition commands need.
type AppConfig struct {
	// Upstream endpoints.
	BaseURL  string `validate:"required,url"`
	TokenURL string `validate:"required,url"`

	// Credential file (id:secret or base64) and token cache location.
	IDFile     string `validate:"required"`
	TokenCache string `validate:"required"`

	// Input station list and the durable missing-observation registry.
	StationsFile string `validate:"required"`
	MissingFile  string `validate:"required"`

	// MaxRPM is the shared requests-per-minute budget across every
	// upstream call, token exchanges included.
	MaxRPM int `validate:"min=1"`

	HTTPTimeout  time.Duration `validate:"gt=0"`
	PollInterval time.Duration `validate:"gt=0"`

	// WaitBudget bounds the total time spent waiting on one export
	// command before it is abandoned.
	WaitBudget time.Duration `validate:"gt=0"`

	// StrictScales restricts each station to its declared scales.
	StrictScales bool

	// RetentionDays bounds how far back the registry keeps retrying.
	RetentionDays int `validate:"min=1"`

	LogLevel string `validate:"oneof=debug info warn error"`
	AppEnv   string `validate:"oneof=dev prod"`
}

// Load reads configuration from the environment with defaults suited
// to the public DPClim deployment. A .env file is honored when present.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg := &AppConfig{
		BaseURL:       getenvDefault("METEO_BASE_URL", "https://public-api.meteofrance.fr/public/DPClim/v1"),
		TokenURL:      getenvDefault("METEO_TOKEN_URL", "https://portail-api.meteofrance.fr/token"),
		IDFile:        getenvDefault("MF_ID_FILE", ".secrets/mf_api_id"),
		TokenCache:    getenvDefault("METEO_TOKEN_CACHE", ".secrets/mf_token_cache.json"),
		StationsFile:  getenvDefault("STATIONS_JSON", "data/stations.json"),
		MissingFile:   getenvDefault("MISSING_OBS_JSON", "data/missing_observations.json"),
		MaxRPM:        getenvInt("METEO_MAX_RPM", 50),
		StrictScales:  getenvBool("STRICT_SCALES", true),
		RetentionDays: getenvInt("MISSING_RETENTION_DAYS", 11),
		LogLevel:      getenvDefault("LOG_LEVEL", "info"),
		AppEnv:        getenvDefault("APP_ENV", "dev"),
	}

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getenvDuration("POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.WaitBudget, err = getenvDuration("POLL_WAIT_BUDGET", 5*time.Minute); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
