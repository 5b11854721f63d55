package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"

	"github.com/glacioclim/snowobs/internal/auth"
	"github.com/glacioclim/snowobs/internal/config"
	"github.com/glacioclim/snowobs/internal/dpclim"
	"github.com/glacioclim/snowobs/internal/missing"
	"github.com/glacioclim/snowobs/internal/ratelimit"
	"github.com/glacioclim/snowobs/internal/snow"
	"github.com/glacioclim/snowobs/internal/station"
)

// newApp loads configuration and installs the process logger. Every
// subcommand starts here.
func newApp() (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(newLogger(cfg))
	return cfg, nil
}

// newLogger writes to stderr so the observation stream on stdout stays
// machine-readable.
func newLogger(cfg *config.AppConfig) *slog.Logger {
	level := parseLevel(cfg.LogLevel)
	run := uuid.NewString()[:8]

	if cfg.AppEnv == "dev" {
		h := tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("app", "snowobs", "run", run)
	}

	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(h).With("app", "snowobs", "env", cfg.AppEnv, "run", run)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// engine bundles the long-lived pieces the acquisition commands share:
// one token cache and one rate limiter feed every upstream call.
type engine struct {
	cfg      *config.AppConfig
	tokens   *auth.TokenCache
	fetcher  *snow.Fetcher
	registry *missing.Registry
}

func newEngine(cfg *config.AppConfig) (*engine, error) {
	creds, err := auth.ResolveCredentials(cfg.IDFile)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	limiter := ratelimit.New(cfg.MaxRPM, time.Minute)

	tokens := auth.NewTokenCache(auth.TokenCacheOptions{
		TokenURL:  cfg.TokenURL,
		Creds:     creds,
		CachePath: cfg.TokenCache,
		Client:    httpClient,
		Limiter:   limiter,
	})
	client := dpclim.NewClient(dpclim.ClientOptions{
		BaseURL: cfg.BaseURL,
		HTTP:    httpClient,
		Tokens:  tokens,
		Limiter: limiter,
	})
	exporter := dpclim.NewExporter(dpclim.ExporterOptions{
		Client:       client,
		PollInterval: cfg.PollInterval,
		WaitBudget:   cfg.WaitBudget,
	})
	fetcher := snow.NewFetcher(snow.FetcherOptions{
		Provider:  exporter,
		AllScales: !cfg.StrictScales,
	})

	return &engine{
		cfg:      cfg,
		tokens:   tokens,
		fetcher:  fetcher,
		registry: missing.NewRegistry(cfg.MissingFile),
	}, nil
}

// mintToken proves the upstream is reachable before a run burns its
// rate budget. This is the single fatal auth path; later auth trouble
// is handled per call.
func (e *engine) mintToken(ctx context.Context) error {
	if _, err := e.tokens.Token(ctx, true); err != nil {
		return fmt.Errorf("initial token: %w", err)
	}
	return nil
}

// stations loads the station list, narrowed to one id when only is
// non-zero.
func (e *engine) stations(only int64) ([]station.Station, error) {
	all, err := station.Load(e.cfg.StationsFile)
	if err != nil {
		return nil, err
	}
	if only == 0 {
		return all, nil
	}
	subset := station.FilterByID(all, only)
	if len(subset) == 0 {
		return nil, fmt.Errorf("station %d not in %s", only, e.cfg.StationsFile)
	}
	return subset, nil
}

// openOutput returns stdout for an empty path, otherwise creates the
// file. The returned closer is a no-op for stdout.
func openOutput(path string) (*os.File, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, f.Close, nil
}

// parseDay reads a YYYY-MM-DD flag value, defaulting to the current UTC
// day. Intraday runs are fine: the sub-hourly window clamps to now and
// later runs pick up what the day accumulates.
func parseDay(v string) (time.Time, error) {
	if v == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	day, err := time.ParseInLocation("2006-01-02", v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", v, err)
	}
	return day, nil
}
