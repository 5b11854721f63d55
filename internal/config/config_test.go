package config

import (
	"testing"
	"time"
)

var knownKeys = []string{
	"METEO_BASE_URL", "METEO_TOKEN_URL", "MF_ID_FILE", "METEO_TOKEN_CACHE",
	"STATIONS_JSON", "MISSING_OBS_JSON", "METEO_MAX_RPM", "STRICT_SCALES",
	"MISSING_RETENTION_DAYS", "HTTP_TIMEOUT", "POLL_INTERVAL",
	"POLL_WAIT_BUDGET", "LOG_LEVEL", "APP_ENV",
}

// clearEnv blanks every configuration variable so tests see defaults
// regardless of the invoking shell.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range knownKeys {
		t.Setenv(k, "")
	}
}

// TestLoadDefaults verifies the defaults line up with the public
// DPClim deployment.
func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BaseURL != "https://public-api.meteofrance.fr/public/DPClim/v1" {
		t.Fatalf("unexpected base URL %q", cfg.BaseURL)
	}
	if cfg.MaxRPM != 50 {
		t.Fatalf("expected 50 requests per minute, got %d", cfg.MaxRPM)
	}
	if !cfg.StrictScales {
		t.Fatal("expected strict scales by default")
	}
	if cfg.RetentionDays != 11 {
		t.Fatalf("expected 11 retention days, got %d", cfg.RetentionDays)
	}
	if cfg.HTTPTimeout != 30*time.Second || cfg.PollInterval != 5*time.Second || cfg.WaitBudget != 5*time.Minute {
		t.Fatalf("unexpected durations %v/%v/%v", cfg.HTTPTimeout, cfg.PollInterval, cfg.WaitBudget)
	}
	if cfg.LogLevel != "info" || cfg.AppEnv != "dev" {
		t.Fatalf("unexpected logging defaults %q/%q", cfg.LogLevel, cfg.AppEnv)
	}
}

// TestLoadOverrides verifies environment values take precedence.
func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("METEO_MAX_RPM", "10")
	t.Setenv("STRICT_SCALES", "false")
	t.Setenv("POLL_WAIT_BUDGET", "90s")
	t.Setenv("STATIONS_JSON", "/srv/stations.json")
	t.Setenv("APP_ENV", "prod")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxRPM != 10 {
		t.Fatalf("expected 10, got %d", cfg.MaxRPM)
	}
	if cfg.StrictScales {
		t.Fatal("expected strict scales disabled")
	}
	if cfg.WaitBudget != 90*time.Second {
		t.Fatalf("expected 90s, got %v", cfg.WaitBudget)
	}
	if cfg.StationsFile != "/srv/stations.json" {
		t.Fatalf("unexpected stations file %q", cfg.StationsFile)
	}
	if cfg.AppEnv != "prod" {
		t.Fatalf("unexpected env %q", cfg.AppEnv)
	}
}

// TestLoadRejectsBadValues verifies that malformed or out-of-range
// values fail loading instead of being silently patched up.
func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad duration", "HTTP_TIMEOUT", "soon"},
		{"zero rpm", "METEO_MAX_RPM", "0"},
		{"unknown log level", "LOG_LEVEL", "loud"},
		{"bad url", "METEO_BASE_URL", "not a url"},
		{"unknown app env", "APP_ENV", "staging"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected an error for %s=%q", tc.key, tc.value)
			}
		})
	}
}
