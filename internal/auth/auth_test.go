package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func clearCredentialEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MF_BASIC_AUTH_B64", "")
	t.Setenv("MF_CLIENT_ID", "")
	t.Setenv("MF_CLIENT_SECRET", "")
}

func TestResolveCredentials(t *testing.T) {
	t.Run("env b64", func(t *testing.T) {
		clearCredentialEnv(t)
		t.Setenv("MF_BASIC_AUTH_B64", "YWJjOmRlZg==")

		c, err := ResolveCredentials("does-not-exist")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.BasicAuth() != "YWJjOmRlZg==" {
			t.Fatalf("unexpected basic auth: %q", c.BasicAuth())
		}
	})

	t.Run("env id and secret", func(t *testing.T) {
		clearCredentialEnv(t)
		t.Setenv("MF_CLIENT_ID", "abc")
		t.Setenv("MF_CLIENT_SECRET", "def")

		c, err := ResolveCredentials("does-not-exist")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := base64.StdEncoding.EncodeToString([]byte("abc:def"))
		if c.BasicAuth() != want {
			t.Fatalf("expected %q, got %q", want, c.BasicAuth())
		}
	})

	t.Run("file with id:secret", func(t *testing.T) {
		clearCredentialEnv(t)
		path := filepath.Join(t.TempDir(), "mf_api_id")
		if err := os.WriteFile(path, []byte("abc:def\n"), 0o600); err != nil {
			t.Fatal(err)
		}

		c, err := ResolveCredentials(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := base64.StdEncoding.EncodeToString([]byte("abc:def"))
		if c.BasicAuth() != want {
			t.Fatalf("expected %q, got %q", want, c.BasicAuth())
		}
	})

	t.Run("file already base64", func(t *testing.T) {
		clearCredentialEnv(t)
		path := filepath.Join(t.TempDir(), "mf_api_id")
		if err := os.WriteFile(path, []byte("YWJjOmRlZg=="), 0o600); err != nil {
			t.Fatal(err)
		}

		c, err := ResolveCredentials(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.BasicAuth() != "YWJjOmRlZg==" {
			t.Fatalf("unexpected basic auth: %q", c.BasicAuth())
		}
	})

	t.Run("nothing anywhere", func(t *testing.T) {
		clearCredentialEnv(t)
		if _, err := ResolveCredentials(filepath.Join(t.TempDir(), "absent")); err == nil {
			t.Fatal("expected an error when no credentials can be found")
		}
	})
}

// newTokenServer returns a token endpoint that counts exchanges.
func newTokenServer(t *testing.T, token string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var count atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Authorization") == "" {
			t.Error("missing Authorization header")
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		fmt.Fprintf(w, `{"access_token":%q,"expires_in":3600}`, token)
	}))
	t.Cleanup(srv.Close)
	return srv, &count
}

func newCache(srvURL, cachePath string) *TokenCache {
	return NewTokenCache(TokenCacheOptions{
		TokenURL:  srvURL,
		Creds:     Credentials{basic: "YWJjOmRlZg=="},
		CachePath: cachePath,
	})
}

func TestTokenMintAndMemoryCache(t *testing.T) {
	srv, count := newTokenServer(t, "tok-1")
	tc := newCache(srv.URL, "")

	got, err := tc.Token(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "tok-1" {
		t.Fatalf("expected tok-1, got %q", got)
	}

	if _, err := tc.Token(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := count.Load(); n != 1 {
		t.Fatalf("expected a single exchange, got %d", n)
	}
}

func TestTokenCacheFileSurvivesRestart(t *testing.T) {
	srv, count := newTokenServer(t, "tok-1")
	path := filepath.Join(t.TempDir(), "mf_token.json")

	if _, err := newCache(srv.URL, path).Token(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A fresh cache instance stands in for a new process run.
	got, err := newCache(srv.URL, path).Token(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "tok-1" {
		t.Fatalf("expected cached tok-1, got %q", got)
	}
	if n := count.Load(); n != 1 {
		t.Fatalf("expected a single exchange across runs, got %d", n)
	}
}

func TestTokenSkewForcesRefresh(t *testing.T) {
	srv, count := newTokenServer(t, "tok-2")
	path := filepath.Join(t.TempDir(), "mf_token.json")

	// Expires in 100s, inside the 300s safety skew.
	stale, _ := json.Marshal(cacheFile{
		AccessToken: "tok-stale",
		ExpiresAt:   float64(time.Now().Add(100 * time.Second).Unix()),
	})
	if err := os.WriteFile(path, stale, 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := newCache(srv.URL, path).Token(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "tok-2" {
		t.Fatalf("expected a fresh token, got %q", got)
	}
	if n := count.Load(); n != 1 {
		t.Fatalf("expected one exchange, got %d", n)
	}
}

func TestTokenCorruptCacheFileIgnored(t *testing.T) {
	srv, _ := newTokenServer(t, "tok-3")
	path := filepath.Join(t.TempDir(), "mf_token.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := newCache(srv.URL, path).Token(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "tok-3" {
		t.Fatalf("expected tok-3, got %q", got)
	}
}

func TestInvalidateDropsMemoryAndFile(t *testing.T) {
	srv, count := newTokenServer(t, "tok-4")
	path := filepath.Join(t.TempDir(), "mf_token.json")
	tc := newCache(srv.URL, path)

	if _, err := tc.Token(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tc.Invalidate()
	tc.Invalidate() // idempotent

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected cache file removed, stat err %v", err)
	}

	if _, err := tc.Token(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := count.Load(); n != 2 {
		t.Fatalf("expected a second exchange after invalidation, got %d", n)
	}
}

func TestTokenBypassCache(t *testing.T) {
	srv, count := newTokenServer(t, "tok-5")
	tc := newCache(srv.URL, "")

	if _, err := tc.Token(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tc.Token(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := count.Load(); n != 2 {
		t.Fatalf("expected cache bypass to exchange again, got %d", n)
	}
}

func TestTokenHTTPErrorIsExchangeError(t *testing.T) {
	var count atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		http.Error(w, "bad client", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newCache(srv.URL, "").Token(context.Background(), true)
	if !errors.Is(err, ErrExchange) {
		t.Fatalf("expected ErrExchange, got %v", err)
	}
	// HTTP error statuses are definitive, not retried.
	if n := count.Load(); n != 1 {
		t.Fatalf("expected one attempt, got %d", n)
	}
}

func TestTokenUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newCache(srv.URL, "").Token(context.Background(), true)
	if !errors.Is(err, ErrExchange) {
		t.Fatalf("expected ErrExchange, got %v", err)
	}
}

type countingLimiter struct {
	acquired atomic.Int64
}

func (l *countingLimiter) Acquire(ctx context.Context) error {
	l.acquired.Add(1)
	return ctx.Err()
}

func TestTokenExchangeUsesLimiter(t *testing.T) {
	srv, _ := newTokenServer(t, "tok-6")
	lim := &countingLimiter{}

	tc := NewTokenCache(TokenCacheOptions{
		TokenURL: srv.URL,
		Creds:    Credentials{basic: "YWJjOmRlZg=="},
		Limiter:  lim,
	})

	if _, err := tc.Token(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := lim.acquired.Load(); n != 1 {
		t.Fatalf("expected the exchange to pass through the limiter once, got %d", n)
	}
}
