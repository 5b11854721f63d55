package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/glacioclim/snowobs/internal/clock"
)

// ErrExchange marks a failed OAuth2 client-credentials exchange. It is
// fatal at startup and logged everywhere else.
var ErrExchange = errors.New("token exchange failed")

// DefaultSkew is subtracted from a token's expiry before serving it, so
// a token is never handed out moments before the upstream rejects it.
const DefaultSkew = 300 * time.Second

const defaultExpiresIn = 3600

// Limiter gates outbound calls. Satisfied by *ratelimit.Limiter.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// TokenCacheOptions configures a TokenCache. Zero values fall back to
// sensible defaults where noted.
type TokenCacheOptions struct {
	TokenURL  string
	Creds     Credentials
	CachePath string        // persisted token file; empty disables persistence
	Skew      time.Duration // default DefaultSkew
	Client    *http.Client  // default http.DefaultClient
	Limiter   Limiter       // optional; exchange calls share the request budget
	Clock     clock.Clock   // default clock.System()
}

// TokenCache owns the bearer token lifecycle: it serves a cached token
// while it remains valid, mints a fresh one lazily otherwise, and
// persists tokens across process runs through a small JSON file.
type TokenCache struct {
	mu        sync.Mutex
	tokenURL  string
	creds     Credentials
	cachePath string
	skew      time.Duration
	client    *http.Client
	limiter   Limiter
	clk       clock.Clock

	token     string
	expiresAt time.Time
}

// NewTokenCache creates a TokenCache from opts.
func NewTokenCache(opts TokenCacheOptions) *TokenCache {
	if opts.Skew <= 0 {
		opts.Skew = DefaultSkew
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	return &TokenCache{
		tokenURL:  opts.TokenURL,
		creds:     opts.Creds,
		cachePath: opts.CachePath,
		skew:      opts.Skew,
		client:    opts.Client,
		limiter:   opts.Limiter,
		clk:       opts.Clock,
	}
}

// cacheFile matches the on-disk layout shared with earlier tooling:
// epoch seconds, not RFC3339.
type cacheFile struct {
	AccessToken string  `json:"access_token"`
	ExpiresAt   float64 `json:"expires_at"`
	WrittenAt   float64 `json:"written_at"`
}

// Token returns a valid bearer token. With useCache it serves the
// in-memory or on-disk token while its expiry, less the safety skew, is
// still ahead; otherwise it performs the credential exchange.
func (t *TokenCache) Token(ctx context.Context, useCache bool) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()

	if useCache {
		if t.token != "" && now.Before(t.expiresAt.Add(-t.skew)) {
			return t.token, nil
		}
		if tok, exp, ok := t.readCacheFile(now); ok {
			t.token, t.expiresAt = tok, exp
			return tok, nil
		}
	}

	return t.exchange(ctx)
}

// Invalidate drops the cached token in memory and on disk. Idempotent.
func (t *TokenCache) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.token = ""
	t.expiresAt = time.Time{}
	if t.cachePath != "" {
		if err := os.Remove(t.cachePath); err != nil && !os.IsNotExist(err) {
			slog.Warn("auth: could not remove token cache file", "path", t.cachePath, "error", err)
		}
	}
}

func (t *TokenCache) readCacheFile(now time.Time) (string, time.Time, bool) {
	if t.cachePath == "" {
		return "", time.Time{}, false
	}
	raw, err := os.ReadFile(t.cachePath)
	if err != nil {
		return "", time.Time{}, false
	}

	var f cacheFile
	if err := json.Unmarshal(raw, &f); err != nil || f.AccessToken == "" {
		// A corrupt cache file is regenerated, never fatal.
		return "", time.Time{}, false
	}

	exp := time.Unix(int64(f.ExpiresAt), 0)
	if !now.Before(exp.Add(-t.skew)) {
		return "", time.Time{}, false
	}
	return f.AccessToken, exp, true
}

func (t *TokenCache) writeCacheFile(token string, exp time.Time) {
	if t.cachePath == "" {
		return
	}
	payload, err := json.MarshalIndent(cacheFile{
		AccessToken: token,
		ExpiresAt:   float64(exp.Unix()),
		WrittenAt:   float64(t.clk.Now().Unix()),
	}, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(t.cachePath), 0o700); err != nil {
		slog.Warn("auth: could not create token cache dir", "path", t.cachePath, "error", err)
		return
	}
	if err := os.WriteFile(t.cachePath, payload, 0o600); err != nil {
		slog.Warn("auth: could not write token cache file", "path", t.cachePath, "error", err)
	}
}

// exchange performs the OAuth2 client-credentials call. Transport
// failures get one further attempt; an HTTP error status fails at once.
// Caller holds the lock.
func (t *TokenCache) exchange(ctx context.Context) (string, error) {
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		if t.limiter != nil {
			if err := t.limiter.Acquire(ctx); err != nil {
				return "", err
			}
		}

		body, status, err := t.postForm(ctx)
		if err != nil {
			lastErr = err
			slog.Warn("auth: token endpoint unreachable", "attempt", attempt+1, "error", err)
			continue
		}

		if status < 200 || status >= 300 {
			return "", fmt.Errorf("%w: status %d: %s", ErrExchange, status, preview(body))
		}

		var parsed struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int    `json:"expires_in"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", fmt.Errorf("%w: invalid response: %v", ErrExchange, err)
		}
		if parsed.AccessToken == "" {
			return "", fmt.Errorf("%w: response carries no access_token", ErrExchange)
		}
		if parsed.ExpiresIn <= 0 {
			parsed.ExpiresIn = defaultExpiresIn
		}

		t.token = parsed.AccessToken
		t.expiresAt = t.clk.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
		t.writeCacheFile(t.token, t.expiresAt)
		return t.token, nil
	}

	return "", fmt.Errorf("%w: %v", ErrExchange, lastErr)
}

func (t *TokenCache) postForm(ctx context.Context) ([]byte, int, error) {
	form := url.Values{"grant_type": {"client_credentials"}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Basic "+t.creds.BasicAuth())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func preview(body []byte) string {
	const max = 300
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max]
	}
	return s
}
