package dpclim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/glacioclim/snowobs/internal/clock"
)

var (
	// ErrAuth marks a call rejected twice by the upstream even after a
	// token refresh.
	ErrAuth = errors.New("authorization rejected")

	// ErrTransient marks network or server-side failures that survived
	// the bounded retries. Per-scale callers log it and move on.
	ErrTransient = errors.New("transient upstream error")

	errServer = errors.New("server error")
)

// defaultRetryAfter applies when a 429 carries no usable Retry-After.
const defaultRetryAfter = 60 * time.Second

const transientAttempts = 2

// TokenSource supplies bearer tokens and accepts invalidation on
// upstream auth rejections. Satisfied by *auth.TokenCache.
type TokenSource interface {
	Token(ctx context.Context, useCache bool) (string, error)
	Invalidate()
}

// Limiter gates outbound calls. Satisfied by *ratelimit.Limiter.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Response is the protocol-level outcome of one upstream call. Callers
// interpret the status; the client only normalizes auth, throttling,
// and transient failures.
type Response struct {
	StatusCode int
	Body       []byte

	// RetryAfter is the server-advertised delay, zero when absent.
	RetryAfter time.Duration
}

// Client wraps the DPClim HTTP surface with the shared rate limiter,
// bearer tokens, and a circuit breaker.
//
// Policy on every call:
//   - 401/403: invalidate the token cache, mint fresh, retry once.
//   - 429: honor Retry-After (default 60s), retry once; a repeat 429 is
//     returned to the caller.
//   - 204: returned as a normal response.
//   - network errors and 5xx: one further attempt, then ErrTransient.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	limiter Limiter
	breaker *gobreaker.CircuitBreaker
	clk     clock.Clock
}

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenSource
	Limiter Limiter
	Clock   clock.Clock // default clock.System()
}

// NewClient creates a Client with its own circuit breaker.
func NewClient(opts ClientOptions) *Client {
	if opts.HTTP == nil {
		opts.HTTP = http.DefaultClient
	}
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dpclim",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		baseURL: opts.BaseURL,
		http:    opts.HTTP,
		tokens:  opts.Tokens,
		limiter: opts.Limiter,
		breaker: cb,
		clk:     opts.Clock,
	}
}

// Get issues a GET against path with the query attached.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, query)
}

// Post issues a POST against path. The DPClim command endpoints take
// all their inputs as query parameters; the body stays empty.
func (c *Client) Post(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, query)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values) (*Response, error) {
	var (
		authRetried bool
		rateRetried bool
		attempt     int
	)

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Every attempt, retries included, consumes a rate slot.
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		token, err := c.tokens.Token(ctx, true)
		if err != nil {
			return nil, fmt.Errorf("obtain token: %w", err)
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.roundTrip(ctx, method, path, query, token)
		})

		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, fmt.Errorf("%w: circuit breaker: %v", ErrTransient, err)
			}

			attempt++
			if attempt >= transientAttempts {
				return nil, fmt.Errorf("%w: %v", ErrTransient, err)
			}
			slog.Warn("dpclim: attempt failed, retrying", "method", method, "path", path, "error", err)
			continue
		}

		resp := result.(*Response)

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			if authRetried {
				return nil, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
			}
			authRetried = true
			slog.Info("dpclim: token rejected, refreshing", "status", resp.StatusCode, "path", path)
			c.tokens.Invalidate()
			continue

		case resp.StatusCode == http.StatusTooManyRequests && !rateRetried:
			rateRetried = true
			delay := resp.RetryAfter
			if delay <= 0 {
				delay = defaultRetryAfter
			}
			slog.Debug("dpclim: throttled, honoring delay", "delay", delay, "path", path)
			if err := c.clk.Sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		return resp, nil
	}
}

// roundTrip runs one HTTP exchange. Server errors surface as errors so
// the circuit breaker counts them; every other status is a protocol
// outcome the caller interprets.
func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, token string) (*Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: %d", errServer, resp.StatusCode)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}, nil
}

// parseRetryAfter reads a Retry-After value in seconds. Fractions are
// accepted; anything else yields zero and the caller's default applies.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
