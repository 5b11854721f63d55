package dpclim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/glacioclim/snowobs/internal/clock"
)

const (
	// DefaultPollInterval paces file polls when the server suggests no
	// delay of its own.
	DefaultPollInterval = 5 * time.Second

	// DefaultWaitBudget caps the cumulative wait for one command before
	// it is abandoned.
	DefaultWaitBudget = 300 * time.Second

	// maxPollAttempts bounds raw retries on unexpected poll outcomes.
	maxPollAttempts = 3
)

// Window bounds one export request in UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

// DayWindow computes the request window for one scale and UTC day.
// Daily and hourly cover the whole day. Sub-hourly data cannot exist
// beyond the present moment, so its end is clamped to now rounded down
// to the 6-minute step; a window that never opens reports ok=false.
func DayWindow(scale Scale, day time.Time, now time.Time) (Window, bool) {
	y, m, d := day.UTC().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	var end time.Time
	switch scale {
	case ScaleSubHourly:
		end = time.Date(y, m, d, 23, 54, 0, 0, time.UTC)
		if floor := now.UTC().Truncate(6 * time.Minute); floor.Before(end) {
			end = floor
		}
	default:
		end = time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
	}

	if !end.After(start) {
		return Window{}, false
	}
	return Window{Start: start, End: end}, true
}

// Exporter drives the asynchronous export protocol: create a command,
// poll for its file, and answer per-station capability questions.
type Exporter struct {
	client       *Client
	clk          clock.Clock
	pollInterval time.Duration
	waitBudget   time.Duration

	capMu sync.Mutex
	caps  map[int64]capEntry
}

// ExporterOptions configures an Exporter. Zero durations fall back to
// the package defaults.
type ExporterOptions struct {
	Client       *Client
	Clock        clock.Clock
	PollInterval time.Duration
	WaitBudget   time.Duration
}

// NewExporter creates an Exporter.
func NewExporter(opts ExporterOptions) *Exporter {
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.WaitBudget <= 0 {
		opts.WaitBudget = DefaultWaitBudget
	}
	return &Exporter{
		client:       opts.Client,
		clk:          opts.Clock,
		pollInterval: opts.PollInterval,
		waitBudget:   opts.WaitBudget,
		caps:         make(map[int64]capEntry),
	}
}

// OrderCommand asks the upstream to produce an export file for one
// station, scale, and window. It returns the opaque command id, or an
// empty id when the server reports no exportable data (204).
func (e *Exporter) OrderCommand(ctx context.Context, stationID int64, scale Scale, win Window) (string, error) {
	q := url.Values{}
	q.Set("id-station", strconv.FormatInt(stationID, 10))
	q.Set("date-deb-periode", win.Start.UTC().Format(time.RFC3339))
	q.Set("date-fin-periode", win.End.UTC().Format(time.RFC3339))

	resp, err := e.client.Post(ctx, "/commande-station/"+scale.APIPath(), q)
	if err != nil {
		return "", fmt.Errorf("order command: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		var payload struct {
			Response struct {
				Return string `json:"return"`
			} `json:"elaboreProduitAvecDemandeResponse"`
		}
		if err := json.Unmarshal(resp.Body, &payload); err != nil {
			return "", fmt.Errorf("order command: invalid response: %w", err)
		}
		if payload.Response.Return == "" {
			return "", fmt.Errorf("order command: response carries no command id")
		}
		return payload.Response.Return, nil

	case http.StatusNoContent:
		// Nothing to export for this window.
		return "", nil

	default:
		return "", fmt.Errorf("%w: order command: status %d", ErrTransient, resp.StatusCode)
	}
}

// DownloadFile polls the file endpoint until the command's payload is
// ready. A 204 or 429 keeps it polling after the advertised delay;
// other statuses and transient client failures count against a small
// retry budget. When the cumulative wait exceeds the wait budget the
// command is abandoned and (nil, nil) is returned: abandonment is an
// empty result, not an error.
func (e *Exporter) DownloadFile(ctx context.Context, cmdID string) ([]byte, error) {
	start := e.clk.Now()
	var rawAttempts int

	q := url.Values{}
	q.Set("id-cmde", cmdID)

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		resp, err := e.client.Get(ctx, "/commande/fichier", q)

		var delay time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			rawAttempts++
			slog.Warn("dpclim: file poll failed", "command", cmdID, "attempt", rawAttempts, "error", err)
			if rawAttempts >= maxPollAttempts {
				slog.Warn("dpclim: abandoning command after repeated poll failures", "command", cmdID)
				return nil, nil
			}
			delay = e.pollInterval

		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
			return resp.Body, nil

		case resp.StatusCode == http.StatusNoContent:
			// File not produced yet.
			delay = resp.RetryAfter
			if delay <= 0 {
				delay = e.pollInterval
			}

		case resp.StatusCode == http.StatusTooManyRequests:
			delay = resp.RetryAfter
			if delay <= 0 {
				delay = defaultRetryAfter
			}

		default:
			rawAttempts++
			slog.Warn("dpclim: unexpected status while polling", "command", cmdID, "status", resp.StatusCode, "attempt", rawAttempts)
			if rawAttempts >= maxPollAttempts {
				slog.Warn("dpclim: abandoning command after repeated poll failures", "command", cmdID)
				return nil, nil
			}
			delay = e.pollInterval
		}

		elapsed := e.clk.Now().Sub(start)
		if elapsed+delay > e.waitBudget {
			slog.Warn("dpclim: wait budget exhausted, abandoning command",
				"command", cmdID, "elapsed", elapsed, "budget", e.waitBudget)
			return nil, nil
		}
		if err := e.clk.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// Export runs the full round-trip for one station, scale, and window.
// A nil payload with nil error means the window holds no data or the
// command was abandoned.
func (e *Exporter) Export(ctx context.Context, stationID int64, scale Scale, win Window) ([]byte, error) {
	cmdID, err := e.OrderCommand(ctx, stationID, scale, win)
	if err != nil {
		return nil, err
	}
	if cmdID == "" {
		slog.Debug("dpclim: no exportable data", "station", stationID, "scale", scale)
		return nil, nil
	}
	return e.DownloadFile(ctx, cmdID)
}
