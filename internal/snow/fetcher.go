package snow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glacioclim/snowobs/internal/clock"
	"github.com/glacioclim/snowobs/internal/dpclim"
	"github.com/glacioclim/snowobs/internal/missing"
	"github.com/glacioclim/snowobs/internal/station"
)

// Provider is the slice of the DPClim exporter the fetcher needs:
// capability lookups and the order-poll-download cycle.
type Provider interface {
	ParameterActive(ctx context.Context, stationID int64, scale dpclim.Scale, day time.Time) (bool, error)
	Export(ctx context.Context, stationID int64, scale dpclim.Scale, win dpclim.Window) ([]byte, error)
}

// DayResult is the outcome of one (station, day) acquisition. Reason is
// only set when no observation was found and lists what each attempted
// scale reported.
type DayResult struct {
	Observation Observation
	Found       bool
	Reason      string
}

// Fetcher walks the scales for each station and keeps the observation
// with the latest timestamp.
type Fetcher struct {
	provider  Provider
	clk       clock.Clock
	allScales bool
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	Provider Provider
	Clock    clock.Clock // nil means the system clock

	// AllScales tries every scale instead of only the ones a station
	// declares.
	AllScales bool
}

// NewFetcher creates a new Fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Fetcher{
		provider:  opts.Provider,
		clk:       clk,
		allScales: opts.AllScales,
	}
}

// FetchDay tries the scales in order (daily, hourly, sub-hourly) for
// one station and day. Scale-level failures are recorded and the walk
// continues; the returned error is reserved for context cancellation.
// When several scales yield a row, the latest timestamp wins, and on an
// exact tie the scale attempted first is kept.
func (f *Fetcher) FetchDay(ctx context.Context, st station.Station, day time.Time) (DayResult, error) {
	var (
		best  DayResult
		notes []string
	)

	for _, scale := range dpclim.ScaleOrder {
		if err := ctx.Err(); err != nil {
			return DayResult{}, err
		}
		if !f.allScales && !st.HasScale(scale) {
			continue
		}

		win, ok := dpclim.DayWindow(scale, day, f.clk.Now())
		if !ok {
			notes = append(notes, fmt.Sprintf("%s: empty window", scale))
			continue
		}

		active, err := f.provider.ParameterActive(ctx, st.ID, scale, day)
		if err != nil {
			if ctx.Err() != nil {
				return DayResult{}, ctx.Err()
			}
			slog.Warn("capability lookup failed", "station", st.ID, "scale", scale, "error", err)
			notes = append(notes, fmt.Sprintf("%s: capability lookup: %v", scale, err))
			continue
		}
		if !active {
			notes = append(notes, fmt.Sprintf("%s: no active snow parameter", scale))
			continue
		}

		payload, err := f.provider.Export(ctx, st.ID, scale, win)
		if err != nil {
			if ctx.Err() != nil {
				return DayResult{}, ctx.Err()
			}
			slog.Warn("export failed", "station", st.ID, "scale", scale, "error", err)
			notes = append(notes, fmt.Sprintf("%s: export: %v", scale, err))
			continue
		}
		if payload == nil {
			notes = append(notes, fmt.Sprintf("%s: no file produced", scale))
			continue
		}

		obs, ok, err := Extract(payload, scale, day)
		if err != nil {
			slog.Warn("unusable export payload", "station", st.ID, "scale", scale, "error", err)
			notes = append(notes, fmt.Sprintf("%s: %v", scale, err))
			continue
		}
		if !ok {
			notes = append(notes, fmt.Sprintf("%s: no rows inside day", scale))
			continue
		}
		obs.StationID = st.ID

		// Strictly-after keeps the earlier scale on equal timestamps.
		if !best.Found || obs.Timestamp.After(best.Observation.Timestamp) {
			best = DayResult{Observation: obs, Found: true}
		}
		slog.Debug("scale candidate", "station", st.ID, "scale", scale, "timestamp", obs.Timestamp)
	}

	if best.Found {
		return best, nil
	}
	reason := strings.Join(notes, "; ")
	if reason == "" {
		reason = "no scales declared for station"
	}
	return DayResult{Reason: reason}, nil
}

// FetchDate runs the day acquisition over every station. Found
// observations go to out; misses are appended to the registry. It
// returns how many stations ended the run without an observation.
func (f *Fetcher) FetchDate(ctx context.Context, stations []station.Station, day time.Time, out *Writer, reg *missing.Registry) (int, error) {
	date := day.UTC().Format(missing.DateLayout)
	missed := 0

	for _, st := range stations {
		res, err := f.FetchDay(ctx, st, day)
		if err != nil {
			return missed, err
		}
		if res.Found {
			if err := out.Write(res.Observation); err != nil {
				return missed, fmt.Errorf("write observation: %w", err)
			}
			slog.Info("observation acquired",
				"station", st.ID, "date", date, "timestamp", res.Observation.Timestamp)
			continue
		}

		missed++
		slog.Warn("no observation", "station", st.ID, "date", date, "reason", res.Reason)
		if err := reg.Append(st.ID, date, res.Reason); err != nil {
			return missed, fmt.Errorf("record missing observation: %w", err)
		}
	}
	return missed, nil
}
