package snow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glacioclim/snowobs/internal/missing"
	"github.com/glacioclim/snowobs/internal/station"
)

// ReconcileOptions tunes a reconciliation pass.
type ReconcileOptions struct {
	// MaxDatesPerStation skips stations carrying more outstanding
	// dates than this, so one long-dead station cannot eat the whole
	// rate budget. Zero means no limit.
	MaxDatesPerStation int

	// DryRun reports what would resolve without touching the registry.
	DryRun bool
}

// Reconcile retries every (station, day) pair in the registry and
// clears the ones that now yield an observation. Entries for unknown
// stations or with malformed dates stay put. It returns how many
// entries remain outstanding.
func (f *Fetcher) Reconcile(ctx context.Context, stations []station.Station, reg *missing.Registry, out *Writer, opts ReconcileOptions) (int, error) {
	entries := reg.Load()
	if len(entries) == 0 {
		return 0, nil
	}

	byID := station.ByID(stations)
	perStation := make(map[int64]int)
	for _, e := range entries {
		perStation[e.ID]++
	}

	outstanding := len(entries)
	skipped := make(map[int64]bool)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return outstanding, err
		}
		if opts.MaxDatesPerStation > 0 && perStation[e.ID] > opts.MaxDatesPerStation {
			if !skipped[e.ID] {
				skipped[e.ID] = true
				slog.Warn("station over retry limit",
					"station", e.ID, "dates", perStation[e.ID], "limit", opts.MaxDatesPerStation)
			}
			continue
		}
		st, ok := byID[e.ID]
		if !ok {
			slog.Warn("entry references unknown station", "station", e.ID, "date", e.Date)
			continue
		}
		day, err := time.ParseInLocation(missing.DateLayout, e.Date, time.UTC)
		if err != nil {
			slog.Warn("entry has malformed date", "station", e.ID, "date", e.Date)
			continue
		}

		res, err := f.FetchDay(ctx, st, day)
		if err != nil {
			return outstanding, err
		}
		if !res.Found {
			slog.Info("still missing", "station", e.ID, "date", e.Date, "reason", res.Reason)
			continue
		}

		if err := out.Write(res.Observation); err != nil {
			return outstanding, fmt.Errorf("write observation: %w", err)
		}
		if !opts.DryRun {
			if err := reg.Remove(e.ID, e.Date); err != nil {
				return outstanding, fmt.Errorf("clear resolved entry: %w", err)
			}
		}
		outstanding--
		slog.Info("resolved", "station", e.ID, "date", e.Date, "timestamp", res.Observation.Timestamp)
	}
	return outstanding, nil
}
