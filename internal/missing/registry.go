// Package missing persists the registry of (station, day) pairs that
// still lack a usable observation. The registry is the durable source
// of truth that repeated runs drain; it is a single JSON file shared
// with external tooling, rewritten atomically on every change.
package missing

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DateLayout is the calendar-day format entries are keyed by.
const DateLayout = "2006-01-02"

// Entry is one unresolved (station, day) pair.
type Entry struct {
	ID     int64  `json:"id"`
	Date   string `json:"date"`
	Reason string `json:"reason,omitempty"`
}

// Registry reads and rewrites the missing-observations file. Mutations
// are load-modify-replace against the whole file, serialized by a
// mutex so in-process callers cannot lose updates; the atomic replace
// means a concurrent reader observes either the previous or the new
// content, never a partial write.
type Registry struct {
	mu   sync.Mutex
	path string
}

// NewRegistry creates a Registry over path. The file need not exist.
func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

// Path returns the registry file location.
func (r *Registry) Path() string { return r.path }

// Load returns all entries sorted by (id, date). A missing, unreadable,
// or invalid file loads as an empty registry so a wedged file can never
// block a scheduled run.
func (r *Registry) Load() []Entry {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("missing: could not read registry, treating as empty", "path", r.path, "error", err)
		}
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		slog.Warn("missing: invalid registry JSON, treating as empty", "path", r.path, "error", err)
		return nil
	}

	out := entries[:0]
	for _, e := range entries {
		if e.ID == 0 || e.Date == "" {
			continue
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

// Append records an unresolved pair. Idempotent on (id, date): a repeat
// append is a no-op, except that a reason arriving for an entry without
// one is merged in.
func (r *Registry) Append(id int64, date, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.Load()

	for i, e := range entries {
		if e.ID == id && e.Date == date {
			if e.Reason == "" && reason != "" {
				entries[i].Reason = reason
				return r.write(entries)
			}
			return nil
		}
	}

	entries = append(entries, Entry{ID: id, Date: date, Reason: reason})
	sortEntries(entries)
	return r.write(entries)
}

// Remove deletes the pair if present. Removing an absent key is a
// no-op, not an error.
func (r *Registry) Remove(id int64, date string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.Load()

	kept := entries[:0]
	removed := false
	for _, e := range entries {
		if e.ID == id && e.Date == date {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	if !removed {
		return nil
	}
	return r.write(kept)
}

// CleanupReport summarizes one retention pass.
type CleanupReport struct {
	Path       string
	KeepDays   int
	Cutoff     string // oldest date kept, inclusive
	Before     int
	After      int
	RemovedOld int
	RemovedBad int
	DryRun     bool
}

// Cleanup drops entries dated before today (UTC) minus keepDays, along
// with entries whose date does not parse. Old gaps are not worth
// perpetual retries. With dryRun the file is left untouched and only
// the report is produced.
func (r *Registry) Cleanup(keepDays int, dryRun bool) (CleanupReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	cutoff := today.AddDate(0, 0, -keepDays)

	entries := r.Load()
	report := CleanupReport{
		Path:     r.path,
		KeepDays: keepDays,
		Cutoff:   cutoff.Format(DateLayout),
		Before:   len(entries),
		DryRun:   dryRun,
	}

	kept := entries[:0]
	for _, e := range entries {
		d, err := time.ParseInLocation(DateLayout, e.Date, time.UTC)
		if err != nil {
			report.RemovedBad++
			continue
		}
		if d.Before(cutoff) {
			report.RemovedOld++
			continue
		}
		kept = append(kept, e)
	}
	report.After = len(kept)

	if !dryRun {
		if err := r.write(kept); err != nil {
			return report, err
		}
	}
	return report, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ID != entries[j].ID {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].Date < entries[j].Date
	})
}

// write replaces the registry file atomically: temp file in the same
// directory, fsync, then rename.
func (r *Registry) write(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".missing-*.json")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp registry: %w", err)
	}

	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}
