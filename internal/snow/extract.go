package snow

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/glacioclim/snowobs/internal/dpclim"
)

// timestampColumns are the header names probed for the time column, in
// priority order. "heure" covers the French hourly exports.
var timestampColumns = []string{"date", "datetime", "time", "heure"}

// timeLayouts covers the formats DPClim files have been seen to carry:
// the compact AAAAMMJJ[HH[MM[SS]]] form first, then ISO variants.
var timeLayouts = []string{
	"20060102150405",
	"200601021504",
	"2006010215",
	"20060102",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Extract reads an export payload and returns the chronologically
// latest row inside the requested UTC day, with the attribute columns
// relevant to the scale that produced the payload. The caller stamps
// StationID; payloads are already scoped to one station. ok is false
// when no row qualifies; errors are reserved for structurally unusable
// payloads.
func Extract(payload []byte, scale dpclim.Scale, day time.Time) (Observation, bool, error) {
	payload = bytes.TrimPrefix(payload, []byte("\ufeff"))
	if len(bytes.TrimSpace(payload)) == 0 {
		return Observation{}, false, nil
	}

	reader := csv.NewReader(bytes.NewReader(payload))
	reader.Comma = sniffDelimiter(payload)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return Observation{}, false, fmt.Errorf("parse payload: %w", err)
	}
	if len(records) < 2 {
		return Observation{}, false, nil
	}

	header := records[0]
	tsCol := findTimestampColumn(header)
	if tsCol < 0 {
		return Observation{}, false, fmt.Errorf("no timestamp column among %v", header)
	}

	cols := attributeColumns(header, scale)

	y, m, d := day.UTC().Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var (
		best     []string
		bestTime time.Time
		found    bool
	)
	for _, row := range records[1:] {
		if tsCol >= len(row) {
			continue
		}
		ts, ok := parseTimestamp(row[tsCol])
		if !ok {
			continue
		}
		if ts.Before(dayStart) || !ts.Before(dayEnd) {
			continue
		}
		// Later rows win exact ties, hence not-Before.
		if !found || !ts.Before(bestTime) {
			best, bestTime, found = row, ts, true
		}
	}
	if !found {
		return Observation{}, false, nil
	}

	obs := Observation{
		Timestamp:  bestTime,
		HNEIGEF:    field(best, cols.hneigef),
		NEIGETOT:   field(best, cols.neigetot),
		NEIGETOT06: field(best, cols.neigetot06),
	}
	return obs, true, nil
}

// sniffDelimiter picks the separator from the header line. DPClim
// emits semicolons; plain commas appear in reprocessed files.
func sniffDelimiter(payload []byte) rune {
	line := payload
	if i := bytes.IndexByte(payload, '\n'); i >= 0 {
		line = payload[:i]
	}
	if bytes.ContainsRune(line, ';') {
		return ';'
	}
	return ','
}

func findTimestampColumn(header []string) int {
	for _, candidate := range timestampColumns {
		if i := findColumn(header, candidate); i >= 0 {
			return i
		}
	}
	return -1
}

func findColumn(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

type columnSet struct {
	hneigef    int
	neigetot   int
	neigetot06 int
}

// attributeColumns resolves which snow columns the scale contributes.
// NEIGETOTX is a known alternate name for the total depth and remaps
// onto NEIGETOT. Indices are -1 when a column is not read.
func attributeColumns(header []string, scale dpclim.Scale) columnSet {
	cols := columnSet{hneigef: -1, neigetot: -1, neigetot06: -1}

	switch scale {
	case dpclim.ScaleDaily:
		cols.hneigef = findColumn(header, "HNEIGEF")
		cols.neigetot = findColumn(header, "NEIGETOT")
		cols.neigetot06 = findColumn(header, "NEIGETOT06")
	case dpclim.ScaleHourly:
		cols.hneigef = findColumn(header, "HNEIGEF")
		cols.neigetot = findColumn(header, "NEIGETOT")
	}

	if cols.neigetot < 0 && scale != dpclim.ScaleSubHourly {
		cols.neigetot = findColumn(header, "NEIGETOTX")
	}
	return cols
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseTimestamp(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if ts, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
