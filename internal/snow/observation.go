// Package snow turns DPClim export payloads into per-station, per-day
// snow observations: it extracts the best row from each CSV, arbitrates
// across temporal scales, streams the results, and drives the
// missing-entry reconciliation that makes repeated runs converge.
package snow

import "time"

// Observation is the best available snow measurement for one station
// and UTC day. The attribute fields keep the upstream column
// identifiers; a column absent for the producing scale stays empty,
// because emptiness means unknown, never zero snow.
type Observation struct {
	StationID int64
	Timestamp time.Time // UTC, second precision

	HNEIGEF    string // fresh snow height
	NEIGETOT   string // total snow depth
	NEIGETOT06 string // total snow depth at 06:00
}
