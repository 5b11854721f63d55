// Package dpclim speaks the Météo-France DPClim asynchronous export
// protocol: rate-limited bearer-authenticated calls, per-scale export
// commands, and the poll loop that waits for the produced CSV file.
package dpclim

import "fmt"

// Scale is a temporal resolution tier of the upstream climate data.
type Scale string

const (
	ScaleDaily     Scale = "daily"
	ScaleHourly    Scale = "hourly"
	ScaleSubHourly Scale = "subhourly"
)

// ScaleOrder is the fixed order in which scales are attempted for every
// station and day.
var ScaleOrder = []Scale{ScaleDaily, ScaleHourly, ScaleSubHourly}

// apiPaths maps scales onto the French path segments the API exposes.
var apiPaths = map[Scale]string{
	ScaleDaily:     "quotidienne",
	ScaleHourly:    "horaire",
	ScaleSubHourly: "infrahoraire-6m",
}

// APIPath returns the upstream path segment for the scale.
func (s Scale) APIPath() string { return apiPaths[s] }

// Valid reports whether s is one of the known scales.
func (s Scale) Valid() bool {
	_, ok := apiPaths[s]
	return ok
}

// ParseScale accepts either the canonical name or the upstream path
// segment, so station files produced by the metadata pipeline decode
// directly.
func ParseScale(v string) (Scale, error) {
	switch v {
	case string(ScaleDaily), "quotidienne":
		return ScaleDaily, nil
	case string(ScaleHourly), "horaire":
		return ScaleHourly, nil
	case string(ScaleSubHourly), "infrahoraire-6m":
		return ScaleSubHourly, nil
	}
	return "", fmt.Errorf("unknown scale %q", v)
}
