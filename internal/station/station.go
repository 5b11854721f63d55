// Package station loads the externally produced station list consumed
// by the acquisition engine.
package station

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/glacioclim/snowobs/internal/dpclim"
)

// Station is one observation site with its declared temporal scales.
// The list is read-only input; nothing in the engine mutates it.
type Station struct {
	ID     int64
	Name   string
	Lon    float64
	Lat    float64
	Alt    float64
	Scales []dpclim.Scale
}

// HasScale reports whether the station declares the scale.
func (s Station) HasScale(scale dpclim.Scale) bool {
	for _, sc := range s.Scales {
		if sc == scale {
			return true
		}
	}
	return false
}

// flexID tolerates station ids serialized as JSON numbers or strings;
// the metadata pipeline has produced both over time.
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(strings.Trim(string(b), `"`))
	if s == "" || s == "null" {
		return fmt.Errorf("empty station id")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("station id %q: %w", s, err)
	}
	*f = flexID(n)
	return nil
}

type stationJSON struct {
	ID     flexID   `json:"id"`
	Name   string   `json:"name"`
	Nom    string   `json:"nom"`
	Lon    float64  `json:"lon"`
	Lat    float64  `json:"lat"`
	Alt    float64  `json:"alt"`
	Scales []string `json:"_scales"`
}

// Load reads a stations file: a JSON array of records with id, a name
// under "name" or "nom", coordinates, and the "_scales" list. Unknown
// scale values are dropped with a warning. Stations come back sorted
// by id.
func Load(path string) ([]Station, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stations file: %w", err)
	}

	var records []stationJSON
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse stations file %s: %w", path, err)
	}

	stations := make([]Station, 0, len(records))
	for _, r := range records {
		name := r.Name
		if name == "" {
			name = r.Nom
		}

		var scales []dpclim.Scale
		for _, v := range r.Scales {
			sc, err := dpclim.ParseScale(v)
			if err != nil {
				slog.Warn("station: dropping unknown scale", "station", int64(r.ID), "scale", v)
				continue
			}
			scales = append(scales, sc)
		}

		stations = append(stations, Station{
			ID:     int64(r.ID),
			Name:   name,
			Lon:    r.Lon,
			Lat:    r.Lat,
			Alt:    r.Alt,
			Scales: scales,
		})
	}

	sort.Slice(stations, func(i, j int) bool { return stations[i].ID < stations[j].ID })
	return stations, nil
}

// FilterByID narrows stations to the single requested id.
func FilterByID(stations []Station, id int64) []Station {
	for _, s := range stations {
		if s.ID == id {
			return []Station{s}
		}
	}
	return nil
}

// ByID indexes stations for the reconciler's entry lookups.
func ByID(stations []Station) map[int64]Station {
	m := make(map[int64]Station, len(stations))
	for _, s := range stations {
		m[s.ID] = s
	}
	return m
}
