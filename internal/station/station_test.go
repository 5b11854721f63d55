package station

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/glacioclim/snowobs/internal/dpclim"
)

const fixture = `[
  {"id": "74056001", "nom": "Chamonix", "lon": 6.87, "lat": 45.92, "alt": 1042, "_scales": ["horaire", "quotidienne"]},
  {"id": 38002401, "nom": "Chamrousse", "lon": 5.87, "lat": 45.12, "alt": 1730, "_scales": ["quotidienne", "infrahoraire-6m", "mensuelle"]},
  {"id": "73004403", "name": "Albiez-Montrond", "lon": 6.33, "lat": 45.22, "alt": 1520, "_scales": []}
]`

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stations.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	stations, err := Load(writeFixture(t, fixture))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stations) != 3 {
		t.Fatalf("expected 3 stations, got %d", len(stations))
	}

	// Sorted by id regardless of file order.
	if stations[0].ID != 38002401 || stations[1].ID != 73004403 || stations[2].ID != 74056001 {
		t.Fatalf("unexpected order: %d, %d, %d", stations[0].ID, stations[1].ID, stations[2].ID)
	}

	chamrousse := stations[0]
	if chamrousse.Name != "Chamrousse" {
		t.Fatalf("expected name from nom key, got %q", chamrousse.Name)
	}
	// The unknown "mensuelle" value is dropped.
	if len(chamrousse.Scales) != 2 {
		t.Fatalf("expected 2 known scales, got %v", chamrousse.Scales)
	}
	if !chamrousse.HasScale(dpclim.ScaleDaily) || !chamrousse.HasScale(dpclim.ScaleSubHourly) {
		t.Fatalf("unexpected scales %v", chamrousse.Scales)
	}

	albiez := stations[1]
	if albiez.Name != "Albiez-Montrond" {
		t.Fatalf("expected name from name key, got %q", albiez.Name)
	}
	if len(albiez.Scales) != 0 {
		t.Fatalf("expected no scales, got %v", albiez.Scales)
	}

	chamonix := stations[2]
	if chamonix.Alt != 1042 {
		t.Fatalf("expected alt 1042, got %v", chamonix.Alt)
	}
	if chamonix.HasScale(dpclim.ScaleSubHourly) {
		t.Fatalf("unexpected sub-hourly scale on %v", chamonix.Scales)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected an error for a missing stations file")
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	if _, err := Load(writeFixture(t, "{not an array")); err == nil {
		t.Fatal("expected an error for invalid JSON")
	}
}

func TestFilterByID(t *testing.T) {
	stations, err := Load(writeFixture(t, fixture))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := FilterByID(stations, 38002401)
	if len(got) != 1 || got[0].ID != 38002401 {
		t.Fatalf("unexpected filter result %v", got)
	}

	if got := FilterByID(stations, 99999999); got != nil {
		t.Fatalf("expected nil for an unknown id, got %v", got)
	}
}

func TestByID(t *testing.T) {
	stations, err := Load(writeFixture(t, fixture))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byID := ByID(stations)
	if len(byID) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(byID))
	}
	if byID[74056001].Name != "Chamonix" {
		t.Fatalf("unexpected station %+v", byID[74056001])
	}
}
