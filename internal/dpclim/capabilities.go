package dpclim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// parameter is one measured quantity from the station information
// endpoint, with its time step and activity window.
type parameter struct {
	Name      string `json:"nom"`
	Step      string `json:"pas"`
	DateStart string `json:"dateDebut"`
	DateEnd   string `json:"dateFin"`
}

type capEntry struct {
	params []parameter
	err    error
}

// ParameterActive reports whether the station carries an active snow
// parameter for the scale on the given day. Station information is
// fetched once per station per process and cached, failures included,
// so a broken lookup is not retried for every scale.
func (e *Exporter) ParameterActive(ctx context.Context, stationID int64, scale Scale, day time.Time) (bool, error) {
	params, err := e.stationParameters(ctx, stationID)
	if err != nil {
		return false, err
	}

	target := scale.APIPath()
	y, m, d := day.UTC().Date()
	dayUTC := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	for _, p := range params {
		if !strings.Contains(strings.ToUpper(p.Name), "NEIGE") {
			continue
		}
		if p.Step != target {
			continue
		}
		if start, ok := parseParamDate(p.DateStart); ok && dayUTC.Before(start) {
			continue
		}
		if end, ok := parseParamDate(p.DateEnd); ok && dayUTC.After(end) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (e *Exporter) stationParameters(ctx context.Context, stationID int64) ([]parameter, error) {
	e.capMu.Lock()
	entry, ok := e.caps[stationID]
	e.capMu.Unlock()
	if ok {
		return entry.params, entry.err
	}

	params, err := e.fetchStationInfo(ctx, stationID)
	if err != nil && ctx.Err() != nil {
		// Cancellation is not a verdict on the station.
		return nil, err
	}

	e.capMu.Lock()
	e.caps[stationID] = capEntry{params: params, err: err}
	e.capMu.Unlock()

	return params, err
}

func (e *Exporter) fetchStationInfo(ctx context.Context, stationID int64) ([]parameter, error) {
	q := url.Values{}
	q.Set("id-station", strconv.FormatInt(stationID, 10))

	resp, err := e.client.Get(ctx, "/information-station", q)
	if err != nil {
		return nil, fmt.Errorf("station information: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return parseStationInfo(resp.Body)
	case http.StatusNoContent:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: station information: status %d", ErrTransient, resp.StatusCode)
	}
}

// parseStationInfo accepts both shapes the endpoint has been seen to
// return: a single station object or an array of them.
func parseStationInfo(body []byte) ([]parameter, error) {
	type stationInfo struct {
		Parameters []parameter `json:"parametres"`
	}

	var many []stationInfo
	if err := json.Unmarshal(body, &many); err == nil {
		var params []parameter
		for _, s := range many {
			params = append(params, s.Parameters...)
		}
		return params, nil
	}

	var one stationInfo
	if err := json.Unmarshal(body, &one); err != nil {
		return nil, fmt.Errorf("station information: invalid response: %w", err)
	}
	return one.Parameters, nil
}

// parseParamDate reads the leading YYYY-MM-DD of an activity bound.
// Absent or malformed bounds impose no constraint.
func parseParamDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 10 {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("2006-01-02", s[:10], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
