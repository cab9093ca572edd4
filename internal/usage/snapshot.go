// Package usage models the usage-limit snapshot returned by the upstream
// API and performs the authenticated fetch, including the one-shot
// credential-refresh retry on authorization failure.
package usage

import (
	"encoding/json"
	"strings"
	"time"

	"ccwatch/internal/constants"
	apperrors "ccwatch/internal/errors"
)

// Window is one rate-limit window: utilization in percent plus the time the
// window resets.
type Window struct {
	Utilization float64   `json:"utilization"`
	ResetsAt    time.Time `json:"resets_at"`
}

// Snapshot is the last successfully fetched usage data. It is replaced
// wholesale by a newer successful fetch and never cleared on failure.
type Snapshot struct {
	FiveHour  *Window   `json:"five_hour,omitempty"`
	SevenDay  *Window   `json:"seven_day,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Staleness buckets the age of a snapshot. It is derived from FetchedAt on
// every read, never stored.
type Staleness string

const (
	StalenessFresh     Staleness = "fresh"
	StalenessRecent    Staleness = "recent"
	StalenessStale     Staleness = "stale"
	StalenessVeryStale Staleness = "very_stale"
)

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// Staleness buckets Age into fresh / recent / stale / very_stale.
func (s *Snapshot) Staleness(now time.Time) Staleness {
	age := s.Age(now)
	switch {
	case age < constants.StalenessFreshBound:
		return StalenessFresh
	case age < constants.StalenessRecentBound:
		return StalenessRecent
	case age < constants.StalenessStaleBound:
		return StalenessStale
	default:
		return StalenessVeryStale
	}
}

type wireWindow struct {
	Utilization float64 `json:"utilization"`
	ResetsAt    string  `json:"resets_at"`
}

type wireSnapshot struct {
	FiveHour *wireWindow `json:"five_hour"`
	SevenDay *wireWindow `json:"seven_day"`
}

// decodeSnapshot parses the usage endpoint body. Decode failures indicate a
// server contract change and are surfaced as decoding errors, never retried.
func decodeSnapshot(body []byte, fetchedAt time.Time) (*Snapshot, error) {
	var wire wireSnapshot
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, apperrors.Wrap(apperrors.KindDecodingError, "could not decode usage response", err)
	}

	snap := &Snapshot{FetchedAt: fetchedAt}
	var err error
	if snap.FiveHour, err = wire.FiveHour.toWindow(); err != nil {
		return nil, err
	}
	if snap.SevenDay, err = wire.SevenDay.toWindow(); err != nil {
		return nil, err
	}
	if snap.FiveHour == nil && snap.SevenDay == nil {
		return nil, apperrors.New(apperrors.KindDecodingError, "usage response carries no windows")
	}
	return snap, nil
}

func (w *wireWindow) toWindow() (*Window, error) {
	if w == nil {
		return nil, nil
	}
	resetsAt, err := parseTimestamp(w.ResetsAt)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDecodingError, "could not parse window reset time", err)
	}
	return &Window{Utilization: w.Utilization, ResetsAt: resetsAt}, nil
}

// parseTimestamp accepts RFC 3339 with or without fractional seconds.
func parseTimestamp(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
}
