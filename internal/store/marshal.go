package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/theatresync/internal/canonical"
	"github.com/roach88/theatresync/internal/state"
)

// timeLayout is how timestamps are stored. Fixed-width so TEXT ordering
// matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// marshalSnapshot converts a snapshot to canonical JSON TEXT for storage.
func marshalSnapshot(snap state.Snapshot) (string, error) {
	data, err := canonical.Marshal(snap.Sorted())
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(data), nil
}

func unmarshalSnapshot(data string) (state.Snapshot, error) {
	var snap state.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return state.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}
