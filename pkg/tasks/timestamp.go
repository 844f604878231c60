package tasks

import (
	"strconv"
	"strings"
	"time"
)

// stampResolution is the resolution updated_at is kept at. Every form a
// client can echo back (RFC 3339 with trimmed or millisecond fractions,
// epoch milliseconds) represents it exactly, so staleness is an exact compare.
const stampResolution = time.Millisecond

// parseClientStamp accepts RFC 3339 (any fractional precision) or epoch
// milliseconds.
func parseClientStamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// isStale reports whether the stored task moved on after the client's view.
func isStale(stored, seen time.Time) bool {
	return stored.After(seen)
}
