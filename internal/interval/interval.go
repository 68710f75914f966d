// Package interval places timestamps on the canonical 5-minute UTC grid used as
// the cache's time axis.
package interval

import (
	"fmt"
	"strings"
	"time"
)

// Duration is the width of one canonical interval
const Duration = 5 * time.Minute

// LegacyOffset is the skew carried by rows written before timestamps were
// normalized: upstream start times of the form hh:mm:01Z were stored verbatim.
const LegacyOffset = time.Second

// storedLayout is fixed width so text comparison in SQL matches time order.
const storedLayout = "2006-01-02T15:04:05Z"

// Floor returns the most recent interval boundary at or before t, in UTC
func Floor(t time.Time) time.Time {
	return t.UTC().Truncate(Duration)
}

// End returns the end of the canonical interval starting at start
func End(start time.Time) time.Time {
	return Floor(start).Add(Duration)
}

// Span floors both ends of an upstream interval. When the end is missing or
// does not land after the floored start, the interval gets the canonical width.
func Span(start, end time.Time) (time.Time, time.Time) {
	s := Floor(start)
	if end.IsZero() {
		return s, s.Add(Duration)
	}
	e := Floor(end)
	if !e.After(s) {
		return s, s.Add(Duration)
	}
	return s, e
}

// LegacyKey returns the key a pre-normalization row would have been stored
// under for the given canonical interval start.
func LegacyKey(canonical time.Time) time.Time {
	return Floor(canonical).Add(LegacyOffset)
}

// Age returns how long ago end was, clamped at zero. A negative age only
// arises from clock skew or a forecast row and is never reported.
func Age(now, end time.Time) time.Duration {
	d := now.Sub(end)
	if d < 0 {
		return 0
	}
	return d
}

// Format renders t in the storage encoding
func Format(t time.Time) string {
	return t.UTC().Format(storedLayout)
}

// ParseStored parses a timestamp read back from the cache tables
func ParseStored(s string) (time.Time, error) {
	t, err := time.Parse(storedLayout, s)
	if err == nil {
		return t, nil
	}
	return Parse(s)
}

// Parse parses an upstream timestamp. Values without a zone are taken as UTC.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	formats := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
