package normalizer

import (
	"strings"
	"time"
)

// Layouts tried in order. Zoned layouts first so an explicit offset is honored.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"1-2-2006",
	"20060102",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"January 2 2006",
	"2 Jan 2006",
	"2 January 2006",
	"02-Jan-2006",
	"Mon, 02 Jan 2006",
	"Monday, January 2, 2006",
}

var dateSentinels = map[string]bool{
	"":        true,
	"tbd":     true,
	"unknown": true,
	"n/a":     true,
	"na":      true,
	"null":    true,
	"none":    true,
	"nil":     true,
	"-":       true,
}

// IsSentinel reports whether s is an empty or placeholder date value
func IsSentinel(s string) bool {
	return dateSentinels[strings.ToLower(strings.TrimSpace(s))]
}

// ParseDate parses any supported date/time text and returns the calendar date
// (as written by the source, in the source's own offset) at UTC midnight.
// ok is false for sentinels and unparseable text.
func ParseDate(s string) (time.Time, bool) {
	s = collapseSpaces(s)
	if IsSentinel(s) {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		y, m, d := t.Date()
		if y < 1900 || y > 2200 {
			return time.Time{}, false
		}
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}
