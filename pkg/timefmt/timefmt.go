// Package timefmt parses the timestamp formats accepted from clients and
// import files.
package timefmt

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Layouts tried by Parse, in order. Layouts without an offset parse as UTC.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Parse reads an RFC 3339 timestamp, or a naive one interpreted as UTC, and
// returns it in UTC.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("invalid timestamp %q", s)
}

// Format renders t in UTC as RFC 3339.
func Format(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
