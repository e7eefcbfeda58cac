// Package dates turns the date strings that reach the ledger into calendar
// dates.
//
// Inputs arrive in three shapes: the date picker's DD-MM-YYYY, ISO
// YYYY-MM-DD (optionally followed by a time of day) and arbitrary datetime
// strings from remote backends. Parsing never fails: malformed input falls
// back to today, and Parse reports whether that happened.
package dates

import (
	"strconv"
	"strings"
	"time"
)

const (
	// LayoutDMY is the date picker format.
	LayoutDMY = "02-01-2006"
	// LayoutISO is the canonical storage format.
	LayoutISO = "2006-01-02"
)

// genericLayouts are tried in order when the input is not a plain
// three-part hyphenated date.
var genericLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"January 2, 2006",
	"Jan 2, 2006",
	"2006/01/02",
}

// Normalizer parses date strings relative to an injectable clock.
type Normalizer struct {
	Now func() time.Time
}

// New returns a Normalizer backed by the wall clock.
func New() Normalizer {
	return Normalizer{Now: time.Now}
}

// Parse converts s into a calendar date at UTC midnight. The boolean is false
// when s could not be understood and today was returned instead.
func (n Normalizer) Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return n.today(), false
	}

	parts := strings.Split(s, "-")
	if len(parts) == 3 {
		if len(parts[0]) == 4 {
			// YYYY-MM-DD, possibly "YYYY-MM-DDT10:00:00Z".
			if d, ok := fromParts(parts[0], parts[1], stripTime(parts[2])); ok {
				return d, true
			}
			if d, ok := parseGeneric(s); ok {
				return d, true
			}
			return n.today(), false
		}
		// DD-MM-YYYY: the last part is the year.
		if d, ok := fromParts(parts[2], parts[1], parts[0]); ok {
			return d, true
		}
		return n.today(), false
	}

	if d, ok := parseGeneric(s); ok {
		return d, true
	}
	return n.today(), false
}

// Normalize is Parse without the fallback flag.
func (n Normalizer) Normalize(s string) time.Time {
	d, _ := n.Parse(s)
	return d
}

// Today returns the current calendar date.
func (n Normalizer) Today() time.Time {
	return n.today()
}

func (n Normalizer) today() time.Time {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	return Truncate(now())
}

// Parse uses the wall clock for the fallback.
func Parse(s string) (time.Time, bool) {
	return New().Parse(s)
}

// Normalize uses the wall clock for the fallback.
func Normalize(s string) time.Time {
	return New().Normalize(s)
}

// Truncate drops the time of day, keeping the calendar date as seen in t's
// own location.
func Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDMY renders t as DD-MM-YYYY.
func FormatDMY(t time.Time) string {
	return t.Format(LayoutDMY)
}

// FormatISO renders t as YYYY-MM-DD.
func FormatISO(t time.Time) string {
	return t.Format(LayoutISO)
}

// AddMonthsClamped moves t by months calendar months, clamping the day to
// the last day of the target month (Mar 31 - 1 month = Feb 28/29).
func AddMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func stripTime(day string) string {
	if i := strings.IndexAny(day, "T "); i >= 0 {
		return day[:i]
	}
	return day
}

func fromParts(year, month, day string) (time.Time, bool) {
	y, err := strconv.Atoi(year)
	if err != nil || y < 1 || len(year) != 4 {
		return time.Time{}, false
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return time.Time{}, false
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	// Reject dates that time.Date normalized, e.g. 31-02.
	if t.Day() != d || int(t.Month()) != m {
		return time.Time{}, false
	}
	return t, true
}

func parseGeneric(s string) (time.Time, bool) {
	for _, layout := range genericLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Truncate(t), true
		}
	}
	return time.Time{}, false
}
