// Package dates provides the calendar-date domain type used across the
// collection pipeline. Every date the pipeline handles is day-granular and
// serialized as YYYY-MM-DD; anything else is rejected at the boundary.
package dates

import (
	"fmt"
	"time"
)

// Format is the canonical wire/storage format for calendar dates.
const Format = "2006-01-02"

// Date is a calendar date at day granularity, normalized to UTC midnight.
// The zero value is "no date".
type Date struct {
	t time.Time
}

// Parse converts a YYYY-MM-DD string into a Date. The format is strict:
// anything that does not round-trip exactly is an error.
func Parse(s string) (Date, error) {
	t, err := time.ParseInLocation(Format, s, time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected %s: %w", s, "YYYY-MM-DD", err)
	}
	if t.Format(Format) != s {
		return Date{}, fmt.Errorf("invalid date %q: expected %s", s, "YYYY-MM-DD")
	}
	return Date{t: t}, nil
}

// MustParse is Parse for compile-time constants and tests.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromTime truncates a time.Time to its calendar date in UTC.
func FromTime(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// IsValid reports whether s parses as a canonical YYYY-MM-DD date.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// String renders the date in the canonical format. The zero Date renders
// as an empty string so optional fields serialize cleanly.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(Format)
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool { return d.t.IsZero() }

// Year returns the calendar year.
func (d Date) Year() int { return d.t.Year() }

// Month returns the calendar month (1-12).
func (d Date) Month() int { return int(d.t.Month()) }

// AddDays returns the date n days later (earlier for negative n).
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool { return d.t.Before(other.t) }

// After reports whether d is strictly later than other.
func (d Date) After(other Date) bool { return d.t.After(other.t) }

// Equal reports whether both dates name the same calendar day.
func (d Date) Equal(other Date) bool { return d.t.Equal(other.t) }

// Compare returns -1, 0 or +1 ordering d against other.
func (d Date) Compare(other Date) int {
	switch {
	case d.t.Before(other.t):
		return -1
	case d.t.After(other.t):
		return 1
	default:
		return 0
	}
}

// MonthStart returns the first day of the date's month.
func (d Date) MonthStart() Date {
	return Date{t: time.Date(d.t.Year(), d.t.Month(), 1, 0, 0, 0, 0, time.UTC)}
}

// MonthEnd returns the last day of the date's month.
func (d Date) MonthEnd() Date {
	first := time.Date(d.t.Year(), d.t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Date{t: first.AddDate(0, 1, -1)}
}

// Window is an inclusive date range dispatched as one fetch sub-range.
type Window struct {
	Start Date
	End   Date
}

// MonthWindows slices [first, last] into calendar-month windows. The first
// and last windows are clamped to the requested bounds.
func MonthWindows(first, last Date) []Window {
	if first.After(last) {
		return nil
	}
	var out []Window
	cur := first.MonthStart()
	for !cur.After(last) {
		w := Window{Start: cur, End: cur.MonthEnd()}
		if w.Start.Before(first) {
			w.Start = first
		}
		if w.End.After(last) {
			w.End = last
		}
		out = append(out, w)
		cur = cur.MonthEnd().AddDays(1)
	}
	return out
}
