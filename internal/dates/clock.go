package dates

import "time"

// Clock supplies "today" so date arithmetic stays deterministic in tests.
type Clock interface {
	Today() Date
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Today() Date { return FromTime(time.Now()) }

// FixedClock always reports the same day.
type FixedClock struct {
	Day Date
}

func (c FixedClock) Today() Date { return c.Day }

// Yesterday returns the day before clock's today.
func Yesterday(clock Clock) Date { return clock.Today().AddDays(-1) }
