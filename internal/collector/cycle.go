package collector

import (
	"fmt"

	"github.com/quakelab/seismic-core/internal/dates"
	"github.com/quakelab/seismic-core/internal/metastore"
)

// NextRunDates is the exact resume point computed by the aggregator:
// the earliest calendar date seen in the run and how many of its rows
// were already consumed.
type NextRunDates struct {
	EarliestDate string `json:"earliest_date"`
	Offset       int    `json:"offset"`
}

// BeginCycle ensures a cycle is in progress, anchoring a new one to today
// when none is. The inherited window is left untouched.
func BeginCycle(cur metastore.CollectionDates, clock dates.Clock) metastore.CollectionDates {
	if cur.CycleAnchor == "" {
		cur.CycleAnchor = clock.Today().String()
	}
	return cur
}

// AdvanceCycle folds a run's resume point into the collection watermark.
//
// Mid-cycle, the next window's end moves to the earliest date the run
// discovered and the offset to that date's consumed row count. Once the
// discovered date reaches the window floor the cycle is over: the floor
// jumps to the day before the cycle began and the active-cycle fields
// clear. The very first cycle starts from the configured earliest date;
// when that one ends there is no older history left and the done flag
// comes back true.
func AdvanceCycle(cur metastore.CollectionDates, next NextRunDates, earliest dates.Date) (metastore.CollectionDates, bool, error) {
	start, err := dates.Parse(cur.StartDate)
	if err != nil {
		return cur, false, fmt.Errorf("%w: start_date %q", ErrInvalidDate, cur.StartDate)
	}
	discovered, err := dates.Parse(next.EarliestDate)
	if err != nil {
		return cur, false, fmt.Errorf("%w: earliest_date %q", ErrInvalidDate, next.EarliestDate)
	}
	if next.Offset < 0 {
		return cur, false, fmt.Errorf("%w: negative resume offset %d", ErrInvalidDate, next.Offset)
	}
	if cur.CycleAnchor == "" {
		return cur, false, fmt.Errorf("%w: advancing with no cycle in progress", ErrInvalidDate)
	}
	anchor, err := dates.Parse(cur.CycleAnchor)
	if err != nil {
		return cur, false, fmt.Errorf("%w: cycle_anchor %q", ErrInvalidDate, cur.CycleAnchor)
	}

	if discovered.After(start) {
		// Still walking backward inside the cycle.
		cur.EndDate = discovered.String()
		cur.Offset = next.Offset
		return cur, false, nil
	}

	// Cycle-end: the window drained down to (or past) the floor.
	done := start.Equal(earliest)
	cur.StartDate = anchor.AddDays(-1).String()
	cur.EndDate = ""
	cur.Offset = 0
	cur.CycleAnchor = ""
	return cur, done, nil
}
