package collector

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/quakelab/seismic-core/internal/dates"
	"github.com/quakelab/seismic-core/internal/fetch"
	"github.com/quakelab/seismic-core/internal/table"
)

// responseIDField is stamped onto every row so it can be traced back to
// the exact upstream response that produced it.
const responseIDField = "response_id"

// Aggregate is everything a run's raw responses fold down to: the rows
// themselves, the per-date and per-column censuses, and the resume point.
type Aggregate struct {
	Rows        []table.Row
	ResponseIDs []string
	DateCounts  map[string]int
	Columns     map[string]int
	Next        NextRunDates
}

// AggregateResponses folds fetched envelopes into rows plus censuses.
// Rows whose date cannot be parsed are stamped with a sentinel date one
// day past the run day so they sort last and get revisited rather than
// silently dropped. The resume point is the minimum date with a nonzero
// count and that date's count.
func AggregateResponses(envelopes []fetch.Envelope, runDay dates.Date) Aggregate {
	agg := Aggregate{
		DateCounts: map[string]int{},
		Columns:    map[string]int{},
	}
	sentinel := runDay.AddDays(1).String()

	for _, env := range envelopes {
		responseID := uuid.NewString()
		agg.ResponseIDs = append(agg.ResponseIDs, responseID)

		for _, raw := range extractRows(env.RawResponse) {
			row := make(table.Row, len(raw)+1)
			for col, val := range raw {
				row[col] = val
				agg.Columns[col]++
			}
			row[responseIDField] = responseID

			day, ok := rowDate(raw)
			if !ok {
				day = sentinel
				row["date"] = sentinel
			}
			agg.DateCounts[day]++
			agg.Rows = append(agg.Rows, row)
		}
	}

	agg.Next = resumePoint(agg.DateCounts)
	return agg
}

func extractRows(payload map[string]any) []map[string]any {
	data, ok := payload["data"].([]any)
	if !ok {
		return nil
	}
	rows := make([]map[string]any, 0, len(data))
	for _, item := range data {
		if row, ok := item.(map[string]any); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// rowDate extracts the row's calendar date. Upstream timestamps are
// RFC 3339-ish strings whose first ten characters are the date.
func rowDate(row map[string]any) (string, bool) {
	raw, ok := row["date"].(string)
	if !ok || len(raw) < len(dates.Format) {
		return "", false
	}
	day := raw[:len(dates.Format)]
	if !dates.IsValid(day) {
		return "", false
	}
	return day, true
}

func resumePoint(counts map[string]int) NextRunDates {
	var earliest string
	for day, n := range counts {
		if n == 0 {
			continue
		}
		if earliest == "" || day < earliest {
			earliest = day
		}
	}
	if earliest == "" {
		return NextRunDates{}
	}
	return NextRunDates{EarliestDate: earliest, Offset: counts[earliest]}
}

// RunRecord is one row of the runs table, describing a completed fetch of
// one sub-range.
func RunRecord(runID, mode string, res fetch.Result, dataKey string) table.Row {
	row := table.Row{
		"run_id":     runID,
		"mode":       mode,
		"start_date": res.Window.Start.String(),
		"end_date":   res.Window.End.String(),
		"status":     string(res.Status),
		"responses":  len(res.Envelopes),
		"data_key":   dataKey,
	}
	if res.Err != nil {
		row["error"] = res.Err.Error()
	}
	return row
}

// RunMetadata is the single value a run returns to its caller.
type RunMetadata struct {
	RunID            string            `json:"run_id"`
	Mode             string            `json:"mode"`
	Status           string            `json:"status"`
	Count            int               `json:"count"`
	ResponseIDs      []string          `json:"responses_ids"`
	Columns          map[string]int    `json:"columns"`
	NextRunDates     NextRunDates      `json:"next_run_dates"`
	ValidationReport *ValidationReport `json:"validation_report,omitempty"`
}

func (m RunMetadata) String() string {
	return fmt.Sprintf("run %s (%s): %d rows, %d responses, status %s",
		m.RunID, m.Mode, m.Count, len(m.ResponseIDs), m.Status)
}
