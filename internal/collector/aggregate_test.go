package collector

import (
	"net/url"
	"testing"

	"github.com/quakelab/seismic-core/internal/dates"
	"github.com/quakelab/seismic-core/internal/fetch"
)

func envelope(rows ...map[string]any) fetch.Envelope {
	data := make([]any, len(rows))
	for i, row := range rows {
		data[i] = row
	}
	return fetch.Envelope{
		RawResponse: map[string]any{"count": float64(len(rows)), "data": data},
		Params:      url.Values{},
		KeyName:     "key1",
	}
}

func TestAggregateStampsProvenance(t *testing.T) {
	env := envelope(
		map[string]any{"id": "q1", "date": "2024-03-10T08:15:00", "magnitude": 4.5},
		map[string]any{"id": "q2", "date": "2024-03-11T01:00:00", "magnitude": 2.0},
	)

	agg := AggregateResponses([]fetch.Envelope{env}, dates.MustParse("2024-05-01"))
	if len(agg.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(agg.Rows))
	}
	if len(agg.ResponseIDs) != 1 {
		t.Fatalf("expected 1 response id, got %d", len(agg.ResponseIDs))
	}
	for _, row := range agg.Rows {
		id, ok := row[responseIDField].(string)
		if !ok || id != agg.ResponseIDs[0] {
			t.Fatalf("row missing provenance stamp: %v", row)
		}
	}
}

func TestAggregateResumePoint(t *testing.T) {
	env := envelope(
		map[string]any{"id": "q1", "date": "2024-03-11T00:00:00"},
		map[string]any{"id": "q2", "date": "2024-03-10T00:00:00"},
		map[string]any{"id": "q3", "date": "2024-03-10T12:00:00"},
		map[string]any{"id": "q4", "date": "2024-03-12T00:00:00"},
	)

	agg := AggregateResponses([]fetch.Envelope{env}, dates.MustParse("2024-05-01"))
	if agg.Next.EarliestDate != "2024-03-10" {
		t.Fatalf("resume date: %s", agg.Next.EarliestDate)
	}
	// Two rows already consumed on the earliest date.
	if agg.Next.Offset != 2 {
		t.Fatalf("resume offset: %d", agg.Next.Offset)
	}
}

func TestAggregateSentinelForUnparseableDates(t *testing.T) {
	env := envelope(
		map[string]any{"id": "q1", "date": "garbage"},
		map[string]any{"id": "q2"},
		map[string]any{"id": "q3", "date": "2024-03-10T00:00:00"},
	)

	runDay := dates.MustParse("2024-05-01")
	agg := AggregateResponses([]fetch.Envelope{env}, runDay)

	// Bad-date rows are kept under a sentinel one day past the run day so
	// they sort last and get revisited.
	if got := agg.DateCounts["2024-05-02"]; got != 2 {
		t.Fatalf("sentinel census: %d", got)
	}
	if len(agg.Rows) != 3 {
		t.Fatalf("rows dropped: %d", len(agg.Rows))
	}
	for _, row := range agg.Rows {
		if row["id"] == "q1" && row["date"] != "2024-05-02" {
			t.Fatalf("sentinel not stamped onto the row: %v", row["date"])
		}
	}
	// The sentinel never becomes the resume point while real dates exist.
	if agg.Next.EarliestDate != "2024-03-10" {
		t.Fatalf("resume date: %s", agg.Next.EarliestDate)
	}
}

func TestAggregateColumnCensus(t *testing.T) {
	env := envelope(
		map[string]any{"id": "q1", "date": "2024-03-10T00:00:00", "magnitude": 4.5},
		map[string]any{"id": "q2", "date": "2024-03-10T00:00:00"},
	)

	agg := AggregateResponses([]fetch.Envelope{env}, dates.MustParse("2024-05-01"))
	if agg.Columns["id"] != 2 || agg.Columns["magnitude"] != 1 {
		t.Fatalf("census wrong: %v", agg.Columns)
	}
}

func TestAggregateEmptyRun(t *testing.T) {
	agg := AggregateResponses(nil, dates.MustParse("2024-05-01"))
	if len(agg.Rows) != 0 || agg.Next.EarliestDate != "" {
		t.Fatalf("empty run should aggregate to nothing: %+v", agg)
	}
}
