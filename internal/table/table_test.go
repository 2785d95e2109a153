package table

import (
	"context"
	"sort"
	"testing"

	"github.com/quakelab/seismic-core/internal/storage"
)

func newTestAppender(t *testing.T) *Appender {
	t.Helper()
	store := storage.NewLocalStore(t.TempDir(), "test-bucket")
	if _, err := store.BucketExists(context.Background(), true); err != nil {
		t.Fatalf("bucket creation failed: %v", err)
	}
	return NewAppender(store, nil)
}

func testRows() []Row {
	return []Row{
		{"id": "q1", "date": "2024-01-05", "magnitude": 4.5, "place": "somewhere"},
		{"id": "q2", "date": "2024-01-06", "magnitude": 2.1, "place": "elsewhere"},
		{"id": "q3", "date": "2024-01-06", "magnitude": 3.3, "place": "offshore"},
	}
}

func rowIDs(rows []Row) []string {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row["id"].(string))
	}
	sort.Strings(ids)
	return ids
}

func TestAppendCreatesTable(t *testing.T) {
	ctx := context.Background()
	app := newTestAppender(t)

	if err := app.Append(ctx, testRows(), "data/test.parquet", true); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	got, err := app.Load(ctx, "data/test.parquet")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got))
	}
	want := rowIDs(testRows())
	if have := rowIDs(got); !equalStrings(have, want) {
		t.Fatalf("ids mismatch: have %v want %v", have, want)
	}
}

// Re-appending a subset of rows already stored must not grow the table.
func TestAppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	app := newTestAppender(t)
	rows := testRows()

	if err := app.Append(ctx, rows, "data/test.parquet", true); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := app.Append(ctx, rows[:2], "data/test.parquet", true); err != nil {
		t.Fatalf("second append failed: %v", err)
	}

	got, err := app.Load(ctx, "data/test.parquet")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("duplicates slipped through: %d rows", len(got))
	}
}

func TestAppendWithoutDedupeKeepsDuplicates(t *testing.T) {
	ctx := context.Background()
	app := newTestAppender(t)
	row := []Row{{"run_id": "abc", "status": "upload_data_success"}}

	for i := 0; i < 2; i++ {
		if err := app.Append(ctx, row, "data/runs.parquet", false); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}
	got, err := app.Load(ctx, "data/runs.parquet")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 run records, got %d", len(got))
	}
}

func TestLoadMissingTableYieldsNoRows(t *testing.T) {
	app := newTestAppender(t)
	rows, err := app.Load(context.Background(), "data/absent.parquet")
	if err != nil {
		t.Fatalf("missing table should not error: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty table, got %d rows", len(rows))
	}
}

func TestAppendEmptyBatchIsNoop(t *testing.T) {
	app := newTestAppender(t)
	if err := app.Append(context.Background(), nil, "data/test.parquet", true); err != nil {
		t.Fatalf("empty append failed: %v", err)
	}
	rows, err := app.Load(context.Background(), "data/test.parquet")
	if err != nil || len(rows) != 0 {
		t.Fatalf("table should remain absent: rows=%d err=%v", len(rows), err)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
