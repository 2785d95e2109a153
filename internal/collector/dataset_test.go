package collector

import (
	"context"
	"errors"
	"testing"

	"github.com/quakelab/seismic-core/internal/table"
)

func TestCollectDatasetBackfillsMonths(t *testing.T) {
	f := newFixture(t, &apiStub{pageSize: 10, totalRows: 4})
	ctx := context.Background()

	ledger, err := f.orch.CollectDataset(ctx, "2024-01-01", "2024-03-31")
	if err != nil {
		t.Fatalf("backfill failed: %v", err)
	}
	if ledger.Status != StatusCollectionDone {
		t.Fatalf("status: %s", ledger.Status)
	}
	for _, month := range []string{"2024-01", "2024-02", "2024-03"} {
		if ledger.Months[month] != StatusPipelineSuccess {
			t.Fatalf("month %s: %s", month, ledger.Months[month])
		}
	}

	// Each month got its own data object.
	app := table.NewAppender(f.store, nil)
	for month := 1; month <= 3; month++ {
		rows, err := app.Load(ctx, table.MonthRawDataKey(2024, month))
		if err != nil {
			t.Fatalf("month %d table: %v", month, err)
		}
		if len(rows) != 4 {
			t.Fatalf("month %d rows: %d", month, len(rows))
		}
	}

	// Run records: one per month.
	runs, err := app.Load(ctx, table.RunsKey)
	if err != nil || len(runs) != 3 {
		t.Fatalf("runs table: %d rows, err %v", len(runs), err)
	}
}

func TestCollectDatasetSkipsFinishedMonths(t *testing.T) {
	f := newFixture(t, &apiStub{pageSize: 10, totalRows: 4})
	ctx := context.Background()

	if _, err := f.orch.CollectDataset(ctx, "2024-01-01", "2024-02-29"); err != nil {
		t.Fatalf("first backfill failed: %v", err)
	}
	before := f.reload(t).RemainingRequests(testKeyName)

	// A second invocation has nothing left to do and spends no quota.
	ledger, err := f.orch.CollectDataset(ctx, "2024-01-01", "2024-02-29")
	if err != nil {
		t.Fatalf("second backfill failed: %v", err)
	}
	if ledger.Status != StatusCollectionDone {
		t.Fatalf("status: %s", ledger.Status)
	}
	if after := f.reload(t).RemainingRequests(testKeyName); after != before {
		t.Fatalf("idle backfill burnt quota: %d -> %d", before, after)
	}
}

func TestPatchDatasetRetriesOnlyFailures(t *testing.T) {
	stub := &apiStub{pageSize: 10, failAll: true}
	f := newFixture(t, stub)
	ctx := context.Background()

	ledger, err := f.orch.CollectDataset(ctx, "2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("backfill failed: %v", err)
	}
	if ledger.Months["2024-01"] != StatusPipelineFail {
		t.Fatalf("month should have failed: %s", ledger.Months["2024-01"])
	}
	if ledger.Status != StatusCollectionPartial {
		t.Fatalf("status: %s", ledger.Status)
	}

	// Upstream recovers; patching retries the failed month only.
	stub.failAll = false
	stub.totalRows = 4
	ledger, err = f.orch.PatchDataset(ctx, "2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("patch failed: %v", err)
	}
	if ledger.Months["2024-01"] != StatusPipelineSuccess {
		t.Fatalf("patched month: %s", ledger.Months["2024-01"])
	}
	if ledger.Status != StatusCollectionDone {
		t.Fatalf("status after patch: %s", ledger.Status)
	}
}

func TestVerifyDataset(t *testing.T) {
	f := newFixture(t, &apiStub{pageSize: 10, totalRows: 4})
	ctx := context.Background()

	if _, err := f.orch.CollectDataset(ctx, "2024-01-01", "2024-02-29"); err != nil {
		t.Fatalf("backfill failed: %v", err)
	}

	report, err := f.orch.VerifyDataset(ctx, "2024-01-01", "2024-02-29")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !report.Complete || report.DoneMonths != 2 {
		t.Fatalf("report: %+v", report)
	}

	// A wider span exposes months never collected.
	report, err = f.orch.VerifyDataset(ctx, "2024-01-01", "2024-03-31")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if report.Complete || len(report.PendingMonths) != 1 || report.PendingMonths[0] != "2024-03" {
		t.Fatalf("report: %+v", report)
	}

	// A success entry whose data object vanished is flagged.
	if err := f.store.Remove(ctx, table.MonthRawDataKey(2024, 1)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	report, err = f.orch.VerifyDataset(ctx, "2024-01-01", "2024-02-29")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if report.Complete || len(report.MissingArtifact) != 1 || report.MissingArtifact[0] != "2024-01" {
		t.Fatalf("report: %+v", report)
	}
}

func TestCollectDatasetRejectsBadDates(t *testing.T) {
	f := newFixture(t, &apiStub{pageSize: 10, totalRows: 4})
	if _, err := f.orch.CollectDataset(context.Background(), "January", "2024-03-31"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}
