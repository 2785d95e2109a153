package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quakelab/seismic-core/internal/dates"
	"github.com/quakelab/seismic-core/internal/fetch"
	"github.com/quakelab/seismic-core/internal/storage"
	"github.com/quakelab/seismic-core/internal/table"
)

// DatasetMetadata is the backfill ledger: one status per month window,
// persisted after every batch so an interrupted backfill resumes at the
// last checkpoint.
type DatasetMetadata struct {
	FirstDate string            `json:"first_date"`
	LastDate  string            `json:"last_date"`
	Months    map[string]string `json:"months"`
	Status    string            `json:"status"`
}

// DatasetReport summarizes a verify pass.
type DatasetReport struct {
	Complete        bool     `json:"complete"`
	DoneMonths      int      `json:"done_months"`
	PendingMonths   []string `json:"pending_months,omitempty"`
	MissingArtifact []string `json:"missing_artifact,omitempty"`
}

func monthLabel(w dates.Window) string {
	return fmt.Sprintf("%d-%02d", w.Start.Year(), w.Start.Month())
}

// CollectDataset backfills the whole span in month sub-ranges, batch by
// batch, skipping months a previous invocation already finished. Each
// batch boundary is a checkpoint: month rows, run records and the dataset
// ledger are persisted before the next batch starts.
func (o *Orchestrator) CollectDataset(ctx context.Context, first, last string) (DatasetMetadata, error) {
	return o.collectMonths(ctx, first, last, func(status string) bool {
		return status != StatusPipelineSuccess
	})
}

// PatchDataset retries only months that were attempted and did not reach
// pipeline success. Untouched months are left for CollectDataset.
func (o *Orchestrator) PatchDataset(ctx context.Context, first, last string) (DatasetMetadata, error) {
	return o.collectMonths(ctx, first, last, func(status string) bool {
		return status != "" && status != StatusPipelineSuccess
	})
}

func (o *Orchestrator) collectMonths(ctx context.Context, first, last string, wanted func(status string) bool) (DatasetMetadata, error) {
	firstDay, err := dates.Parse(first)
	if err != nil {
		return DatasetMetadata{}, fmt.Errorf("%w: first date %q", ErrInvalidDate, first)
	}
	lastDay, err := dates.Parse(last)
	if err != nil {
		return DatasetMetadata{}, fmt.Errorf("%w: last date %q", ErrInvalidDate, last)
	}
	if err := o.precheck(ctx); err != nil {
		return DatasetMetadata{}, err
	}
	if err := o.meta.Load(ctx); err != nil {
		return DatasetMetadata{}, err
	}
	ledger, err := o.loadDatasetMetadata(ctx, first, last)
	if err != nil {
		return DatasetMetadata{}, err
	}

	var pending []dates.Window
	for _, w := range dates.MonthWindows(firstDay, lastDay) {
		if wanted(ledger.Months[monthLabel(w)]) {
			pending = append(pending, w)
		}
	}
	if len(pending) == 0 {
		ledger.Status = StatusCollectionDone
		return ledger, o.saveDatasetMetadata(ctx, ledger)
	}

	cd := o.meta.CollectionDates()
	cd.StartDate, cd.EndDate, cd.Offset = first, last, 0
	plans, err := o.planner.PlanCollection(cd)
	if err != nil {
		return DatasetMetadata{}, err
	}
	queue := fetch.NewPlanQueue(plans)

	runner := fetch.NewRunner(o.cfg.BatchSize, func(gate *fetch.Gate) *fetch.Engine {
		return fetch.NewEngine(o.client, o.pool, gate, fetch.EngineConfig{
			PageSize:    o.cfg.PageSize,
			RetryBudget: o.cfg.RetryBudget,
			DataType:    o.cfg.DataType,
			UseProxies:  o.cfg.UseProxies,
		}, o.log)
	}, o.log)

	for lo := 0; lo < len(pending); lo += o.cfg.BatchSize {
		hi := lo + o.cfg.BatchSize
		if hi > len(pending) {
			hi = len(pending)
		}
		results := runner.Run(ctx, pending[lo:hi], queue)

		for _, res := range results {
			o.chargeLedger(res.RequestsUsed)
			if err := o.persistMonth(ctx, res, &ledger); err != nil {
				return ledger, err
			}
		}
		if err := o.checkpointDataset(ctx, ledger); err != nil {
			return ledger, err
		}
		if queue.Remaining() == 0 {
			o.log.Info("backfill budget spent", zap.Int("months_done", hi))
			break
		}
	}

	ledger.Status = datasetStatus(firstDay, lastDay, ledger)
	if err := o.checkpointDataset(ctx, ledger); err != nil {
		return ledger, err
	}
	return ledger, nil
}

// persistMonth stores one month's rows and run record and updates the
// ledger entry for that month.
func (o *Orchestrator) persistMonth(ctx context.Context, res fetch.Result, ledger *DatasetMetadata) error {
	label := monthLabel(res.Window)
	runID := uuid.NewString()

	switch res.Status {
	case fetch.StatusExhausted:
		ledger.Months[label] = StatusPipelineSuccess
	case fetch.StatusFailed:
		ledger.Months[label] = StatusPipelineFail
	case fetch.StatusBudgetSpent:
		// Unstarted months carry no entry so CollectDataset retries
		// them; a partially fetched month is a failure worth patching.
		if len(res.Envelopes) > 0 {
			ledger.Months[label] = StatusPipelineFail
		}
	}

	if len(res.Envelopes) == 0 {
		if res.Status == fetch.StatusFailed {
			record := RunRecord(runID, ModeCollection, res, "")
			return o.appender.Append(ctx, []table.Row{record}, table.RunsKey, false)
		}
		return nil
	}

	agg := AggregateResponses(res.Envelopes, o.clock.Today())
	dataKey := table.MonthRawDataKey(res.Window.Start.Year(), res.Window.Start.Month())
	if err := o.appender.Append(ctx, agg.Rows, dataKey, true); err != nil {
		return err
	}
	o.meta.RecordColumns(columnNames(agg.Columns))

	record := RunRecord(runID, ModeCollection, res, dataKey)
	record["month"] = monthLabel(res.Window)
	record["rows"] = len(agg.Rows)
	return o.appender.Append(ctx, []table.Row{record}, table.RunsKey, false)
}

// VerifyDataset reports which months of the span reached pipeline success
// and have their data object present.
func (o *Orchestrator) VerifyDataset(ctx context.Context, first, last string) (DatasetReport, error) {
	firstDay, err := dates.Parse(first)
	if err != nil {
		return DatasetReport{}, fmt.Errorf("%w: first date %q", ErrInvalidDate, first)
	}
	lastDay, err := dates.Parse(last)
	if err != nil {
		return DatasetReport{}, fmt.Errorf("%w: last date %q", ErrInvalidDate, last)
	}
	if err := o.precheck(ctx); err != nil {
		return DatasetReport{}, err
	}
	ledger, err := o.loadDatasetMetadata(ctx, first, last)
	if err != nil {
		return DatasetReport{}, err
	}

	report := DatasetReport{Complete: true}
	for _, w := range dates.MonthWindows(firstDay, lastDay) {
		label := monthLabel(w)
		if ledger.Months[label] != StatusPipelineSuccess {
			report.Complete = false
			report.PendingMonths = append(report.PendingMonths, label)
			continue
		}
		key := table.MonthRawDataKey(w.Start.Year(), w.Start.Month())
		if _, err := o.store.Load(ctx, key); err != nil {
			if storage.IsNotFound(err) {
				report.Complete = false
				report.MissingArtifact = append(report.MissingArtifact, label)
				continue
			}
			return report, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		report.DoneMonths++
	}
	sort.Strings(report.PendingMonths)
	sort.Strings(report.MissingArtifact)
	return report, nil
}

func (o *Orchestrator) loadDatasetMetadata(ctx context.Context, first, last string) (DatasetMetadata, error) {
	ledger := DatasetMetadata{
		FirstDate: first,
		LastDate:  last,
		Months:    map[string]string{},
		Status:    StatusCollectionPartial,
	}
	data, err := o.store.Load(ctx, table.CollectionMetadataKey)
	if err != nil {
		if storage.IsNotFound(err) {
			return ledger, nil
		}
		return ledger, fmt.Errorf("load dataset metadata: %w", err)
	}
	if err := json.Unmarshal(data, &ledger); err != nil {
		return ledger, fmt.Errorf("dataset metadata is corrupt: %w", err)
	}
	if ledger.Months == nil {
		ledger.Months = map[string]string{}
	}
	return ledger, nil
}

func (o *Orchestrator) saveDatasetMetadata(ctx context.Context, ledger DatasetMetadata) error {
	data, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("marshal dataset metadata: %w", err)
	}
	if err := o.store.Save(ctx, data, table.CollectionMetadataKey); err != nil {
		return fmt.Errorf("save dataset metadata: %w", err)
	}
	return nil
}

func (o *Orchestrator) checkpointDataset(ctx context.Context, ledger DatasetMetadata) error {
	if err := o.saveDatasetMetadata(ctx, ledger); err != nil {
		return err
	}
	if err := o.meta.Save(ctx); err != nil {
		return fmt.Errorf("checkpoint metadata: %w", err)
	}
	return nil
}

func datasetStatus(first, last dates.Date, ledger DatasetMetadata) string {
	for _, w := range dates.MonthWindows(first, last) {
		if ledger.Months[monthLabel(w)] != StatusPipelineSuccess {
			return StatusCollectionPartial
		}
	}
	return StatusCollectionDone
}
