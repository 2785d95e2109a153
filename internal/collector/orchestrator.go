package collector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quakelab/seismic-core/internal/config"
	"github.com/quakelab/seismic-core/internal/dates"
	"github.com/quakelab/seismic-core/internal/fetch"
	"github.com/quakelab/seismic-core/internal/metastore"
	"github.com/quakelab/seismic-core/internal/proxy"
	"github.com/quakelab/seismic-core/internal/storage"
	"github.com/quakelab/seismic-core/internal/table"
)

// Run modes.
const (
	ModeCollection = "collection"
	ModeUpdate     = "update"
)

var (
	runsSucceeded = metrics.NewCounter(`seismic_runs_total{outcome="success"}`)
	runsFailed    = metrics.NewCounter(`seismic_runs_total{outcome="failure"}`)
	rowsCollected = metrics.NewCounter(`seismic_rows_collected_total`)
)

// Orchestrator drives a complete collection or update run: storage
// precheck, metadata load, planning, fetching, aggregation, persistence
// and cycle advancement. It owns the metadata manager and rate ledger
// exclusively; fetch workers never touch them.
type Orchestrator struct {
	cfg      *config.Config
	store    storage.ObjectStore
	meta     *metastore.Manager
	appender *table.Appender
	planner  *Planner
	client   *fetch.Client
	pool     *proxy.Pool
	clock    dates.Clock
	earliest dates.Date
	log      *zap.Logger
}

// New wires an orchestrator from its collaborators. pool may be nil when
// proxies are disabled.
func New(cfg *config.Config, store storage.ObjectStore, meta *metastore.Manager, pool *proxy.Pool, clock dates.Clock, log *zap.Logger) (*Orchestrator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	earliest, err := dates.Parse(cfg.EarliestDate)
	if err != nil {
		return nil, fmt.Errorf("%w: earliest date %q", ErrInvalidDate, cfg.EarliestDate)
	}

	client := fetch.NewClient(fetch.ClientConfig{
		BaseURL:   cfg.APIURL,
		Host:      cfg.APIHost,
		Timeout:   cfg.RequestTimeout,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	})
	planner := NewPlanner(meta, cfg.APIKeys, cfg.KeyNames(), PlannerConfig{
		PageSize:    cfg.PageSize,
		Tolerance:   cfg.RequestTolerance,
		UpdateCount: cfg.UpdateRequestCount,
		WindowDays:  cfg.UpdateWindowDays,
	})

	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		meta:     meta,
		appender: table.NewAppender(store, log),
		planner:  planner,
		client:   client,
		pool:     pool,
		clock:    clock,
		earliest: earliest,
		log:      log,
	}, nil
}

// Run executes one collection or update run end to end and returns its
// metadata. Fatal conditions come back as the sentinel errors in this
// package; partial sub-range failures do not fail the run as long as at
// least one response was healthy.
func (o *Orchestrator) Run(ctx context.Context, mode string) (RunMetadata, error) {
	runID := uuid.NewString()
	log := o.log.With(zap.String("run_id", runID), zap.String("mode", mode))

	if err := o.precheck(ctx); err != nil {
		runsFailed.Inc()
		return RunMetadata{}, err
	}
	if err := o.meta.Load(ctx); err != nil {
		runsFailed.Inc()
		return RunMetadata{}, err
	}
	if mode == ModeCollection && o.meta.DoneCollecting() {
		return RunMetadata{}, ErrDoneCollecting
	}

	var (
		cd     metastore.CollectionDates
		plans  []fetch.RequestPlan
		window dates.Window
		offset int
		err    error
	)
	switch mode {
	case ModeCollection:
		cd = BeginCycle(o.meta.CollectionDates(), o.clock)
		if err := o.meta.SetCollectionDates(cd); err != nil {
			runsFailed.Inc()
			return RunMetadata{}, err
		}
		plans, err = o.planner.PlanCollection(cd)
		if err != nil {
			runsFailed.Inc()
			return RunMetadata{}, err
		}
		window = plans[0].Window
		offset = cd.Offset
	case ModeUpdate:
		plans, err = o.planner.PlanUpdate(o.clock)
		if err != nil {
			runsFailed.Inc()
			return RunMetadata{}, err
		}
		window = plans[0].Window
		offset = 0
	default:
		runsFailed.Inc()
		return RunMetadata{}, fmt.Errorf("unknown run mode %q", mode)
	}
	log.Info("run planned",
		zap.Int("plans", len(plans)),
		zap.String("window_start", window.Start.String()),
		zap.String("window_end", window.End.String()),
		zap.Int("offset", offset))

	gate := fetch.NewGate(0, o.cfg.MaxBackoff)
	engine := fetch.NewEngine(o.client, o.pool, gate, fetch.EngineConfig{
		PageSize:    o.cfg.PageSize,
		RetryBudget: o.cfg.RetryBudget,
		DataType:    o.cfg.DataType,
		UseProxies:  o.cfg.UseProxies,
	}, log)
	res := engine.FetchWindow(ctx, window, offset, fetch.NewPlanQueue(plans))

	o.chargeLedger(res.RequestsUsed)

	if res.Status == fetch.StatusFailed && len(res.Envelopes) == 0 {
		// Attempts were made, so the burnt quota must survive the failure.
		if saveErr := o.meta.Save(ctx); saveErr != nil {
			log.Error("saving ledger after failed run", zap.Error(saveErr))
		}
		runsFailed.Inc()
		log.Error("run produced no healthy responses", zap.Error(res.Err))
		return RunMetadata{}, fmt.Errorf("%w: %v", ErrNoHealthyResponses, res.Err)
	}

	agg := AggregateResponses(res.Envelopes, o.clock.Today())
	if mode == ModeCollection && agg.Next.EarliestDate == "" {
		// An empty window is an exhausted window: resume at the floor so
		// the cycle machine sees it drained.
		agg.Next = NextRunDates{EarliestDate: cd.StartDate, Offset: 0}
	}

	if err := o.persistRun(ctx, runID, mode, res, agg); err != nil {
		runsFailed.Inc()
		return RunMetadata{}, err
	}

	report := Validate(agg.Columns, o.meta.KnownColumns(), len(agg.Rows))
	o.meta.RecordColumns(columnNames(agg.Columns))

	if mode == ModeCollection {
		next, done, err := AdvanceCycle(cd, agg.Next, o.earliest)
		if err != nil {
			runsFailed.Inc()
			return RunMetadata{}, err
		}
		if done {
			log.Info("configured history fully collected")
			o.meta.MarkDone()
		}
		if err := o.meta.SetCollectionDates(next); err != nil {
			runsFailed.Inc()
			return RunMetadata{}, err
		}
	}

	if err := o.meta.Save(ctx); err != nil {
		runsFailed.Inc()
		return RunMetadata{}, fmt.Errorf("checkpoint metadata: %w", err)
	}

	runsSucceeded.Inc()
	rowsCollected.Add(len(agg.Rows))
	meta := RunMetadata{
		RunID:            runID,
		Mode:             mode,
		Status:           StatusUploadDataSuccess,
		Count:            len(agg.Rows),
		ResponseIDs:      agg.ResponseIDs,
		Columns:          agg.Columns,
		NextRunDates:     agg.Next,
		ValidationReport: report,
	}
	log.Info("run complete", zap.Int("rows", meta.Count), zap.String("status", string(res.Status)))
	return meta, nil
}

// precheck verifies the durable store before any quota is spent.
func (o *Orchestrator) precheck(ctx context.Context) error {
	ok, err := o.store.BucketExists(ctx, true)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: bucket missing and could not be created", ErrStorageUnavailable)
	}
	return nil
}

func (o *Orchestrator) chargeLedger(used map[string]int) {
	for key, n := range used {
		o.meta.SetRemainingRequests(key, o.meta.RemainingRequests(key)-n)
	}
}

// persistRun writes the run's artifacts: provenance document, raw rows
// partitioned by year, and the run record. When a later write fails the
// provenance document is removed again so no artifact points at a run
// the tables never recorded.
func (o *Orchestrator) persistRun(ctx context.Context, runID, mode string, res fetch.Result, agg Aggregate) error {
	provenanceKey := table.ResponsesMetadataKey(runID)
	provenance, err := json.Marshal(map[string]any{
		"run_id":    runID,
		"mode":      mode,
		"envelopes": res.Envelopes,
	})
	if err != nil {
		return fmt.Errorf("marshal responses metadata: %w", err)
	}
	if err := o.store.Save(ctx, provenance, provenanceKey); err != nil {
		return fmt.Errorf("save responses metadata: %w", err)
	}

	if err := o.appendRunTables(ctx, runID, mode, res, agg); err != nil {
		if rmErr := o.store.Remove(ctx, provenanceKey); rmErr != nil {
			o.log.Warn("removing orphaned responses metadata",
				zap.String("key", provenanceKey), zap.Error(rmErr))
		}
		return err
	}
	return nil
}

func (o *Orchestrator) appendRunTables(ctx context.Context, runID, mode string, res fetch.Result, agg Aggregate) error {
	for year, rows := range rowsByYear(agg.Rows) {
		if err := o.appender.Append(ctx, rows, table.RawDataKey(year), true); err != nil {
			return err
		}
	}
	record := RunRecord(runID, mode, res, table.ResponsesMetadataKey(runID))
	return o.appender.Append(ctx, []table.Row{record}, table.RunsKey, false)
}

// rowsByYear groups rows by the calendar year of their date column. Rows
// carrying the sentinel date land in the sentinel's year, which is always
// the current one.
func rowsByYear(rows []table.Row) map[int][]table.Row {
	byYear := make(map[int][]table.Row)
	for _, row := range rows {
		year := 0
		if day, ok := rowDate(row); ok {
			if d, err := dates.Parse(day); err == nil {
				year = d.Year()
			}
		}
		byYear[year] = append(byYear[year], row)
	}
	return byYear
}

func columnNames(census map[string]int) []string {
	names := make([]string, 0, len(census))
	for name := range census {
		names = append(names, name)
	}
	return names
}
