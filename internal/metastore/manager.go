package metastore

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/quakelab/seismic-core/internal/dates"
	"github.com/quakelab/seismic-core/internal/storage"
	"github.com/quakelab/seismic-core/internal/table"
)

// Manager loads, mutates and saves the collection metadata document. It is
// not safe for concurrent use: per the concurrency model only the
// orchestrator touches it, never the fetch workers.
type Manager struct {
	store      storage.ObjectStore
	clock      dates.Clock
	dailyQuota int
	earliest   dates.Date
	log        *zap.Logger

	meta *Metadata
}

// NewManager creates a metadata manager bound to the given store.
// dailyQuota is the full per-credential daily request allowance; earliest
// is the configured floor of collectible history.
func NewManager(store storage.ObjectStore, clock dates.Clock, dailyQuota int, earliest dates.Date, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store:      store,
		clock:      clock,
		dailyQuota: dailyQuota,
		earliest:   earliest,
		log:        log,
		meta:       &Metadata{},
	}
}

// Load reads the metadata document. A missing document yields a fresh
// state (first deployment); a document that exists but does not parse or
// validate is a hard error.
func (m *Manager) Load(ctx context.Context) error {
	data, err := m.store.Load(ctx, table.MetadataKey)
	if err != nil {
		if storage.IsNotFound(err) {
			m.log.Info("no metadata document found, starting fresh")
			m.meta = &Metadata{}
			return nil
		}
		return fmt.Errorf("load metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("metadata document is corrupt: %w", err)
	}
	if err := meta.Validate(); err != nil {
		return err
	}
	m.meta = &meta
	return nil
}

// Save persists the current document.
func (m *Manager) Save(ctx context.Context) error {
	data, err := json.Marshal(m.meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := m.store.Save(ctx, data, table.MetadataKey); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

// DoneCollecting reports the terminal flag.
func (m *Manager) DoneCollecting() bool { return m.meta.DoneCollecting }

// MarkDone sets the terminal flag. It is monotonic: there is no way back.
func (m *Manager) MarkDone() { m.meta.DoneCollecting = true }

// CollectionDates returns the watermark with defaults resolved: a fresh
// deployment collects from yesterday back to the configured floor with no
// rows consumed yet.
func (m *Manager) CollectionDates() CollectionDates {
	cd := m.meta.CollectionDates
	if cd.StartDate == "" {
		cd.StartDate = m.earliest.String()
	}
	if cd.EndDate == "" {
		cd.EndDate = dates.Yesterday(m.clock).String()
	}
	return cd
}

// SetCollectionDates replaces the watermark after validating it.
func (m *Manager) SetCollectionDates(cd CollectionDates) error {
	probe := Metadata{CollectionDates: cd}
	if err := probe.Validate(); err != nil {
		return err
	}
	m.meta.CollectionDates = cd
	return nil
}

// RemainingRequests returns today's remaining quota for the credential.
// A credential with no ledger entry for today has its full daily quota;
// the read never mutates the ledger.
func (m *Manager) RemainingRequests(credential string) int {
	byDay, ok := m.meta.Keys[credential]
	if !ok {
		return m.dailyQuota
	}
	today := m.clock.Today().String()
	remaining, ok := byDay[today]
	if !ok {
		return m.dailyQuota
	}
	return remaining
}

// SetRemainingRequests records today's remaining quota for the credential,
// replacing any stale entries from earlier days.
func (m *Manager) SetRemainingRequests(credential string, remaining int) {
	if remaining < 0 {
		remaining = 0
	}
	if m.meta.Keys == nil {
		m.meta.Keys = make(map[string]map[string]int)
	}
	m.meta.Keys[credential] = map[string]int{m.clock.Today().String(): remaining}
}

// KnownColumns returns the schema baseline from prior runs.
func (m *Manager) KnownColumns() []string { return m.meta.KnownColumns }

// RecordColumns merges newly observed columns into the baseline.
func (m *Manager) RecordColumns(cols []string) {
	known := make(map[string]struct{}, len(m.meta.KnownColumns))
	for _, col := range m.meta.KnownColumns {
		known[col] = struct{}{}
	}
	for _, col := range cols {
		if _, ok := known[col]; !ok {
			m.meta.KnownColumns = append(m.meta.KnownColumns, col)
			known[col] = struct{}{}
		}
	}
}
