// Package table implements the durable append-only tables the pipeline
// writes: raw event rows partitioned by year and per-run result records.
// Tables are parquet objects in the object store; appends are read-modify-
// write with exact full-row de-duplication, so retried runs can hand the
// same rows back without growing the table.
package table

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/quakelab/seismic-core/internal/storage"
)

// Row is one open-shaped record destined for a columnar table.
type Row = map[string]any

// Appender appends row batches to named tables in the object store.
type Appender struct {
	store storage.ObjectStore
	log   *zap.Logger
}

// NewAppender creates an Appender over the given store.
func NewAppender(store storage.ObjectStore, log *zap.Logger) *Appender {
	if log == nil {
		log = zap.NewNop()
	}
	return &Appender{store: store, log: log}
}

// Append merges rows into the table at key. A missing table is created
// (first run). When dedupe is set, exact full-row duplicates are dropped,
// keeping the earliest occurrence. The combined table is built in memory
// and written in one Save, so a failed write leaves the stored table
// unchanged.
func (a *Appender) Append(ctx context.Context, rows []Row, key string, dedupe bool) error {
	if len(rows) == 0 {
		return nil
	}

	existing, err := a.load(ctx, key)
	if err != nil {
		return err
	}

	combined := make([]Row, 0, len(existing)+len(rows))
	combined = append(combined, existing...)
	combined = append(combined, rows...)
	if dedupe {
		combined = dedupeRows(combined)
	}

	data, err := Encode(combined)
	if err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}
	if err := a.store.Save(ctx, data, key); err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}

	a.log.Debug("appended rows to table",
		zap.String("key", key),
		zap.Int("new_rows", len(rows)),
		zap.Int("table_rows", len(combined)))
	return nil
}

// Load reads the full table at key. A missing table yields no rows and no
// error; other storage failures are returned as-is.
func (a *Appender) Load(ctx context.Context, key string) ([]Row, error) {
	return a.load(ctx, key)
}

func (a *Appender) load(ctx context.Context, key string) ([]Row, error) {
	data, err := a.store.Load(ctx, key)
	if err != nil {
		if storage.IsNotFound(err) {
			a.log.Debug("table does not exist yet", zap.String("key", key))
			return nil, nil
		}
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	rows, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return rows, nil
}

// dedupeRows drops exact duplicates, preserving first-seen order. Equality
// is over the full row; the fingerprint is the row's canonical JSON (map
// keys serialize sorted).
func dedupeRows(rows []Row) []Row {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0:0]
	for _, row := range rows {
		fp, err := json.Marshal(row)
		if err != nil {
			out = append(out, row)
			continue
		}
		if _, dup := seen[string(fp)]; dup {
			continue
		}
		seen[string(fp)] = struct{}{}
		out = append(out, row)
	}
	return out
}
