// Package metastore owns the persisted collection metadata document: the
// date watermark, the per-credential daily request ledger, the known-column
// baseline and the terminal done flag. The document is a single JSON object
// at a well-known key; the orchestrator owns it for the duration of a run
// and persists it at checkpoints.
package metastore

import (
	"fmt"

	"github.com/quakelab/seismic-core/internal/dates"
)

// CollectionDates is the watermark: how far collection has progressed.
// StartDate/EndDate are inclusive calendar dates. Offset is the count of
// rows already consumed on the oldest unresolved day. CycleAnchor is the
// date the active cycle began, empty when no cycle is in progress.
type CollectionDates struct {
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	Offset      int    `json:"offset,omitempty"`
	CycleAnchor string `json:"cycle_anchor,omitempty"`
}

// Metadata is the process-wide collection state document.
type Metadata struct {
	CollectionDates CollectionDates           `json:"collection_dates"`
	Keys            map[string]map[string]int `json:"keys,omitempty"`
	KnownColumns    []string                  `json:"known_columns,omitempty"`
	DoneCollecting  bool                      `json:"done_collecting,omitempty"`
}

// Validate checks the document shape after load. Corruption fails fast
// here rather than silently defaulting fields downstream.
func (m *Metadata) Validate() error {
	for name, val := range map[string]string{
		"start_date":   m.CollectionDates.StartDate,
		"end_date":     m.CollectionDates.EndDate,
		"cycle_anchor": m.CollectionDates.CycleAnchor,
	} {
		if val == "" {
			continue
		}
		if !dates.IsValid(val) {
			return fmt.Errorf("metadata: %s %q is not a YYYY-MM-DD date", name, val)
		}
	}
	if m.CollectionDates.Offset < 0 {
		return fmt.Errorf("metadata: offset %d is negative", m.CollectionDates.Offset)
	}
	for key, byDay := range m.Keys {
		for day, remaining := range byDay {
			if !dates.IsValid(day) {
				return fmt.Errorf("metadata: key %s has invalid ledger date %q", key, day)
			}
			if remaining < 0 {
				return fmt.Errorf("metadata: key %s has negative remaining quota on %s", key, day)
			}
		}
	}
	return nil
}
