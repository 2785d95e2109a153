package table

import "fmt"

// Persisted object layout. One metadata document, raw-data tables keyed by
// year (monthly parts during backfill), one runs table, and per-run
// response provenance documents.
const (
	MetadataKey           = "metadata/metadata.json"
	CollectionMetadataKey = "metadata/collection_metadata.json"
	RunsKey               = "data/runs.parquet"
)

// RawDataKey names the yearly raw-rows table.
func RawDataKey(year int) string {
	return fmt.Sprintf("data/raw_data/%d/%d_raw_data.parquet", year, year)
}

// MonthRawDataKey names the per-month raw-rows table used by backfill.
func MonthRawDataKey(year, month int) string {
	return fmt.Sprintf("data/raw_data/%d/%d_%02d_raw_data.parquet", year, year, month)
}

// ResponsesMetadataKey names the per-run response provenance document.
func ResponsesMetadataKey(runID string) string {
	return fmt.Sprintf("data/responses_metadata/%s_responses.json", runID)
}
