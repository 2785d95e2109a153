package collector

import "sort"

// ValidationReport records schema drift and data-quality findings from one
// run. Findings are advisory: they never block persistence.
type ValidationReport struct {
	NewColumns     []string       `json:"new_columns,omitempty"`
	MissingColumns []string       `json:"missing_columns,omitempty"`
	MissingValues  map[string]int `json:"missing_values,omitempty"`
	TotalRows      int            `json:"total_rows"`
}

// Validate compares a run's column census against the known-column
// baseline and counts missing values per column. A column seen fewer
// times than the row total has gaps; a column absent from the baseline is
// new; a baseline column absent from the run is missing.
func Validate(columns map[string]int, knownColumns []string, totalRows int) *ValidationReport {
	report := &ValidationReport{TotalRows: totalRows}

	known := make(map[string]struct{}, len(knownColumns))
	for _, col := range knownColumns {
		known[col] = struct{}{}
	}

	for col, seen := range columns {
		if _, ok := known[col]; !ok && len(knownColumns) > 0 {
			report.NewColumns = append(report.NewColumns, col)
		}
		if missing := totalRows - seen; missing > 0 {
			if report.MissingValues == nil {
				report.MissingValues = map[string]int{}
			}
			report.MissingValues[col] = missing
		}
	}
	for _, col := range knownColumns {
		if _, ok := columns[col]; !ok {
			report.MissingColumns = append(report.MissingColumns, col)
		}
	}

	sort.Strings(report.NewColumns)
	sort.Strings(report.MissingColumns)
	return report
}
