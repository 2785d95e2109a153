package table

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

// =============================================================================
// COLUMNAR CODEC
// Rows are open (map-shaped) records; the schema is derived per write from
// the union of the columns present. Every column is OPTIONAL so batches with
// uneven columns still encode.
// =============================================================================

// Columns returns the sorted union of column names across rows.
func Columns(rows []Row) []string {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for col := range row {
			seen[col] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for col := range seen {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Encode serializes rows into a parquet file image.
func Encode(rows []Row) ([]byte, error) {
	cols := Columns(rows)
	if len(cols) == 0 {
		return nil, fmt.Errorf("encode: no columns to write")
	}
	types := inferColumnTypes(rows, cols)

	buf := &bytes.Buffer{}
	fw := writerfile.NewWriterFile(buf)
	pw, err := writer.NewJSONWriter(schemaJSON(cols, types), fw, 4)
	if err != nil {
		return nil, fmt.Errorf("encode: create writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		projected := make(map[string]any, len(cols))
		for _, col := range cols {
			projected[col] = coerceValue(row[col], types[col])
		}
		rec, err := json.Marshal(projected)
		if err != nil {
			return nil, fmt.Errorf("encode: marshal row: %w", err)
		}
		if err := pw.Write(string(rec)); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("encode: write row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("encode: finalize: %w", err)
	}
	_ = fw.Close()
	return buf.Bytes(), nil
}

// Decode reads a parquet file image back into rows. Column names are
// restored to their original (external) spelling.
func Decode(data []byte) ([]Row, error) {
	fr, err := buffer.NewBufferFile(data)
	if err != nil {
		return nil, fmt.Errorf("decode: open buffer: %w", err)
	}
	pr, err := reader.NewParquetReader(fr, nil, 4)
	if err != nil {
		return nil, fmt.Errorf("decode: open reader: %w", err)
	}
	defer pr.ReadStop()

	num := int(pr.GetNumRows())
	if num == 0 {
		return nil, nil
	}
	raw, err := pr.ReadByNumber(num)
	if err != nil {
		return nil, fmt.Errorf("decode: read rows: %w", err)
	}

	// The reader materializes rows as generated structs whose field names
	// are the internal (exported) spellings; map them back to the external
	// column names recorded in the schema.
	rename := make(map[string]string)
	for _, info := range pr.SchemaHandler.Infos {
		if info == nil || info.InName == "" {
			continue
		}
		rename[info.InName] = info.ExName
	}

	blob, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("decode: remarshal rows: %w", err)
	}
	var internal []map[string]any
	if err := json.Unmarshal(blob, &internal); err != nil {
		return nil, fmt.Errorf("decode: unmarshal rows: %w", err)
	}

	rows := make([]Row, 0, len(internal))
	for _, in := range internal {
		row := make(Row, len(in))
		for name, val := range in {
			if val == nil {
				continue
			}
			ex, ok := rename[name]
			if !ok {
				ex = name
			}
			row[ex] = val
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// columnType is the physical parquet type selected for a column.
type columnType int

const (
	typeString columnType = iota
	typeDouble
	typeBool
)

func (t columnType) tag(name string) string {
	switch t {
	case typeDouble:
		return fmt.Sprintf("name=%s, type=DOUBLE, repetitiontype=OPTIONAL", name)
	case typeBool:
		return fmt.Sprintf("name=%s, type=BOOLEAN, repetitiontype=OPTIONAL", name)
	default:
		return fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", name)
	}
}

// inferColumnTypes picks a physical type per column from the first non-nil
// value observed. Mixed-type columns degrade to strings.
func inferColumnTypes(rows []Row, cols []string) map[string]columnType {
	types := make(map[string]columnType, len(cols))
	for _, col := range cols {
		types[col] = typeString
		for _, row := range rows {
			val, ok := row[col]
			if !ok || val == nil {
				continue
			}
			switch val.(type) {
			case float64, float32, int, int32, int64:
				types[col] = typeDouble
			case bool:
				types[col] = typeBool
			}
			break
		}
	}
	// A column typed from its first value may still hold strings later;
	// scan for conflicts and fall back.
	for _, col := range cols {
		if types[col] == typeString {
			continue
		}
		for _, row := range rows {
			val, ok := row[col]
			if !ok || val == nil {
				continue
			}
			switch val.(type) {
			case float64, float32, int, int32, int64:
				if types[col] != typeDouble {
					types[col] = typeString
				}
			case bool:
				if types[col] != typeBool {
					types[col] = typeString
				}
			default:
				types[col] = typeString
			}
			if types[col] == typeString {
				break
			}
		}
	}
	return types
}

func schemaJSON(cols []string, types map[string]columnType) string {
	fields := make([]map[string]string, 0, len(cols))
	for _, col := range cols {
		fields = append(fields, map[string]string{"Tag": types[col].tag(col)})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

// coerceValue converts a row value to something encodable under the chosen
// column type. Nested structures become their JSON text.
func coerceValue(val any, t columnType) any {
	if val == nil {
		return nil
	}
	switch t {
	case typeDouble:
		switch v := val.(type) {
		case float64:
			return v
		case float32:
			return float64(v)
		case int:
			return float64(v)
		case int32:
			return float64(v)
		case int64:
			return float64(v)
		}
	case typeBool:
		if v, ok := val.(bool); ok {
			return v
		}
	}
	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
