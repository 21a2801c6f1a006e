// Package transform converts source rows into target-shaped records.
// All functions are pure; classification of bad values happens here so
// structurally invalid rows never reach the target database.
package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mhollis/docmigrate/internal/source"
)

// RowFailure describes a row that could not be transformed. These are
// fatal by definition: the value is structurally invalid and will not
// become valid on retry.
type RowFailure struct {
	Index int
	ID    string
	Err   error
}

// Result holds the transformed rows of a batch plus per-row failures.
// Failed rows are excluded from Rows and RowIDs.
type Result struct {
	Rows   [][]any
	RowIDs []string
	Failed []RowFailure
}

// Transformer converts rows from one source table.
type Transformer struct {
	table *source.Table
	pkIdx []int
}

// New creates a Transformer for the given table.
func New(t *source.Table) *Transformer {
	return &Transformer{table: t, pkIdx: t.PKIndexes()}
}

// TargetColumns returns the destination column names, lowercased the way
// the schema phase creates them.
func (tr *Transformer) TargetColumns() []string {
	cols := make([]string, len(tr.table.Columns))
	for i, c := range tr.table.Columns {
		cols[i] = strings.ToLower(c.Name)
	}
	return cols
}

// TargetPKColumns returns the destination primary key column names.
func (tr *Transformer) TargetPKColumns() []string {
	cols := make([]string, len(tr.table.PrimaryKey))
	for i, pk := range tr.table.PrimaryKey {
		cols[i] = strings.ToLower(pk)
	}
	return cols
}

// Batch transforms all rows of a batch, isolating per-row failures.
func (tr *Transformer) Batch(b *source.Batch) Result {
	var res Result
	for i := range b.Rows {
		id := b.RowID(tr.pkIdx, i)
		row, err := tr.Row(b.Rows[i])
		if err != nil {
			res.Failed = append(res.Failed, RowFailure{Index: i, ID: id, Err: err})
			continue
		}
		res.Rows = append(res.Rows, row)
		res.RowIDs = append(res.RowIDs, id)
	}
	return res
}

// Row converts a single source row to target form. The input row is not
// modified.
func (tr *Transformer) Row(row []any) ([]any, error) {
	if len(row) != len(tr.table.Columns) {
		return nil, fmt.Errorf("row has %d values, table %s has %d columns",
			len(row), tr.table.Name, len(tr.table.Columns))
	}

	out := make([]any, len(row))
	for i, v := range row {
		conv, err := convertValue(v, &tr.table.Columns[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", tr.table.Columns[i].Name, err)
		}
		out[i] = conv
	}
	return out, nil
}

// convertValue maps one SQL Server value to its PostgreSQL-compatible form.
func convertValue(v any, col *source.Column) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch strings.ToLower(col.DataType) {
	case "uniqueidentifier":
		return convertUUID(v)
	case "decimal", "numeric", "money", "smallmoney":
		return convertDecimal(v)
	case "bit":
		return convertBool(v)
	case "datetime", "datetime2", "smalldatetime", "datetimeoffset":
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("expected time, got %T", v)
		}
		return t.UTC(), nil
	case "binary", "varbinary", "image", "timestamp", "rowversion":
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("expected bytes, got %T", v)
		}
		return b, nil
	case "char", "nchar", "varchar", "nvarchar", "text", "ntext", "xml":
		s, err := convertString(v)
		if err != nil {
			return nil, err
		}
		// Postgres rejects NUL in text; SQL Server does not.
		return strings.ReplaceAll(s, "\x00", ""), nil
	}

	return v, nil
}

func convertUUID(v any) (any, error) {
	switch u := v.(type) {
	case string:
		parsed, err := uuid.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid %q: %w", u, err)
		}
		return parsed.String(), nil
	case []byte:
		// go-mssqldb returns uniqueidentifier as mixed-endian bytes;
		// the driver's scan already reorders, so 16 raw bytes map
		// directly.
		if len(u) != 16 {
			return nil, fmt.Errorf("invalid uuid length %d", len(u))
		}
		parsed, err := uuid.FromBytes(u)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid bytes: %w", err)
		}
		return parsed.String(), nil
	}
	return nil, fmt.Errorf("expected uuid, got %T", v)
}

func convertDecimal(v any) (any, error) {
	switch d := v.(type) {
	case []byte:
		s := string(d)
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return nil, fmt.Errorf("invalid decimal %q", s)
		}
		return s, nil
	case string:
		if _, err := strconv.ParseFloat(d, 64); err != nil {
			return nil, fmt.Errorf("invalid decimal %q", d)
		}
		return d, nil
	case float64, float32, int64, int32, int:
		return v, nil
	}
	return nil, fmt.Errorf("expected decimal, got %T", v)
}

func convertBool(v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case int64:
		return b != 0, nil
	case []byte:
		if len(b) == 1 {
			return b[0] != 0, nil
		}
	}
	return nil, fmt.Errorf("expected bit, got %T", v)
}

func convertString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		if !utf8.ValidString(s) {
			return "", fmt.Errorf("invalid UTF-8 in string value")
		}
		return s, nil
	case []byte:
		if !utf8.Valid(s) {
			return "", fmt.Errorf("invalid UTF-8 in string value")
		}
		return string(s), nil
	}
	return "", fmt.Errorf("expected string, got %T", v)
}
