package source

import (
	"strconv"
	"strings"
)

// Table represents a source table's metadata.
type Table struct {
	Schema      string       `json:"schema"`
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
	RowCount    int64        `json:"row_count"`
}

// FullName returns schema.table format.
func (t *Table) FullName() string {
	return t.Schema + "." + t.Name
}

// HasSinglePK returns true if the table has a single-column primary key.
func (t *Table) HasSinglePK() bool {
	return len(t.PrimaryKey) == 1
}

// SupportsKeyset returns true if the table can be paginated with
// WHERE pk > last. Requires a single integer primary key.
func (t *Table) SupportsKeyset() bool {
	if !t.HasSinglePK() {
		return false
	}
	for _, c := range t.Columns {
		if c.Name == t.PrimaryKey[0] {
			switch strings.ToLower(c.DataType) {
			case "int", "bigint", "smallint", "tinyint":
				return true
			}
			return false
		}
	}
	return false
}

// Column represents a table column's metadata.
type Column struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	MaxLength  int    `json:"max_length"`
	Precision  int    `json:"precision"`
	Scale      int    `json:"scale"`
	IsNullable bool   `json:"is_nullable"`
	IsIdentity bool   `json:"is_identity"`
	OrdinalPos int    `json:"ordinal_position"`
}

// ForeignKey represents a foreign key constraint on a source table.
type ForeignKey struct {
	Name      string `json:"name"`
	Column    string `json:"column"`
	RefSchema string `json:"ref_schema"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// Batch holds one page of rows read from a table, in cursor order.
type Batch struct {
	Table   string
	Columns []string
	Rows    [][]any
	// NextCursor marks the boundary after the last row in this batch.
	// Empty when the batch is empty.
	NextCursor string
}

// RowID renders the primary key of row i as a stable string identifier.
// Composite keys are joined with "|". Tables without a PK use the row's
// offset within the table, which is stable for a fixed read order.
func (b *Batch) RowID(pkIdx []int, i int) string {
	if len(pkIdx) == 0 {
		// Offset-paged batches carry the end offset as their cursor.
		if end, err := strconv.Atoi(b.NextCursor); err == nil {
			return strconv.Itoa(end - len(b.Rows) + i)
		}
		return b.NextCursor + "#" + strconv.Itoa(i)
	}
	parts := make([]string, len(pkIdx))
	for j, idx := range pkIdx {
		parts[j] = formatKey(b.Rows[i][idx])
	}
	return strings.Join(parts, "|")
}
