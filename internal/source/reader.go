package source

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ReadBatch reads the next page of rows from t starting strictly after
// cursor. An empty cursor starts from the beginning. Rows come back in a
// stable key order so the returned NextCursor is a correct resume point.
// An empty batch means the table is exhausted.
func (p *Pool) ReadBatch(ctx context.Context, t *Table, cursor string, limit int) (*Batch, error) {
	if t.SupportsKeyset() {
		return p.readKeyset(ctx, t, cursor, limit)
	}
	return p.readOffset(ctx, t, cursor, limit)
}

func (p *Pool) readKeyset(ctx context.Context, t *Table, cursor string, limit int) (*Batch, error) {
	pkCol := t.PrimaryKey[0]
	last := int64(0)
	if cursor != "" {
		v, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad cursor %q for %s: %w", cursor, t.FullName(), err)
		}
		last = v
	}

	query := fmt.Sprintf(`
		SELECT TOP (@limit) %s FROM [%s].[%s]
		WHERE [%s] > @last
		ORDER BY [%s]
	`, columnList(t), t.Schema, t.Name, pkCol, pkCol)

	rows, err := p.db.QueryContext(ctx, query,
		sql.Named("limit", limit),
		sql.Named("last", last))
	if err != nil {
		return nil, fmt.Errorf("keyset read %s: %w", t.FullName(), err)
	}
	defer rows.Close()

	batch, err := scanBatch(rows, t)
	if err != nil {
		return nil, err
	}

	if n := len(batch.Rows); n > 0 {
		pkIdx := t.columnIndex(pkCol)
		batch.NextCursor = formatKey(batch.Rows[n-1][pkIdx])
	}
	return batch, nil
}

func (p *Pool) readOffset(ctx context.Context, t *Table, cursor string, limit int) (*Batch, error) {
	offset := int64(0)
	if cursor != "" {
		v, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad cursor %q for %s: %w", cursor, t.FullName(), err)
		}
		offset = v
	}

	orderBy := "(SELECT NULL)"
	if len(t.PrimaryKey) > 0 {
		orderBy = "[" + strings.Join(t.PrimaryKey, "], [") + "]"
	}

	query := fmt.Sprintf(`
		SELECT %s FROM [%s].[%s]
		ORDER BY %s
		OFFSET @offset ROWS FETCH NEXT @limit ROWS ONLY
	`, columnList(t), t.Schema, t.Name, orderBy)

	rows, err := p.db.QueryContext(ctx, query,
		sql.Named("offset", offset),
		sql.Named("limit", limit))
	if err != nil {
		return nil, fmt.Errorf("offset read %s: %w", t.FullName(), err)
	}
	defer rows.Close()

	batch, err := scanBatch(rows, t)
	if err != nil {
		return nil, err
	}

	if n := len(batch.Rows); n > 0 {
		batch.NextCursor = strconv.FormatInt(offset+int64(n), 10)
	}
	return batch, nil
}

// ReadRow fetches a single row by its primary key identifier, as rendered
// by Batch.RowID. Used by the retry pass to replay individual records.
func (p *Pool) ReadRow(ctx context.Context, t *Table, id string) ([]any, error) {
	if len(t.PrimaryKey) == 0 {
		return nil, fmt.Errorf("table %s has no primary key, cannot fetch row %q", t.FullName(), id)
	}

	parts := strings.Split(id, "|")
	if len(parts) != len(t.PrimaryKey) {
		return nil, fmt.Errorf("row id %q does not match %d-column key of %s", id, len(t.PrimaryKey), t.FullName())
	}

	var conds []string
	var args []any
	for i, pk := range t.PrimaryKey {
		conds = append(conds, fmt.Sprintf("[%s] = @pk%d", pk, i))
		args = append(args, sql.Named(fmt.Sprintf("pk%d", i), parts[i]))
	}

	query := fmt.Sprintf("SELECT %s FROM [%s].[%s] WHERE %s",
		columnList(t), t.Schema, t.Name, strings.Join(conds, " AND "))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching row %s/%s: %w", t.FullName(), id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		// Row deleted since it was logged; callers treat nil as gone.
		return nil, nil
	}

	row := make([]any, len(t.Columns))
	ptrs := make([]any, len(t.Columns))
	for i := range row {
		ptrs[i] = &row[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scanning row %s/%s: %w", t.FullName(), id, err)
	}
	return row, nil
}

func scanBatch(rows *sql.Rows, t *Table) (*Batch, error) {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = c.Name
	}

	batch := &Batch{Table: t.Name, Columns: cols}
	for rows.Next() {
		row := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		batch.Rows = append(batch.Rows, row)
	}
	return batch, rows.Err()
}

func columnList(t *Table) string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = "[" + c.Name + "]"
	}
	return strings.Join(names, ", ")
}

func (t *Table) columnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return 0
}

// PKIndexes returns the column indexes of the primary key, in key order.
func (t *Table) PKIndexes() []int {
	var idx []int
	for _, pk := range t.PrimaryKey {
		idx = append(idx, t.columnIndex(pk))
	}
	return idx
}

func formatKey(v any) string {
	switch k := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(k, 10)
	case int32:
		return strconv.FormatInt(int64(k), 10)
	case int:
		return strconv.Itoa(k)
	case string:
		return k
	case []byte:
		return string(k)
	case time.Time:
		return k.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%v", v)
}
