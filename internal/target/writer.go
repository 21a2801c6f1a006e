package target

import (
	"context"
	"fmt"
	"strings"
)

// maxParams keeps multi-row inserts under the PostgreSQL wire protocol
// limit of 65535 bind parameters.
const maxParams = 60000

// RowFailure records one row that could not be written.
type RowFailure struct {
	ID    string
	Class Class
	Err   error
}

// BatchResult reports the outcome of a batch write.
type BatchResult struct {
	Committed int
	Failed    []RowFailure
}

// Writer performs idempotent batch writes against the target database.
type Writer struct {
	pool   *Pool
	schema string
}

// NewWriter creates a Writer bound to the pool's configured schema.
func NewWriter(p *Pool) *Writer {
	return &Writer{pool: p, schema: p.Schema()}
}

// WriteBatch upserts a batch of rows. The fast path is a single
// multi-row statement; when that fails with a data error the batch is
// replayed row by row so one bad row cannot sink its neighbors.
// A transient error fails the whole batch so the caller can retry it.
func (w *Writer) WriteBatch(ctx context.Context, table string, cols, pkCols []string, rows [][]any, ids []string) (*BatchResult, error) {
	res := &BatchResult{}
	if len(rows) == 0 {
		return res, nil
	}

	chunk := len(rows)
	if max := maxParams / len(cols); chunk > max {
		chunk = max
	}

	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		if err := w.writeChunk(ctx, table, cols, pkCols, rows[start:end], ids[start:end], res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (w *Writer) writeChunk(ctx context.Context, table string, cols, pkCols []string, rows [][]any, ids []string, res *BatchResult) error {
	sql := buildUpsertSQL(w.schema, table, cols, pkCols, len(rows))
	args := make([]any, 0, len(rows)*len(cols))
	for _, row := range rows {
		args = append(args, row...)
	}

	_, err := w.pool.Pool().Exec(ctx, sql, args...)
	if err == nil {
		res.Committed += len(rows)
		return nil
	}

	if Classify(err) == ClassTransient {
		return fmt.Errorf("writing batch to %s: %w", table, err)
	}

	// Data error somewhere in the chunk: find the culprits one row at
	// a time.
	for i, row := range rows {
		rerr := w.WriteRow(ctx, table, cols, pkCols, row)
		if rerr == nil {
			res.Committed++
			continue
		}
		class := Classify(rerr)
		if class == ClassTransient {
			return fmt.Errorf("writing row %s to %s: %w", ids[i], table, rerr)
		}
		res.Failed = append(res.Failed, RowFailure{ID: ids[i], Class: class, Err: rerr})
	}
	return nil
}

// WriteRow upserts a single row.
func (w *Writer) WriteRow(ctx context.Context, table string, cols, pkCols []string, row []any) error {
	sql := buildUpsertSQL(w.schema, table, cols, pkCols, 1)
	_, err := w.pool.Pool().Exec(ctx, sql, row...)
	return err
}

// buildUpsertSQL renders a multi-row INSERT with an ON CONFLICT clause
// keyed on the primary key. Tables without a primary key get a plain
// INSERT; re-running those requires a truncate first.
func buildUpsertSQL(schema, table string, cols, pkCols []string, rowCount int) string {
	var b strings.Builder
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quotePGIdent(c)
	}

	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ",
		qualifyPGTable(schema, table), strings.Join(quoted, ", "))

	p := 1
	for r := 0; r < rowCount; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range cols {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			p++
		}
		b.WriteByte(')')
	}

	if len(pkCols) == 0 {
		return b.String()
	}

	quotedPK := make([]string, len(pkCols))
	for i, c := range pkCols {
		quotedPK[i] = quotePGIdent(c)
	}
	fmt.Fprintf(&b, " ON CONFLICT (%s)", strings.Join(quotedPK, ", "))

	nonPK := make([]string, 0, len(cols))
	for _, c := range cols {
		if !contains(pkCols, c) {
			nonPK = append(nonPK, quotePGIdent(c))
		}
	}
	if len(nonPK) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String()
	}

	b.WriteString(" DO UPDATE SET ")
	for i, c := range nonPK {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = EXCLUDED.%s", c, c)
	}

	// Skip the write when nothing changed so replays don't churn WAL.
	fmt.Fprintf(&b, " WHERE (%s) IS DISTINCT FROM (%s)",
		prefixJoin(table, schema, nonPK), excludedJoin(nonPK))

	return b.String()
}

func prefixJoin(table, schema string, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = qualifyPGTable(schema, table) + "." + c
	}
	return strings.Join(parts, ", ")
}

func excludedJoin(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = "EXCLUDED." + c
	}
	return strings.Join(parts, ", ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
