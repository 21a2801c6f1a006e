package orchestrator

import (
	"context"
	"sync/atomic"

	"github.com/mhollis/docmigrate/internal/source"
	"github.com/mhollis/docmigrate/internal/target"
)

// DryRunWriter satisfies BatchWriter without touching the destination.
// Every row "commits", so a dry run reports the same attempted counts
// as a live run while leaving the target untouched.
type DryRunWriter struct {
	rows atomic.Int64
}

// NewDryRunWriter creates a recording no-op writer.
func NewDryRunWriter() *DryRunWriter {
	return &DryRunWriter{}
}

// Rows returns how many rows would have been written.
func (w *DryRunWriter) Rows() int64 {
	return w.rows.Load()
}

func (w *DryRunWriter) WriteBatch(_ context.Context, _ string, _, _ []string, rows [][]any, _ []string) (*target.BatchResult, error) {
	w.rows.Add(int64(len(rows)))
	return &target.BatchResult{Committed: len(rows)}, nil
}

func (w *DryRunWriter) WriteRow(_ context.Context, _ string, _, _ []string, _ []any) error {
	w.rows.Add(1)
	return nil
}

// DryRunDDL satisfies SchemaTarget without executing any DDL.
type DryRunDDL struct{}

func (DryRunDDL) CreateSchema(context.Context, string) error { return nil }

func (DryRunDDL) CreateTable(context.Context, *source.Table, string) error { return nil }

func (DryRunDDL) CreatePrimaryKey(context.Context, *source.Table, string) error { return nil }

func (DryRunDDL) TruncateTable(context.Context, string, string) error { return nil }
