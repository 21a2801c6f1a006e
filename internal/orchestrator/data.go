package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mhollis/docmigrate/internal/checkpoint"
	"github.com/mhollis/docmigrate/internal/logging"
	"github.com/mhollis/docmigrate/internal/retry"
	"github.com/mhollis/docmigrate/internal/source"
	"github.com/mhollis/docmigrate/internal/target"
	"github.com/mhollis/docmigrate/internal/transform"
)

// tableOutcome accumulates counters for one table's transfer.
type tableOutcome struct {
	attempted int64
	committed int64
	retryable int64
	fatal     int64
}

// runData transfers tables in dependency order with a bounded worker
// pool per level.
func (o *Orchestrator) runData(ctx context.Context, runID string, extras bool) (*PhaseReport, error) {
	tables, err := o.selectTables(ctx, extras)
	if err != nil {
		return nil, err
	}
	report := &PhaseReport{}
	if len(tables) == 0 {
		return report, nil
	}

	if extras {
		// Extras run after the main pass; refuse when a parent table
		// carries unresolved failures from it.
		parents := make(map[string]bool)
		for i := range tables {
			for _, fk := range tables[i].ForeignKeys {
				parents[strings.ToLower(fk.RefTable)] = true
			}
		}
		if err := o.blockedByFailures(runID, parents); err != nil {
			return nil, err
		}
	}

	if len(o.opts.Tables) > 0 && !o.opts.Force {
		all, _ := o.loadTables(ctx)
		if missing := missingParents(tables, all); len(missing) > 0 {
			return nil, fmt.Errorf("selected tables reference absent parents %v; include them or pass --force", missing)
		}
	}

	var total int64
	for i := range tables {
		total += tables[i].RowCount
	}
	if o.deps.Progress != nil {
		o.deps.Progress.SetTotal(total)
	}

	var (
		mu       sync.Mutex
		firstErr error
	)
	sem := make(chan struct{}, o.cfg.Migration.Workers)

	for _, level := range orderByDependency(tables) {
		var wg sync.WaitGroup
		for i := range level {
			select {
			case <-ctx.Done():
				wg.Wait()
				return report, ctx.Err()
			case sem <- struct{}{}:
			}

			wg.Add(1)
			go func(t source.Table) {
				defer wg.Done()
				defer func() { <-sem }()

				out, err := o.transferTable(ctx, runID, &t)
				mu.Lock()
				defer mu.Unlock()
				report.Attempted += out.attempted
				report.Committed += out.committed
				report.NewRetryable += out.retryable
				report.NewFatal += out.fatal
				if err != nil && firstErr == nil {
					firstErr = fmt.Errorf("table %s: %w", t.FullName(), err)
				}
			}(level[i])
		}
		wg.Wait()

		if firstErr != nil {
			return report, firstErr
		}
	}

	if o.deps.Progress != nil {
		o.deps.Progress.Finish()
	}
	return report, nil
}

// transferTable moves one table batch by batch. The checkpoint is
// persisted after every committed batch and before the next read, so a
// crash loses at most the in-flight batch, which upserts make safe to
// replay.
func (o *Orchestrator) transferTable(ctx context.Context, runID string, t *source.Table) (tableOutcome, error) {
	var out tableOutcome
	name := t.FullName()
	targetTable := strings.ToLower(t.Name)

	cursor := ""
	var rowsDone int64
	if o.opts.Resume {
		prog, err := o.deps.State.Progress(runID, name)
		if err != nil {
			return out, err
		}
		if prog.Completed {
			logging.Debug("Table %s already complete, skipping", name)
			return out, nil
		}
		cursor, rowsDone = prog.Cursor, prog.RowsDone
		if cursor != "" {
			logging.Info("Resuming %s at cursor %s (%d rows done)", name, cursor, rowsDone)
		}
	} else if !o.opts.DryRun {
		// Fresh start. Tables without a primary key cannot dedupe on
		// replay, so they restart from an empty table.
		if err := o.deps.State.ResetTable(runID, name); err != nil {
			return out, err
		}
		if len(t.PrimaryKey) == 0 {
			if err := o.deps.DDL.TruncateTable(ctx, o.cfg.Target.Schema, targetTable); err != nil {
				return out, fmt.Errorf("truncating %s: %w", targetTable, err)
			}
		}
	}

	tr := transform.New(t)
	cols := tr.TargetColumns()
	pkCols := tr.TargetPKColumns()
	limit := o.cfg.Migration.BatchSize

	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		batch, err := o.readBatchRetry(ctx, t, cursor, limit)
		if err != nil {
			return out, fmt.Errorf("reading at cursor %q: %w", cursor, err)
		}
		if len(batch.Rows) == 0 {
			break
		}

		res := tr.Batch(batch)
		out.attempted += int64(len(batch.Rows))
		for _, f := range res.Failed {
			out.fatal++
			o.recordFailure(runID, checkpoint.FailureRecord{
				Table: name, RecordID: f.ID,
				Class: target.ClassFatal.String(), Message: f.Err.Error(),
			})
		}

		bres, err := o.writeBatchRetry(ctx, targetTable, cols, pkCols, res.Rows, res.RowIDs)
		if err != nil {
			return out, err
		}
		out.committed += int64(bres.Committed)
		for _, rf := range bres.Failed {
			switch rf.Class {
			case target.ClassRetryable:
				out.retryable++
			default:
				out.fatal++
			}
			o.recordFailure(runID, checkpoint.FailureRecord{
				Table: name, RecordID: rf.ID,
				Class: rf.Class.String(), Message: rf.Err.Error(),
			})
		}

		cursor = batch.NextCursor
		rowsDone += int64(len(batch.Rows))
		o.saveCursor(runID, name, cursor, rowsDone)
		if o.deps.Progress != nil {
			o.deps.Progress.Add(int64(len(batch.Rows)))
		}

		if len(batch.Rows) < limit {
			break
		}
	}

	o.markComplete(runID, name)
	logging.Info("Table %s: %d rows attempted, %d committed, %d retryable, %d fatal",
		name, out.attempted, out.committed, out.retryable, out.fatal)
	return out, nil
}

// readBatchRetry retries transient read failures with backoff.
func (o *Orchestrator) readBatchRetry(ctx context.Context, t *source.Table, cursor string, limit int) (*source.Batch, error) {
	var batch *source.Batch
	err := retry.Do(ctx, o.policy, func(ctx context.Context) error {
		var err error
		batch, err = o.deps.Reader.ReadBatch(ctx, t, cursor, limit)
		if err != nil {
			logging.Warn("Read %s at %q failed, will retry: %v", t.FullName(), cursor, err)
		}
		return err
	})
	return batch, err
}

// writeBatchRetry writes a batch, retrying transient failures with
// backoff. When the retry ceiling is exhausted the batch is downgraded
// to a per-row replay so the poisoned row count is exact.
func (o *Orchestrator) writeBatchRetry(ctx context.Context, table string, cols, pkCols []string, rows [][]any, ids []string) (*target.BatchResult, error) {
	var bres *target.BatchResult
	err := retry.Do(ctx, o.policy, func(ctx context.Context) error {
		var err error
		bres, err = o.deps.Writer.WriteBatch(ctx, table, cols, pkCols, rows, ids)
		if err != nil {
			logging.Warn("Write batch to %s failed, will retry: %v", table, err)
		}
		return err
	})
	if err == nil {
		return bres, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	logging.Warn("Batch retries exhausted for %s, replaying row by row: %v", table, err)
	bres = &target.BatchResult{}
	for i, row := range rows {
		werr := retry.Do(ctx, o.policy, func(ctx context.Context) error {
			e := o.deps.Writer.WriteRow(ctx, table, cols, pkCols, row)
			if e != nil && target.Classify(e) != target.ClassTransient {
				// Data errors don't heal with backoff.
				bres.Failed = append(bres.Failed, target.RowFailure{ID: ids[i], Class: target.Classify(e), Err: e})
				return nil
			}
			return e
		})
		if werr != nil {
			return nil, fmt.Errorf("row %s: %w", ids[i], werr)
		}
		if len(bres.Failed) == 0 || bres.Failed[len(bres.Failed)-1].ID != ids[i] {
			bres.Committed++
		}
	}
	return bres, nil
}

// State mutations are suppressed during a dry run; everything else in
// the control flow stays identical.

func (o *Orchestrator) saveCursor(runID, table, cursor string, rowsDone int64) {
	if o.opts.DryRun {
		return
	}
	if err := o.deps.State.SaveCursor(runID, table, cursor, rowsDone); err != nil {
		logging.Error("Saving checkpoint for %s: %v", table, err)
	}
}

func (o *Orchestrator) markComplete(runID, table string) {
	if o.opts.DryRun {
		return
	}
	if err := o.deps.State.MarkTableComplete(runID, table); err != nil {
		logging.Error("Marking %s complete: %v", table, err)
	}
}

func (o *Orchestrator) recordFailure(runID string, f checkpoint.FailureRecord) {
	if o.opts.DryRun {
		return
	}
	if err := o.deps.State.RecordFailure(runID, f); err != nil {
		logging.Error("Recording failure %s/%s: %v", f.Table, f.RecordID, err)
	}
}
