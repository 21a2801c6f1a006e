package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mhollis/docmigrate/internal/checkpoint"
	"github.com/mhollis/docmigrate/internal/logging"
	"github.com/mhollis/docmigrate/internal/retry"
	"github.com/mhollis/docmigrate/internal/source"
	"github.com/mhollis/docmigrate/internal/target"
	"github.com/mhollis/docmigrate/internal/transform"
)

// RetryPass replays the unresolved retryable rows of a run, reading
// each record fresh from the source so late-arriving parents are
// honored. records may come from the ledger or an imported CSV
// snapshot; pass nil to use the ledger.
func (o *Orchestrator) RetryPass(ctx context.Context, runID string, records []checkpoint.FailureRecord) (*PhaseReport, error) {
	start := time.Now()
	if records == nil {
		var err error
		records, err = o.deps.State.Unresolved(runID, target.ClassRetryable.String())
		if err != nil {
			return nil, err
		}
	}
	report := &PhaseReport{Phase: "retry"}
	if len(records) == 0 {
		logging.Info("No retryable failures to replay")
		return report, nil
	}

	tables, err := o.loadTables(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*source.Table, len(tables))
	for i := range tables {
		byName[strings.ToLower(tables[i].FullName())] = &tables[i]
	}

	logging.Info("Replaying %d failed rows", len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		t, ok := byName[strings.ToLower(rec.Table)]
		if !ok {
			return report, fmt.Errorf("ledger references unknown table %s", rec.Table)
		}
		report.Attempted++
		if err := o.replayRow(ctx, runID, t, rec, report); err != nil {
			return report, err
		}
	}

	report.Elapsed = time.Since(start)
	logging.Info("Retry pass done: %d attempted, %d committed, %d still retryable, %d fatal",
		report.Attempted, report.Committed, report.NewRetryable, report.NewFatal)
	return report, nil
}

func (o *Orchestrator) replayRow(ctx context.Context, runID string, t *source.Table, rec checkpoint.FailureRecord, report *PhaseReport) error {
	raw, err := o.deps.Reader.ReadRow(ctx, t, rec.RecordID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Unfetchable record, typically a table with no primary key.
		// Leave the entry outstanding instead of sinking the pass.
		logging.Warn("Cannot re-read %s/%s, re-run the table instead: %v", rec.Table, rec.RecordID, err)
		report.NewRetryable++
		return nil
	}
	if raw == nil {
		// Row vanished from the source since the failure was logged.
		logging.Warn("Row %s/%s no longer exists in source, marking resolved", rec.Table, rec.RecordID)
		o.markResolved(runID, rec)
		report.Committed++
		return nil
	}

	tr := transform.New(t)
	row, err := tr.Row(raw)
	if err != nil {
		report.NewFatal++
		o.recordFailure(runID, checkpoint.FailureRecord{
			Table: rec.Table, RecordID: rec.RecordID,
			Class: target.ClassFatal.String(), Message: err.Error(),
		})
		return nil
	}

	targetTable := strings.ToLower(t.Name)
	var dataErr error
	err = retry.Do(ctx, o.policy, func(ctx context.Context) error {
		dataErr = nil
		werr := o.deps.Writer.WriteRow(ctx, targetTable, tr.TargetColumns(), tr.TargetPKColumns(), row)
		if werr != nil && target.Classify(werr) != target.ClassTransient {
			dataErr = werr
			return nil
		}
		return werr
	})
	if err != nil {
		return fmt.Errorf("replaying %s/%s: %w", rec.Table, rec.RecordID, err)
	}

	if dataErr == nil {
		report.Committed++
		o.markResolved(runID, rec)
		return nil
	}

	class := target.Classify(dataErr)
	if class == target.ClassRetryable {
		report.NewRetryable++
	} else {
		report.NewFatal++
	}
	o.recordFailure(runID, checkpoint.FailureRecord{
		Table: rec.Table, RecordID: rec.RecordID,
		Class: class.String(), Message: dataErr.Error(),
	})
	return nil
}

func (o *Orchestrator) markResolved(runID string, rec checkpoint.FailureRecord) {
	if o.opts.DryRun {
		return
	}
	if err := o.deps.State.MarkResolved(runID, rec.Table, rec.RecordID); err != nil {
		logging.Error("Marking %s/%s resolved: %v", rec.Table, rec.RecordID, err)
	}
}
