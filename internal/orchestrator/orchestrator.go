// Package orchestrator drives the migration phases: schema creation,
// bulk data transfer, document-path linking, and extras. It owns
// concurrency, checkpointing, and retry scheduling; the actual I/O
// happens behind narrow interfaces so every phase can run against
// fakes or as a dry run.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mhollis/docmigrate/internal/checkpoint"
	"github.com/mhollis/docmigrate/internal/config"
	"github.com/mhollis/docmigrate/internal/docs"
	"github.com/mhollis/docmigrate/internal/logging"
	"github.com/mhollis/docmigrate/internal/objstore"
	"github.com/mhollis/docmigrate/internal/progress"
	"github.com/mhollis/docmigrate/internal/retry"
	"github.com/mhollis/docmigrate/internal/source"
	"github.com/mhollis/docmigrate/internal/target"
)

// Phase names in execution order.
const (
	PhaseSchema = "schema"
	PhaseData   = "data"
	PhaseLink   = "link"
	PhaseExtras = "extras"
)

// AllPhases returns the phases of a full run, in order.
func AllPhases() []string {
	return []string{PhaseSchema, PhaseData, PhaseLink, PhaseExtras}
}

// RecordReader pages rows out of the source database.
type RecordReader interface {
	ReadBatch(ctx context.Context, t *source.Table, cursor string, limit int) (*source.Batch, error)
	ReadRow(ctx context.Context, t *source.Table, id string) ([]any, error)
}

// SchemaLoader extracts source table metadata.
type SchemaLoader interface {
	ExtractSchema(ctx context.Context) ([]source.Table, error)
}

// BatchWriter applies transformed batches to the destination.
type BatchWriter interface {
	WriteBatch(ctx context.Context, table string, cols, pkCols []string, rows [][]any, ids []string) (*target.BatchResult, error)
	WriteRow(ctx context.Context, table string, cols, pkCols []string, row []any) error
}

// SchemaTarget executes DDL against the destination.
type SchemaTarget interface {
	CreateSchema(ctx context.Context, schema string) error
	CreateTable(ctx context.Context, t *source.Table, targetSchema string) error
	CreatePrimaryKey(ctx context.Context, t *source.Table, targetSchema string) error
	TruncateTable(ctx context.Context, schema, table string) error
}

// FolderLister enumerates project folders in the object store.
type FolderLister interface {
	ListFolders(ctx context.Context) ([]objstore.Folder, error)
}

// ObjectChecker probes single keys in the object store.
type ObjectChecker interface {
	ObjectExists(ctx context.Context, key string) (bool, error)
}

// ProjectLister loads project rows from the destination.
type ProjectLister interface {
	Projects(ctx context.Context) ([]docs.Project, error)
}

// DocumentLinker stamps resolved storage paths onto document rows.
type DocumentLinker interface {
	LinkDocuments(ctx context.Context, projectID int64, folderPrefix string) (int64, error)
	Filenames(ctx context.Context, projectID int64, limit int) ([]string, error)
}

// Deps bundles the collaborators a run needs.
type Deps struct {
	Schema   SchemaLoader
	Reader   RecordReader
	Writer   BatchWriter
	DDL      SchemaTarget
	State    *checkpoint.State
	Progress *progress.Tracker
	Folders  FolderLister
	Objects  ObjectChecker
	Projects ProjectLister
	Linker   DocumentLinker
}

// Options controls a run.
type Options struct {
	DryRun bool
	// Resume honors stored checkpoints; otherwise each table restarts
	// from zero.
	Resume bool
	// Tables restricts the data phase to the named tables
	// (schema-qualified). Empty means all.
	Tables []string
	// Force skips the dependency-order check on table subsets.
	Force bool
	// ReviewCSV is where unresolved project mappings are written
	// during the link phase. Empty disables the export.
	ReviewCSV string
}

// PhaseReport is the structured outcome of one phase. A phase never
// crashes out; it always terminates in one of these.
type PhaseReport struct {
	Phase        string
	Attempted    int64
	Committed    int64
	NewRetryable int64
	NewFatal     int64
	// Link phase only.
	Linked    int64
	Ambiguous int64
	NotFound  int64
	Elapsed   time.Duration
}

// Success reports whether the phase gained zero new fatal failures.
// Retryable entries are expected to clear in the retry pass and do not
// fail a phase.
func (r *PhaseReport) Success() bool {
	return r.NewFatal == 0
}

// RunReport aggregates the phases of one run.
type RunReport struct {
	RunID  string
	Phases []PhaseReport
}

// Success reports whether every phase succeeded.
func (r *RunReport) Success() bool {
	for i := range r.Phases {
		if !r.Phases[i].Success() {
			return false
		}
	}
	return true
}

// Orchestrator runs migration phases.
type Orchestrator struct {
	cfg    *config.Config
	deps   Deps
	opts   Options
	policy retry.Policy

	tables []source.Table
}

// New creates an Orchestrator.
func New(cfg *config.Config, deps Deps, opts Options) *Orchestrator {
	policy := retry.DefaultPolicy()
	if cfg.Migration.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Migration.MaxAttempts
	}
	if cfg.Migration.BackoffBaseMS > 0 {
		policy.BaseDelay = time.Duration(cfg.Migration.BackoffBaseMS) * time.Millisecond
	}
	if cfg.Migration.BackoffMaxMS > 0 {
		policy.MaxDelay = time.Duration(cfg.Migration.BackoffMaxMS) * time.Millisecond
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		opts:   opts,
		policy: policy,
	}
}

// Run executes the given phases in order and returns a report for
// each. Phase errors are folded into the report; only setup failures
// (schema extraction, state bookkeeping) return an error.
func (o *Orchestrator) Run(ctx context.Context, phases []string) (*RunReport, error) {
	runID, err := o.beginRun(ctx, phases)
	if err != nil {
		return nil, err
	}

	report := &RunReport{RunID: runID}
	var runErr error

	for _, phase := range phases {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
		logging.Info("Starting phase %s (run %s, dry-run=%v)", phase, runID, o.opts.DryRun)
		start := time.Now()

		var pr *PhaseReport
		switch phase {
		case PhaseSchema:
			pr, err = o.runSchema(ctx)
		case PhaseData:
			pr, err = o.runData(ctx, runID, false)
		case PhaseLink:
			pr, err = o.runLink(ctx, runID)
		case PhaseExtras:
			pr, err = o.runData(ctx, runID, true)
		default:
			err = fmt.Errorf("unknown phase %q", phase)
		}
		if err != nil {
			runErr = fmt.Errorf("phase %s: %w", phase, err)
			break
		}
		pr.Phase = phase
		pr.Elapsed = time.Since(start)
		report.Phases = append(report.Phases, *pr)
		logging.Info("Phase %s done in %s: attempted=%d committed=%d retryable=%d fatal=%d",
			phase, pr.Elapsed.Round(time.Millisecond), pr.Attempted, pr.Committed, pr.NewRetryable, pr.NewFatal)
	}

	o.finishRun(runID, report, runErr)
	return report, runErr
}

func (o *Orchestrator) beginRun(ctx context.Context, phases []string) (string, error) {
	if o.opts.Resume {
		if last, err := o.deps.State.LastIncompleteRun(); err != nil {
			return "", err
		} else if last != nil {
			if o.opts.DryRun {
				logging.Info("Dry run: previewing resume of run %s (started %s)", last.ID, last.StartedAt.Format(time.RFC3339))
			} else {
				logging.Info("Resuming run %s (started %s)", last.ID, last.StartedAt.Format(time.RFC3339))
			}
			return last.ID, nil
		}
		logging.Info("No incomplete run found, starting fresh")
	}

	runID := uuid.NewString()
	if !o.opts.DryRun {
		if err := o.deps.State.CreateRun(runID, strings.Join(phases, ",")); err != nil {
			return "", fmt.Errorf("recording run: %w", err)
		}
	}
	return runID, nil
}

func (o *Orchestrator) finishRun(runID string, report *RunReport, runErr error) {
	if o.opts.DryRun {
		return
	}
	status := checkpoint.StatusCompleted
	msg := ""
	switch {
	case runErr != nil:
		status = checkpoint.StatusInterrupted
		msg = runErr.Error()
	case !report.Success():
		status = checkpoint.StatusFailed
		msg = "one or more phases recorded fatal failures"
	}
	if err := o.deps.State.CompleteRun(runID, status, msg); err != nil {
		logging.Error("Recording run completion: %v", err)
	}
}

// blockedByFailures refuses a phase when a table it depends on still has
// unresolved ledger entries from this run. deps holds bare table names,
// lowercased; Force overrides the gate.
func (o *Orchestrator) blockedByFailures(runID string, deps map[string]bool) error {
	if o.opts.Force || len(deps) == 0 {
		return nil
	}
	recs, err := o.deps.State.Unresolved(runID, "")
	if err != nil {
		return fmt.Errorf("reading failure ledger: %w", err)
	}

	counts := make(map[string]int)
	for _, r := range recs {
		if name := bareTableName(r.Table); deps[name] {
			counts[name]++
		}
	}
	if len(counts) == 0 {
		return nil
	}

	names := make([]string, 0, len(counts))
	total := 0
	for name, n := range counts {
		names = append(names, name)
		total += n
	}
	sort.Strings(names)
	return fmt.Errorf("%d unresolved failures on %s; run retry, or pass --force to proceed anyway",
		total, strings.Join(names, ", "))
}

// bareTableName strips a schema qualifier and lowercases the rest.
func bareTableName(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(name)
}

// loadTables extracts and caches source metadata for the run.
func (o *Orchestrator) loadTables(ctx context.Context) ([]source.Table, error) {
	if o.tables != nil {
		return o.tables, nil
	}
	tables, err := o.deps.Schema.ExtractSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("extracting source schema: %w", err)
	}

	excluded := make(map[string]bool)
	for _, t := range o.cfg.Migration.ExcludeTables {
		excluded[strings.ToLower(t)] = true
	}
	kept := tables[:0]
	for _, t := range tables {
		if excluded[strings.ToLower(t.FullName())] || excluded[strings.ToLower(t.Name)] {
			logging.Debug("Excluding table %s", t.FullName())
			continue
		}
		kept = append(kept, t)
	}
	o.tables = kept
	return kept, nil
}

// selectTables returns the tables a data-style phase should process.
// extras=true selects the configured extras tables, which run after
// linking; otherwise extras tables are held back from the main pass.
func (o *Orchestrator) selectTables(ctx context.Context, extras bool) ([]source.Table, error) {
	all, err := o.loadTables(ctx)
	if err != nil {
		return nil, err
	}

	extraSet := make(map[string]bool)
	for _, t := range o.cfg.Migration.ExtrasTables {
		extraSet[strings.ToLower(t)] = true
	}
	isExtra := func(t *source.Table) bool {
		return extraSet[strings.ToLower(t.FullName())] || extraSet[strings.ToLower(t.Name)]
	}

	var picked []source.Table
	for _, t := range all {
		if isExtra(&t) == extras {
			picked = append(picked, t)
		}
	}

	if len(o.opts.Tables) > 0 {
		want := make(map[string]bool)
		for _, name := range o.opts.Tables {
			want[strings.ToLower(name)] = true
		}
		var sub []source.Table
		for _, t := range picked {
			if want[strings.ToLower(t.FullName())] || want[strings.ToLower(t.Name)] {
				sub = append(sub, t)
			}
		}
		picked = sub
	}
	return picked, nil
}
