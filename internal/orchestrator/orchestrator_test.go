package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/mhollis/docmigrate/internal/checkpoint"
	"github.com/mhollis/docmigrate/internal/config"
	"github.com/mhollis/docmigrate/internal/dbconfig"
	"github.com/mhollis/docmigrate/internal/docs"
	"github.com/mhollis/docmigrate/internal/objstore"
	"github.com/mhollis/docmigrate/internal/source"
	"github.com/mhollis/docmigrate/internal/target"
)

// fakeSource serves tables and rows from memory, paging by offset.
type fakeSource struct {
	tables []source.Table
	rows   map[string][][]any // keyed by FullName
	gone   map[string]bool    // ids deleted since logging
}

func (f *fakeSource) ExtractSchema(ctx context.Context) ([]source.Table, error) {
	return f.tables, nil
}

func (f *fakeSource) ReadBatch(ctx context.Context, t *source.Table, cursor string, limit int) (*source.Batch, error) {
	all := f.rows[t.FullName()]
	off := 0
	if cursor != "" {
		off, _ = strconv.Atoi(cursor)
	}
	if off >= len(all) {
		return &source.Batch{Table: t.FullName()}, nil
	}
	end := off + limit
	if end > len(all) {
		end = len(all)
	}
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = c.Name
	}
	return &source.Batch{
		Table:      t.FullName(),
		Columns:    cols,
		Rows:       all[off:end],
		NextCursor: strconv.Itoa(end),
	}, nil
}

func (f *fakeSource) ReadRow(ctx context.Context, t *source.Table, id string) ([]any, error) {
	if len(t.PrimaryKey) == 0 {
		return nil, fmt.Errorf("table %s has no primary key, cannot fetch row %q", t.FullName(), id)
	}
	if f.gone[t.FullName()+"/"+id] {
		return nil, nil
	}
	for _, row := range f.rows[t.FullName()] {
		if fmt.Sprint(row[0]) == id {
			return row, nil
		}
	}
	return nil, nil
}

// fakeWriter records committed rows and fails ids on demand.
type fakeWriter struct {
	mu        sync.Mutex
	committed map[string][]string // table -> ids, in write order
	rowFails  map[string]target.Class
	batchErrs int // leading WriteBatch calls fail with a transient error
	calls     int
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		committed: make(map[string][]string),
		rowFails:  make(map[string]target.Class),
	}
}

func (w *fakeWriter) WriteBatch(ctx context.Context, table string, cols, pkCols []string, rows [][]any, ids []string) (*target.BatchResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.batchErrs > 0 {
		w.batchErrs--
		return nil, errors.New("connection reset")
	}
	res := &target.BatchResult{}
	for _, id := range ids {
		if class, bad := w.rowFails[table+"/"+id]; bad {
			res.Failed = append(res.Failed, target.RowFailure{ID: id, Class: class, Err: errors.New("constraint")})
			continue
		}
		w.committed[table] = append(w.committed[table], id)
		res.Committed++
	}
	return res, nil
}

func (w *fakeWriter) WriteRow(ctx context.Context, table string, cols, pkCols []string, row []any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := fmt.Sprint(row[0])
	if _, bad := w.rowFails[table+"/"+id]; bad {
		return errors.New("constraint violated")
	}
	w.committed[table] = append(w.committed[table], id)
	return nil
}

func intCol(name string) source.Column {
	return source.Column{Name: name, DataType: "int"}
}

func textCol(name string) source.Column {
	return source.Column{Name: name, DataType: "nvarchar", MaxLength: 100}
}

func projectTable() source.Table {
	return source.Table{
		Schema:     "dbo",
		Name:       "Project",
		Columns:    []source.Column{intCol("ProjectID"), textCol("ProjectName")},
		PrimaryKey: []string{"ProjectID"},
		RowCount:   2,
	}
}

func docTable() source.Table {
	return source.Table{
		Schema:     "dbo",
		Name:       "Doc",
		Columns:    []source.Column{intCol("DocID"), intCol("ProjectID"), textCol("FileName")},
		PrimaryKey: []string{"DocID"},
		ForeignKeys: []source.ForeignKey{
			{Name: "FK_Doc_Project", Column: "ProjectID", RefSchema: "dbo", RefTable: "Project", RefColumn: "ProjectID"},
		},
		RowCount: 3,
	}
}

func auditTable() source.Table {
	return source.Table{
		Schema:   "dbo",
		Name:     "AuditLog",
		Columns:  []source.Column{intCol("ProjectID"), textCol("Detail")},
		RowCount: 2,
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Target: dbconfig.TargetConfig{Schema: "public"},
		Migration: config.MigrationConfig{
			BatchSize:     2,
			Workers:       2,
			MaxAttempts:   3,
			BackoffBaseMS: 1,
			BackoffMaxMS:  5,
		},
	}
}

func openState(t *testing.T) *checkpoint.State {
	t.Helper()
	s, err := checkpoint.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestOrch(t *testing.T, src *fakeSource, w BatchWriter, opts Options) (*Orchestrator, *checkpoint.State) {
	t.Helper()
	state := openState(t)
	o := New(testConfig(), Deps{
		Schema: src,
		Reader: src,
		Writer: w,
		DDL:    DryRunDDL{},
		State:  state,
	}, opts)
	return o, state
}

func defaultSource() *fakeSource {
	return &fakeSource{
		tables: []source.Table{docTable(), projectTable()},
		rows: map[string][][]any{
			"dbo.Project": {
				{int64(1), "Smith Co"},
				{int64(2), "Acme Industrial"},
			},
			"dbo.Doc": {
				{int64(10), int64(1), "a.pdf"},
				{int64(11), int64(1), "b.pdf"},
				{int64(12), int64(2), "c.pdf"},
			},
		},
	}
}

func TestDataPhaseTransfersInDependencyOrder(t *testing.T) {
	src := defaultSource()
	w := newFakeWriter()
	o, state := newTestOrch(t, src, w, Options{})

	report, err := o.Run(context.Background(), []string{PhaseData})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	pr := report.Phases[0]
	if pr.Attempted != 5 || pr.Committed != 5 || pr.NewFatal != 0 {
		t.Fatalf("report = %+v", pr)
	}
	if !report.Success() {
		t.Error("run should succeed")
	}

	if got := w.committed["project"]; len(got) != 2 {
		t.Errorf("project rows = %v", got)
	}
	if got := w.committed["doc"]; len(got) != 3 {
		t.Errorf("doc rows = %v", got)
	}

	done, err := state.CompletedTables(report.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if !done["dbo.Project"] || !done["dbo.Doc"] {
		t.Errorf("completed tables = %v", done)
	}

	run, err := state.GetRun(report.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != checkpoint.StatusCompleted {
		t.Errorf("run status = %s", run.Status)
	}
}

func TestDataPhaseCheckpointsEveryBatch(t *testing.T) {
	src := defaultSource()
	w := newFakeWriter()
	o, state := newTestOrch(t, src, w, Options{})

	report, err := o.Run(context.Background(), []string{PhaseData})
	if err != nil {
		t.Fatal(err)
	}

	// Doc has 3 rows at batch size 2: final cursor is the full offset.
	p, err := state.Progress(report.RunID, "dbo.Doc")
	if err != nil {
		t.Fatal(err)
	}
	if p.Cursor != "3" || p.RowsDone != 3 || !p.Completed {
		t.Errorf("doc progress = %+v", p)
	}
}

func TestDataPhaseResumeSkipsDoneWork(t *testing.T) {
	src := defaultSource()
	w := newFakeWriter()
	state := openState(t)

	// A prior interrupted run finished Project and half of Doc.
	if err := state.CreateRun("run-prev", "data"); err != nil {
		t.Fatal(err)
	}
	if err := state.SaveCursor("run-prev", "dbo.Project", "2", 2); err != nil {
		t.Fatal(err)
	}
	if err := state.MarkTableComplete("run-prev", "dbo.Project"); err != nil {
		t.Fatal(err)
	}
	if err := state.SaveCursor("run-prev", "dbo.Doc", "2", 2); err != nil {
		t.Fatal(err)
	}

	o := New(testConfig(), Deps{
		Schema: src, Reader: src, Writer: w, DDL: DryRunDDL{}, State: state,
	}, Options{Resume: true})

	report, err := o.Run(context.Background(), []string{PhaseData})
	if err != nil {
		t.Fatal(err)
	}
	if report.RunID != "run-prev" {
		t.Errorf("resume should reuse the incomplete run, got %s", report.RunID)
	}
	if len(w.committed["project"]) != 0 {
		t.Errorf("completed table was re-transferred: %v", w.committed["project"])
	}
	if got := w.committed["doc"]; len(got) != 1 || got[0] != "12" {
		t.Errorf("doc rows after resume = %v, want just the tail", got)
	}
}

func TestDataPhaseTransientBatchRetry(t *testing.T) {
	src := defaultSource()
	src.tables = []source.Table{projectTable()}
	w := newFakeWriter()
	w.batchErrs = 2 // first two attempts fail, third succeeds
	o, _ := newTestOrch(t, src, w, Options{})

	report, err := o.Run(context.Background(), []string{PhaseData})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if pr := report.Phases[0]; pr.Committed != 2 || pr.NewFatal != 0 {
		t.Errorf("report = %+v", pr)
	}
}

func TestDataPhaseRecordsRowFailures(t *testing.T) {
	src := defaultSource()
	w := newFakeWriter()
	w.rowFails["doc/11"] = target.ClassRetryable
	w.rowFails["doc/12"] = target.ClassFatal
	o, state := newTestOrch(t, src, w, Options{})

	report, err := o.Run(context.Background(), []string{PhaseData})
	if err != nil {
		t.Fatal(err)
	}
	pr := report.Phases[0]
	if pr.NewRetryable != 1 || pr.NewFatal != 1 || pr.Committed != 3 {
		t.Fatalf("report = %+v", pr)
	}
	if report.Success() {
		t.Error("a phase with fatal rows must not report success")
	}

	pending, err := state.Unresolved(report.RunID, "retryable")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].RecordID != "11" {
		t.Errorf("ledger = %+v", pending)
	}

	run, _ := state.GetRun(report.RunID)
	if run.Status != checkpoint.StatusFailed {
		t.Errorf("run status = %s", run.Status)
	}
}

func TestRetryPassConvergence(t *testing.T) {
	src := defaultSource()
	w := newFakeWriter()
	w.rowFails["doc/11"] = target.ClassRetryable
	o, state := newTestOrch(t, src, w, Options{})

	report, err := o.Run(context.Background(), []string{PhaseData})
	if err != nil {
		t.Fatal(err)
	}

	// The missing parent has since committed; clear the failure.
	w.mu.Lock()
	delete(w.rowFails, "doc/11")
	w.mu.Unlock()

	rr, err := o.RetryPass(context.Background(), report.RunID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rr.Attempted != 1 || rr.Committed != 1 || rr.NewRetryable != 0 {
		t.Fatalf("retry report = %+v", rr)
	}

	pending, err := state.Unresolved(report.RunID, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("ledger should be clear, got %+v", pending)
	}
}

func TestRetryPassVanishedRowResolves(t *testing.T) {
	src := defaultSource()
	src.gone = map[string]bool{"dbo.Doc/11": true}
	w := newFakeWriter()
	o, state := newTestOrch(t, src, w, Options{})

	if err := state.CreateRun("run-1", "data"); err != nil {
		t.Fatal(err)
	}
	if err := state.RecordFailure("run-1", checkpoint.FailureRecord{
		Table: "dbo.Doc", RecordID: "11", Class: "retryable", Message: "fk",
	}); err != nil {
		t.Fatal(err)
	}

	rr, err := o.RetryPass(context.Background(), "run-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if rr.Committed != 1 {
		t.Fatalf("retry report = %+v", rr)
	}
	pending, _ := state.Unresolved("run-1", "")
	if len(pending) != 0 {
		t.Errorf("vanished row should be resolved, ledger = %+v", pending)
	}
}

func TestDataPhaseNoPKRowFailuresGetDistinctEntries(t *testing.T) {
	src := &fakeSource{
		tables: []source.Table{auditTable()},
		rows: map[string][][]any{
			"dbo.AuditLog": {
				{int64(1), "created"},
				{int64(1), "updated"},
			},
		},
	}
	w := newFakeWriter()
	w.rowFails["auditlog/0"] = target.ClassRetryable
	w.rowFails["auditlog/1"] = target.ClassRetryable
	o, state := newTestOrch(t, src, w, Options{})

	report, err := o.Run(context.Background(), []string{PhaseData})
	if err != nil {
		t.Fatal(err)
	}
	if pr := report.Phases[0]; pr.NewRetryable != 2 || pr.Committed != 0 {
		t.Fatalf("report = %+v", pr)
	}

	// Each failed row keeps its own ledger entry, keyed by offset.
	pending, err := state.Unresolved(report.RunID, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("ledger = %+v", pending)
	}
	if pending[0].RecordID != "0" || pending[1].RecordID != "1" {
		t.Errorf("record ids = %q, %q", pending[0].RecordID, pending[1].RecordID)
	}
}

func TestRetryPassSkipsUnfetchableRows(t *testing.T) {
	src := defaultSource()
	src.tables = append(src.tables, auditTable())
	w := newFakeWriter()
	o, state := newTestOrch(t, src, w, Options{})

	if err := state.CreateRun("run-1", "data"); err != nil {
		t.Fatal(err)
	}
	if err := state.RecordFailure("run-1", checkpoint.FailureRecord{
		Table: "dbo.AuditLog", RecordID: "2", Class: "retryable", Message: "fk",
	}); err != nil {
		t.Fatal(err)
	}
	if err := state.RecordFailure("run-1", checkpoint.FailureRecord{
		Table: "dbo.Doc", RecordID: "11", Class: "retryable", Message: "fk",
	}); err != nil {
		t.Fatal(err)
	}

	rr, err := o.RetryPass(context.Background(), "run-1", nil)
	if err != nil {
		t.Fatalf("RetryPass() error: %v", err)
	}
	// The no-PK row cannot be re-read individually; it stays in the
	// ledger while the fetchable row still commits.
	if rr.Attempted != 2 || rr.Committed != 1 || rr.NewRetryable != 1 {
		t.Fatalf("retry report = %+v", rr)
	}

	pending, err := state.Unresolved("run-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Table != "dbo.AuditLog" {
		t.Errorf("ledger = %+v", pending)
	}
}

func TestDryRunLeavesStateUntouched(t *testing.T) {
	src := defaultSource()
	live := newFakeWriter()
	o, _ := newTestOrch(t, src, live, Options{})
	liveReport, err := o.Run(context.Background(), []string{PhaseData})
	if err != nil {
		t.Fatal(err)
	}

	dry := NewDryRunWriter()
	o2, state2 := newTestOrch(t, src, dry, Options{DryRun: true})
	dryReport, err := o2.Run(context.Background(), []string{PhaseData})
	if err != nil {
		t.Fatal(err)
	}

	if dryReport.Phases[0].Attempted != liveReport.Phases[0].Attempted ||
		dryReport.Phases[0].Committed != liveReport.Phases[0].Committed {
		t.Errorf("dry-run counts differ: live %+v, dry %+v", liveReport.Phases[0], dryReport.Phases[0])
	}
	if dry.Rows() != 5 {
		t.Errorf("dry writer saw %d rows, want 5", dry.Rows())
	}

	runs, err := state2.Runs(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("dry run must not record state, got %+v", runs)
	}
}

func TestDryRunResumePreviewsCheckpoints(t *testing.T) {
	src := defaultSource()
	state := openState(t)

	// A prior interrupted run finished Project and half of Doc.
	if err := state.CreateRun("run-prev", "data"); err != nil {
		t.Fatal(err)
	}
	if err := state.SaveCursor("run-prev", "dbo.Project", "2", 2); err != nil {
		t.Fatal(err)
	}
	if err := state.MarkTableComplete("run-prev", "dbo.Project"); err != nil {
		t.Fatal(err)
	}
	if err := state.SaveCursor("run-prev", "dbo.Doc", "2", 2); err != nil {
		t.Fatal(err)
	}

	dry := NewDryRunWriter()
	o := New(testConfig(), Deps{
		Schema: src, Reader: src, Writer: dry, DDL: DryRunDDL{}, State: state,
	}, Options{DryRun: true, Resume: true})

	report, err := o.Run(context.Background(), []string{PhaseData})
	if err != nil {
		t.Fatal(err)
	}
	if report.RunID != "run-prev" {
		t.Errorf("preview should target the incomplete run, got %s", report.RunID)
	}
	if dry.Rows() != 1 {
		t.Errorf("dry writer saw %d rows, want just the tail", dry.Rows())
	}

	// The preview must not advance checkpoints or touch the run row.
	p, err := state.Progress("run-prev", "dbo.Doc")
	if err != nil {
		t.Fatal(err)
	}
	if p.Cursor != "2" || p.RowsDone != 2 || p.Completed {
		t.Errorf("doc progress mutated: %+v", p)
	}
	run, err := state.GetRun("run-prev")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != checkpoint.StatusRunning {
		t.Errorf("run status = %s", run.Status)
	}
}

func TestSubsetWithMissingParentRefused(t *testing.T) {
	src := defaultSource()
	w := newFakeWriter()
	o, _ := newTestOrch(t, src, w, Options{Tables: []string{"dbo.Doc"}})

	_, err := o.Run(context.Background(), []string{PhaseData})
	if err == nil || !strings.Contains(err.Error(), "force") {
		t.Fatalf("expected missing-parent refusal, got %v", err)
	}

	o2, _ := newTestOrch(t, src, w, Options{Tables: []string{"dbo.Doc"}, Force: true})
	report, err := o2.Run(context.Background(), []string{PhaseData})
	if err != nil {
		t.Fatalf("forced run error: %v", err)
	}
	if report.Phases[0].Attempted != 3 {
		t.Errorf("forced subset attempted = %d", report.Phases[0].Attempted)
	}
}

// Link phase fakes.

type fakeFolders struct{ folders []objstore.Folder }

func (f *fakeFolders) ListFolders(ctx context.Context) ([]objstore.Folder, error) {
	return f.folders, nil
}

type fakeObjects struct{ present map[string]bool }

func (f *fakeObjects) ObjectExists(ctx context.Context, key string) (bool, error) {
	return f.present[key], nil
}

type fakeLinker struct {
	mu        sync.Mutex
	projects  []docs.Project
	filenames map[int64][]string
	linked    map[int64]string
}

func (f *fakeLinker) Projects(ctx context.Context) ([]docs.Project, error) {
	return f.projects, nil
}

func (f *fakeLinker) LinkDocuments(ctx context.Context, projectID int64, folderPrefix string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linked == nil {
		f.linked = make(map[int64]string)
	}
	f.linked[projectID] = folderPrefix
	return int64(len(f.filenames[projectID])), nil
}

func (f *fakeLinker) Filenames(ctx context.Context, projectID int64, limit int) ([]string, error) {
	return f.filenames[projectID], nil
}

func TestLinkPhase(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Root = "docs/Harwell Legal"
	cfg.Resolver.SimilarityThreshold = 0.85
	cfg.Resolver.FallbackFolder = "zzz_mailroom_no_project_assigned"

	folders := &fakeFolders{folders: []objstore.Folder{
		{Name: "Smith Co", Prefix: "docs/Harwell Legal/Smith Co/"},
		{Name: "Smith Co 4521", Prefix: "docs/Harwell Legal/Smith Co 4521/"},
		{Name: "zzz_mailroom_no_project_assigned", Prefix: "docs/Harwell Legal/zzz_mailroom_no_project_assigned/"},
	}}
	objects := &fakeObjects{present: map[string]bool{
		"docs/Harwell Legal/zzz_mailroom_no_project_assigned/stray.pdf": true,
	}}
	linker := &fakeLinker{
		projects: []docs.Project{
			{ID: 4521, Name: "Smith Co"},
			{ID: 7, Name: "Vanished Client"},
			{ID: 9, Name: "Mailroom Only Client"},
		},
		filenames: map[int64][]string{
			4521: {"a.pdf", "b.pdf"},
			9:    {"stray.pdf"},
		},
	}

	reviewPath := filepath.Join(t.TempDir(), "review.csv")
	state := openState(t)
	o := New(cfg, Deps{
		State:    state,
		Folders:  folders,
		Objects:  objects,
		Projects: linker,
		Linker:   linker,
	}, Options{ReviewCSV: reviewPath})

	report, err := o.Run(context.Background(), []string{PhaseLink})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	pr := report.Phases[0]

	// 4521 resolves via id token, 9 via the mailroom fallback, 7 lands
	// in the review export.
	if pr.Attempted != 3 || pr.Committed != 2 || pr.NotFound != 1 || pr.Ambiguous != 0 {
		t.Fatalf("report = %+v", pr)
	}
	if pr.Linked != 3 {
		t.Errorf("Linked = %d, want 3", pr.Linked)
	}

	if got := linker.linked[4521]; got != "docs/Harwell Legal/Smith Co 4521/" {
		t.Errorf("project 4521 linked to %q", got)
	}
	if got := linker.linked[9]; got != "docs/Harwell Legal/zzz_mailroom_no_project_assigned/" {
		t.Errorf("project 9 linked to %q", got)
	}
	if _, ok := linker.linked[7]; ok {
		t.Error("unresolved project must not be linked")
	}

	review, err := os.ReadFile(reviewPath)
	if err != nil {
		t.Fatalf("review export missing: %v", err)
	}
	if !strings.Contains(string(review), "Vanished Client") {
		t.Errorf("review export missing project 7:\n%s", review)
	}
}

func TestLinkPhaseAmbiguousNeverLinks(t *testing.T) {
	cfg := testConfig()
	cfg.Resolver.SimilarityThreshold = 0.85

	folders := &fakeFolders{folders: []objstore.Folder{
		{Name: "Smith Co 4521", Prefix: "docs/Smith Co 4521/"},
		{Name: "Smith Co 4521 (1)", Prefix: "docs/Smith Co 4521 (1)/"},
	}}
	linker := &fakeLinker{projects: []docs.Project{{ID: 4521, Name: "Smith Co"}}}
	state := openState(t)
	o := New(cfg, Deps{
		State:    state,
		Folders:  folders,
		Objects:  &fakeObjects{},
		Projects: linker,
		Linker:   linker,
	}, Options{})

	report, err := o.Run(context.Background(), []string{PhaseLink})
	if err != nil {
		t.Fatal(err)
	}
	pr := report.Phases[0]
	if pr.Ambiguous != 1 || pr.Committed != 0 {
		t.Fatalf("report = %+v", pr)
	}
	if len(linker.linked) != 0 {
		t.Errorf("ambiguous project was linked: %v", linker.linked)
	}
}

func TestLinkPhaseBlockedByUnresolvedFailures(t *testing.T) {
	cfg := testConfig()
	cfg.Documents.ProjectTable = "project"
	cfg.Documents.DocTable = "doc"

	run := func(force bool) (*RunReport, error, *fakeLinker) {
		src := defaultSource()
		w := newFakeWriter()
		w.rowFails["doc/12"] = target.ClassFatal
		linker := &fakeLinker{projects: []docs.Project{{ID: 1, Name: "Smith Co"}}}
		o := New(cfg, Deps{
			Schema: src, Reader: src, Writer: w, DDL: DryRunDDL{}, State: openState(t),
			Folders:  &fakeFolders{folders: []objstore.Folder{{Name: "Smith Co", Prefix: "docs/Smith Co/"}}},
			Objects:  &fakeObjects{},
			Projects: linker,
			Linker:   linker,
		}, Options{Force: force})
		report, err := o.Run(context.Background(), []string{PhaseData, PhaseLink})
		return report, err, linker
	}

	report, err, linker := run(false)
	if err == nil || !strings.Contains(err.Error(), "force") {
		t.Fatalf("expected refusal over unresolved doc failures, got %v", err)
	}
	if len(report.Phases) != 1 {
		t.Errorf("phases run = %d, want data only", len(report.Phases))
	}
	if len(linker.linked) != 0 {
		t.Errorf("link ran despite unresolved failures: %v", linker.linked)
	}

	report, err, linker = run(true)
	if err != nil {
		t.Fatalf("forced run error: %v", err)
	}
	if len(report.Phases) != 2 {
		t.Fatalf("forced run phases = %d, want 2", len(report.Phases))
	}
	if got := linker.linked[1]; got != "docs/Smith Co/" {
		t.Errorf("forced run linked = %v", linker.linked)
	}
}

func TestExtrasPhaseBlockedByParentFailures(t *testing.T) {
	cfg := testConfig()
	cfg.Migration.ExtrasTables = []string{"dbo.Doc"}

	run := func(force bool) (*RunReport, error, *fakeWriter) {
		src := defaultSource()
		w := newFakeWriter()
		w.rowFails["project/1"] = target.ClassFatal
		o := New(cfg, Deps{
			Schema: src, Reader: src, Writer: w, DDL: DryRunDDL{}, State: openState(t),
		}, Options{Force: force})
		report, err := o.Run(context.Background(), []string{PhaseData, PhaseExtras})
		return report, err, w
	}

	_, err, w := run(false)
	if err == nil || !strings.Contains(err.Error(), "force") {
		t.Fatalf("expected refusal over unresolved parent failures, got %v", err)
	}
	if len(w.committed["doc"]) != 0 {
		t.Errorf("extras ran despite unresolved parent failures: %v", w.committed["doc"])
	}

	report, err, w := run(true)
	if err != nil {
		t.Fatalf("forced run error: %v", err)
	}
	if len(report.Phases) != 2 || len(w.committed["doc"]) != 3 {
		t.Errorf("forced run: phases=%d doc rows=%v", len(report.Phases), w.committed["doc"])
	}
}
