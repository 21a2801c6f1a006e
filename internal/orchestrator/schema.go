package orchestrator

import (
	"context"

	"github.com/mhollis/docmigrate/internal/logging"
)

// runSchema creates the destination schema and one table per source
// table, primary keys included. All DDL is IF NOT EXISTS so the phase
// can re-run freely.
func (o *Orchestrator) runSchema(ctx context.Context) (*PhaseReport, error) {
	tables, err := o.loadTables(ctx)
	if err != nil {
		return nil, err
	}
	report := &PhaseReport{}

	if err := o.deps.DDL.CreateSchema(ctx, o.cfg.Target.Schema); err != nil {
		return nil, err
	}

	for i := range tables {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		t := &tables[i]
		report.Attempted++
		if err := o.deps.DDL.CreateTable(ctx, t, o.cfg.Target.Schema); err != nil {
			// DDL failures are terminal for the table but not the
			// phase: the data phase skips nothing silently because the
			// writes will fail loudly there too.
			logging.Error("Creating table %s: %v", t.FullName(), err)
			report.NewFatal++
			continue
		}
		if err := o.deps.DDL.CreatePrimaryKey(ctx, t, o.cfg.Target.Schema); err != nil {
			logging.Error("Creating primary key on %s: %v", t.FullName(), err)
			report.NewFatal++
			continue
		}
		report.Committed++
	}
	return report, nil
}
