package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mhollis/docmigrate/internal/checkpoint"
	"github.com/mhollis/docmigrate/internal/config"
	"github.com/mhollis/docmigrate/internal/docs"
	"github.com/mhollis/docmigrate/internal/logging"
	"github.com/mhollis/docmigrate/internal/objstore"
	"github.com/mhollis/docmigrate/internal/orchestrator"
	"github.com/mhollis/docmigrate/internal/progress"
	"github.com/mhollis/docmigrate/internal/resolver"
	"github.com/mhollis/docmigrate/internal/source"
	"github.com/mhollis/docmigrate/internal/target"
	"github.com/mhollis/docmigrate/internal/util"
	"github.com/mhollis/docmigrate/internal/version"
)

func main() {
	app := &cli.App{
		Name:    version.Name,
		Usage:   version.Description,
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format (text, json)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the full migration (schema, data, link, extras)",
				Action: cmdRun,
				Flags:  runFlags(),
			},
			{
				Name:      "phase",
				Usage:     "Run a single phase: schema, data, link, or extras",
				ArgsUsage: "<phase>",
				Action:    cmdPhase,
				Flags:     runFlags(),
			},
			{
				Name:   "retry",
				Usage:  "Replay failed rows from the ledger or a CSV export",
				Action: cmdRetry,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run",
						Usage: "Run ID to replay (defaults to the last incomplete or failed run)",
					},
					&cli.StringFlag{
						Name:  "from-csv",
						Usage: "Replay from an exported failures CSV instead of the ledger",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Report what would be replayed without writing",
					},
				},
			},
			{
				Name:   "resolve",
				Usage:  "Analyze project-to-folder mapping without writing; one project or all",
				Action: cmdResolve,
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "project-id", Usage: "Resolve a single numeric project id"},
					&cli.StringFlag{Name: "name", Usage: "Project display name (with --project-id)"},
					&cli.StringFlag{
						Name:  "review-csv",
						Value: "resolver_review.csv",
						Usage: "Where to write ambiguous and unmapped projects (all-projects mode)",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show the last run and its outstanding failures",
				Action: cmdStatus,
			},
			{
				Name:  "history",
				Usage: "List migration runs, or details of one run",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "run", Usage: "Show details for a specific run ID"},
					&cli.StringFlag{Name: "export-failures", Usage: "Write the run's unresolved failures to this CSV file"},
				},
				Action: cmdHistory,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Execute the full control flow without writing to the target",
		},
		&cli.BoolFlag{
			Name:  "resume",
			Usage: "Honor stored checkpoints instead of restarting tables",
		},
		&cli.StringFlag{
			Name:  "tables",
			Usage: "Comma-separated table subset (schema-qualified)",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Override the configured worker count",
		},
		&cli.BoolFlag{
			Name:  "force",
			Usage: "Run a table subset even when referenced parents are excluded",
		},
		&cli.StringFlag{
			Name:  "review-csv",
			Value: "resolver_review.csv",
			Usage: "Where the link phase writes unresolved projects",
		},
		&cli.BoolFlag{
			Name:  "no-progress",
			Usage: "Disable the progress bar",
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	lvl, err := logging.ParseLevel(c.String("log-level"))
	if err != nil {
		return nil, err
	}
	logging.SetLevel(lvl)
	logging.SetFormat(c.String("log-format"))

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("workers") {
		cfg.Migration.Workers = c.Int("workers")
	}
	return cfg, nil
}

func options(c *cli.Context) orchestrator.Options {
	return orchestrator.Options{
		DryRun:    c.Bool("dry-run"),
		Resume:    c.Bool("resume"),
		Tables:    util.SplitCSV(c.String("tables")),
		Force:     c.Bool("force"),
		ReviewCSV: c.String("review-csv"),
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted. Checkpoints are saved; re-run with --resume.")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// runtime holds the opened collaborators for one command invocation.
type runtime struct {
	cfg   *config.Config
	orch  *orchestrator.Orchestrator
	state *checkpoint.State

	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func needsStorage(phases []string) bool {
	for _, p := range phases {
		if p == orchestrator.PhaseLink {
			return true
		}
	}
	return false
}

// openRuntime connects the collaborators the requested phases need and
// assembles the orchestrator.
func openRuntime(ctx context.Context, c *cli.Context, cfg *config.Config, opts orchestrator.Options, phases []string) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	state, err := checkpoint.Open(cfg.Migration.StateFile)
	if err != nil {
		return nil, err
	}
	rt.state = state
	rt.closers = append(rt.closers, func() { state.Close() })

	deps := orchestrator.Deps{
		State:    state,
		Progress: progress.New(!c.Bool("no-progress") && !opts.DryRun),
	}

	src, err := source.NewPool(&cfg.Source, cfg.Migration.Workers+1)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("connecting to source: %w", err)
	}
	rt.closers = append(rt.closers, func() { src.Close() })
	deps.Schema = src
	deps.Reader = src

	tgt, err := target.NewPool(&cfg.Target, cfg.Migration.Workers*2)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("connecting to target: %w", err)
	}
	rt.closers = append(rt.closers, tgt.Close)

	if opts.DryRun {
		deps.Writer = orchestrator.NewDryRunWriter()
		deps.DDL = orchestrator.DryRunDDL{}
	} else {
		deps.Writer = target.NewWriter(tgt)
		deps.DDL = tgt
	}

	if needsStorage(phases) {
		storeOpts := []objstore.Option{}
		if cfg.Storage.Region != "" {
			storeOpts = append(storeOpts, objstore.WithRegion(cfg.Storage.Region))
		}
		if cfg.Storage.Endpoint != "" {
			storeOpts = append(storeOpts, objstore.WithEndpoint(cfg.Storage.Endpoint))
		}
		store, err := objstore.New(ctx, cfg.Storage.Bucket, cfg.Storage.Root, storeOpts...)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("opening object store: %w", err)
		}
		deps.Folders = store
		deps.Objects = store

		d := docs.NewStore(tgt, cfg.Documents, cfg.Storage.Bucket, cfg.Storage.PublicBaseURL)
		deps.Projects = d
		deps.Linker = d
	}

	rt.orch = orchestrator.New(cfg, deps, opts)
	return rt, nil
}

func executePhases(c *cli.Context, phases []string) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	opts := options(c)

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := openRuntime(ctx, c, cfg, opts, phases)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.orch.Run(ctx, phases)
	if report != nil {
		printReport(report)
	}
	if err != nil {
		return err
	}
	if !report.Success() {
		return cli.Exit("migration finished with fatal failures; see the ledger", 1)
	}
	return nil
}

func cmdRun(c *cli.Context) error {
	return executePhases(c, orchestrator.AllPhases())
}

func cmdPhase(c *cli.Context) error {
	phase := c.Args().First()
	switch phase {
	case orchestrator.PhaseSchema, orchestrator.PhaseData, orchestrator.PhaseLink, orchestrator.PhaseExtras:
		return executePhases(c, []string{phase})
	case "":
		return fmt.Errorf("usage: %s phase <schema|data|link|extras>", version.Name)
	default:
		return fmt.Errorf("unknown phase %q", phase)
	}
}

func cmdRetry(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	opts := orchestrator.Options{DryRun: c.Bool("dry-run")}

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := openRuntime(ctx, c, cfg, opts, []string{orchestrator.PhaseData})
	if err != nil {
		return err
	}
	defer rt.Close()

	runID := c.String("run")
	if runID == "" {
		last, err := rt.state.LastIncompleteRun()
		if err != nil {
			return err
		}
		if last == nil {
			runs, err := rt.state.Runs(1)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				return fmt.Errorf("no runs recorded; run a migration first")
			}
			last = &runs[0]
		}
		runID = last.ID
	}

	var records []checkpoint.FailureRecord
	if path := c.String("from-csv"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		records, err = checkpoint.ReadFailuresCSV(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
	}

	report, err := rt.orch.RetryPass(ctx, runID, records)
	if err != nil {
		return err
	}
	fmt.Printf("Retry pass for run %s: %d attempted, %d committed, %d still retryable, %d fatal\n",
		runID, report.Attempted, report.Committed, report.NewRetryable, report.NewFatal)
	return nil
}

func cmdResolve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	storeOpts := []objstore.Option{}
	if cfg.Storage.Region != "" {
		storeOpts = append(storeOpts, objstore.WithRegion(cfg.Storage.Region))
	}
	if cfg.Storage.Endpoint != "" {
		storeOpts = append(storeOpts, objstore.WithEndpoint(cfg.Storage.Endpoint))
	}
	store, err := objstore.New(ctx, cfg.Storage.Bucket, cfg.Storage.Root, storeOpts...)
	if err != nil {
		return err
	}

	folders, err := store.ListFolders(ctx)
	if err != nil {
		return err
	}

	resOpts := resolver.Options{
		SimilarityThreshold: cfg.Resolver.SimilarityThreshold,
		VariantPrefixes:     cfg.Resolver.VariantPrefixes,
		FallbackFolder:      cfg.Resolver.FallbackFolder,
	}

	if c.IsSet("project-id") {
		res := resolver.Resolve(c.Int64("project-id"), c.String("name"), folders, resOpts)
		fmt.Printf("Project %d (%q): %s\n", res.ProjectID, res.DisplayName, res.Status)
		for i, cand := range res.Candidates {
			fmt.Printf("  %d. %-10s %.3f  %s  (%s)\n", i+1, cand.Tier, cand.Score, cand.Path, cand.Reason)
		}
		return nil
	}

	tgt, err := target.NewPool(&cfg.Target, 2)
	if err != nil {
		return fmt.Errorf("connecting to target: %w", err)
	}
	defer tgt.Close()

	projects, err := docs.NewStore(tgt, cfg.Documents, cfg.Storage.Bucket, cfg.Storage.PublicBaseURL).Projects(ctx)
	if err != nil {
		return err
	}

	var unique, ambiguous, notFound int
	var review []resolver.Resolution
	for _, p := range projects {
		res := resolver.Resolve(p.ID, p.Name, folders, resOpts)
		switch res.Status {
		case resolver.StatusUnique:
			unique++
		case resolver.StatusAmbiguous:
			ambiguous++
			review = append(review, res)
		default:
			notFound++
			review = append(review, res)
		}
	}

	fmt.Printf("Projects: %d  folders: %d\n", len(projects), len(folders))
	fmt.Printf("  unique:    %d\n  ambiguous: %d\n  not found: %d\n", unique, ambiguous, notFound)

	if len(review) > 0 {
		path := c.String("review-csv")
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := resolver.WriteReviewCSV(f, review); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Printf("Review rows written to %s\n", path)
	}
	return nil
}

func cmdStatus(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	state, err := checkpoint.Open(cfg.Migration.StateFile)
	if err != nil {
		return err
	}
	defer state.Close()

	runs, err := state.Runs(1)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	run := runs[0]
	printRun(&run)

	counts, err := state.FailureCounts(run.ID)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		fmt.Println("No outstanding failures.")
		return nil
	}
	fmt.Println("Outstanding failures:")
	for _, class := range []string{"retryable", "fatal", "transient"} {
		if n := counts[class]; n > 0 {
			fmt.Printf("  %-10s %d\n", class, n)
		}
	}
	return nil
}

func cmdHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	state, err := checkpoint.Open(cfg.Migration.StateFile)
	if err != nil {
		return err
	}
	defer state.Close()

	if runID := c.String("run"); runID != "" {
		run, err := state.GetRun(runID)
		if err != nil {
			return fmt.Errorf("run %s: %w", runID, err)
		}
		printRun(run)

		if path := c.String("export-failures"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := state.ExportFailuresCSV(f, runID); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Printf("Failures exported to %s\n", path)
		}
		return nil
	}

	runs, err := state.Runs(50)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	fmt.Printf("%-36s  %-22s  %-11s  %s\n", "RUN", "STARTED", "STATUS", "PHASES")
	for _, run := range runs {
		fmt.Printf("%-36s  %-22s  %-11s  %s\n",
			run.ID, run.StartedAt.Format("2006-01-02 15:04:05"), run.Status, run.Phases)
	}
	return nil
}

func printRun(run *checkpoint.Run) {
	fmt.Printf("Run %s\n", run.ID)
	fmt.Printf("  Phases:  %s\n", run.Phases)
	fmt.Printf("  Status:  %s\n", run.Status)
	fmt.Printf("  Started: %s\n", run.StartedAt.Format("2006-01-02 15:04:05 MST"))
	if run.FinishedAt != nil {
		fmt.Printf("  Ended:   %s\n", run.FinishedAt.Format("2006-01-02 15:04:05 MST"))
	}
	if run.Error != "" {
		fmt.Printf("  Error:   %s\n", run.Error)
	}
}

func printReport(report *orchestrator.RunReport) {
	fmt.Printf("\nRun %s\n", report.RunID)
	for _, pr := range report.Phases {
		line := fmt.Sprintf("  %-7s attempted=%d committed=%d retryable=%d fatal=%d",
			pr.Phase, pr.Attempted, pr.Committed, pr.NewRetryable, pr.NewFatal)
		if pr.Phase == orchestrator.PhaseLink {
			line += fmt.Sprintf(" linked=%d ambiguous=%d not_found=%d",
				pr.Linked, pr.Ambiguous, pr.NotFound)
		}
		fmt.Printf("%s (%s)\n", line, pr.Elapsed.Round(time.Millisecond))
	}
}
