package orchestrator

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mhollis/docmigrate/internal/logging"
	"github.com/mhollis/docmigrate/internal/resolver"
)

// mailroomSampleSize bounds how many filenames are probed when testing
// the fallback folder for an unresolved project.
const mailroomSampleSize = 5

// runLink resolves every project to a storage folder and stamps the
// resolved paths onto that project's document rows. Ambiguous and
// not-found projects are never guessed; they land in the review export.
func (o *Orchestrator) runLink(ctx context.Context, runID string) (*PhaseReport, error) {
	deps := map[string]bool{
		strings.ToLower(o.cfg.Documents.ProjectTable): true,
		strings.ToLower(o.cfg.Documents.DocTable):     true,
	}
	delete(deps, "")
	if err := o.blockedByFailures(runID, deps); err != nil {
		return nil, err
	}

	folders, err := o.deps.Folders.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	projects, err := o.deps.Projects.Projects(ctx)
	if err != nil {
		return nil, err
	}
	logging.Info("Linking %d projects against %d folders", len(projects), len(folders))

	ropts := resolver.Options{
		SimilarityThreshold: o.cfg.Resolver.SimilarityThreshold,
		VariantPrefixes:     o.cfg.Resolver.VariantPrefixes,
		FallbackFolder:      o.cfg.Resolver.FallbackFolder,
	}

	report := &PhaseReport{}
	var (
		mu     sync.Mutex
		review []resolver.Resolution
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Migration.Workers)

	for _, p := range projects {
		p := p
		g.Go(func() error {
			res := resolver.Resolve(p.ID, p.Name, folders, ropts)

			if res.Status == resolver.StatusNotFound && ropts.FallbackFolder != "" {
				if o.checkFallback(gctx, p.ID) {
					res.Status = resolver.StatusUnique
					res.Candidates = []resolver.Candidate{{
						Name:   ropts.FallbackFolder,
						Path:   o.fallbackPrefix(),
						Tier:   resolver.TierSimilar,
						Score:  0,
						Reason: "documents found in fallback folder",
					}}
				}
			}

			var linked int64
			if res.Status == resolver.StatusUnique && !o.opts.DryRun {
				var lerr error
				linked, lerr = o.deps.Linker.LinkDocuments(gctx, p.ID, res.Chosen().Path)
				if lerr != nil {
					return lerr
				}
			}

			mu.Lock()
			defer mu.Unlock()
			report.Attempted++
			switch res.Status {
			case resolver.StatusUnique:
				report.Committed++
				report.Linked += linked
			case resolver.StatusAmbiguous:
				report.Ambiguous++
				review = append(review, res)
			case resolver.StatusNotFound:
				report.NotFound++
				review = append(review, res)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	if len(review) > 0 {
		logging.Warn("%d projects need review (%d ambiguous, %d not found)",
			len(review), report.Ambiguous, report.NotFound)
		if o.opts.ReviewCSV != "" {
			if err := o.writeReview(review); err != nil {
				logging.Error("Writing review export: %v", err)
			} else {
				logging.Info("Review export written to %s", o.opts.ReviewCSV)
			}
		}
	}
	return report, nil
}

// checkFallback reports whether any of the project's documents exist
// under the fallback folder, sampling a handful of filenames.
func (o *Orchestrator) checkFallback(ctx context.Context, projectID int64) bool {
	names, err := o.deps.Linker.Filenames(ctx, projectID, mailroomSampleSize)
	if err != nil {
		logging.Debug("Sampling filenames for project %d: %v", projectID, err)
		return false
	}
	prefix := o.fallbackPrefix()
	for _, name := range names {
		ok, err := o.deps.Objects.ObjectExists(ctx, prefix+name)
		if err != nil {
			logging.Debug("Probing fallback for project %d: %v", projectID, err)
			return false
		}
		if ok {
			return true
		}
	}
	return false
}

func (o *Orchestrator) fallbackPrefix() string {
	root := o.cfg.Storage.Root
	if root != "" {
		root += "/"
	}
	return root + o.cfg.Resolver.FallbackFolder + "/"
}

func (o *Orchestrator) writeReview(review []resolver.Resolution) error {
	sort.Slice(review, func(i, j int) bool {
		return review[i].ProjectID < review[j].ProjectID
	})
	f, err := os.Create(o.opts.ReviewCSV)
	if err != nil {
		return err
	}
	if err := resolver.WriteReviewCSV(f, review); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
