// Package resolver maps numeric project identifiers to storage folder
// paths. Folder naming in the document tree is fuzzy: names were typed
// by hand, sometimes with the project id appended, sometimes behind a
// category prefix, sometimes duplicated with a "(2)" suffix. The
// resolver ranks candidates by tier and never silently guesses between
// tied candidates.
package resolver

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/xrash/smetrics"

	"github.com/mhollis/docmigrate/internal/objstore"
)

// Status is the outcome of resolving one project.
type Status int

const (
	// StatusNotFound means no folder cleared any matching tier.
	StatusNotFound Status = iota
	// StatusAmbiguous means several folders tied in the best tier.
	StatusAmbiguous
	// StatusUnique means exactly one folder won the best tier.
	StatusUnique
)

func (s Status) String() string {
	switch s {
	case StatusUnique:
		return "unique"
	case StatusAmbiguous:
		return "ambiguous"
	}
	return "not_found"
}

// Tier orders match quality. Higher is more trustworthy. The numeric
// id is authoritative when it appears in a folder name, so an id-token
// match outranks even an exact name match.
type Tier int

const (
	TierSimilar Tier = iota + 1
	TierAffix
	TierExact
	TierIDToken
)

func (t Tier) String() string {
	switch t {
	case TierIDToken:
		return "id_token"
	case TierExact:
		return "exact"
	case TierAffix:
		return "affix"
	case TierSimilar:
		return "similar"
	}
	return "none"
}

// Candidate is one plausible folder for a project.
type Candidate struct {
	Name   string
	Path   string
	Tier   Tier
	Score  float64
	Reason string
}

// Resolution is the ranked result for one project.
type Resolution struct {
	ProjectID   int64
	DisplayName string
	Status      Status
	// Candidates are sorted best first: tier, then score, then name.
	Candidates []Candidate
}

// Chosen returns the winning candidate for a Unique resolution.
func (r *Resolution) Chosen() *Candidate {
	if r.Status != StatusUnique {
		return nil
	}
	return &r.Candidates[0]
}

// Options tunes candidate generation.
type Options struct {
	// SimilarityThreshold is the minimum Jaro-Winkler score for the
	// lowest tier.
	SimilarityThreshold float64
	// VariantPrefixes are category prefixes stripped from folder names
	// before exact comparison, e.g. "Solar - ".
	VariantPrefixes []string
	// FallbackFolder names the catch-all directory for unfiled
	// documents. It never competes as a candidate.
	FallbackFolder string
}

// DefaultOptions returns the matching thresholds used in production.
func DefaultOptions() Options {
	return Options{SimilarityThreshold: 0.85}
}

var (
	nonAlnum     = regexp.MustCompile(`[^a-z0-9]+`)
	quoteRun     = regexp.MustCompile(`"+`)
	numberedCopy = regexp.MustCompile(`^(.*?) \((\d{1,2})\)$`)
	digitRun     = regexp.MustCompile(`\d+`)
)

// Normalize lowers case, strips punctuation, and collapses whitespace
// so cosmetic differences don't defeat a match.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = nonAlnum.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// SanitizeName applies the substitutions used when folders were
// created from project names: quote runs and path separators become
// underscores.
func SanitizeName(s string) string {
	s = quoteRun.ReplaceAllString(s, "_")
	s = strings.ReplaceAll(s, "/", "_")
	return s
}

// Resolve ranks the given folders against one project. It is pure and
// deterministic: the same inputs always produce the same status and
// candidate order.
func Resolve(projectID int64, displayName string, folders []objstore.Folder, opts Options) Resolution {
	res := Resolution{ProjectID: projectID, DisplayName: displayName}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 0.85
	}

	idToken := strconv.FormatInt(projectID, 10)
	nameNorm := Normalize(displayName)
	sanitizedNorm := Normalize(SanitizeName(displayName))

	for _, f := range folders {
		if opts.FallbackFolder != "" && f.Name == opts.FallbackFolder {
			continue
		}
		if c, ok := match(f, idToken, nameNorm, sanitizedNorm, opts); ok {
			res.Candidates = append(res.Candidates, c)
		}
	}

	sort.SliceStable(res.Candidates, func(i, j int) bool {
		a, b := res.Candidates[i], res.Candidates[j]
		if a.Tier != b.Tier {
			return a.Tier > b.Tier
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Name < b.Name
	})

	switch {
	case len(res.Candidates) == 0:
		res.Status = StatusNotFound
	case len(res.Candidates) == 1 || res.Candidates[0].Tier > res.Candidates[1].Tier:
		res.Status = StatusUnique
	default:
		res.Status = StatusAmbiguous
	}
	return res
}

func match(f objstore.Folder, idToken, nameNorm, sanitizedNorm string, opts Options) (Candidate, bool) {
	c := Candidate{Name: f.Name, Path: f.Prefix}

	// The id embedded in a folder name is authoritative regardless of
	// how the rest of the name compares.
	for _, tok := range digitRun.FindAllString(f.Name, -1) {
		if strings.TrimLeft(tok, "0") == idToken || tok == idToken {
			c.Tier = TierIDToken
			c.Score = 1.0
			c.Reason = "folder name contains project id " + idToken
			return c, true
		}
	}

	if nameNorm == "" {
		return c, false
	}

	base, variant := stripVariants(f.Name, opts.VariantPrefixes)
	folderNorm := Normalize(base)

	if folderNorm == nameNorm || folderNorm == sanitizedNorm {
		c.Tier = TierExact
		c.Score = 1.0
		c.Reason = "exact name match"
		if variant != "" {
			c.Reason = "exact name match via " + variant
		}
		return c, true
	}

	score := smetrics.JaroWinkler(nameNorm, folderNorm, 0.7, 4)
	if strings.HasPrefix(folderNorm, nameNorm) || strings.Contains(folderNorm, nameNorm) ||
		strings.HasPrefix(nameNorm, folderNorm) {
		c.Tier = TierAffix
		c.Score = score
		c.Reason = "name is affix of folder"
		return c, true
	}

	if score >= opts.SimilarityThreshold {
		c.Tier = TierSimilar
		c.Score = score
		c.Reason = "similarity " + strconv.FormatFloat(score, 'f', 2, 64)
		return c, true
	}

	return c, false
}

// stripVariants removes a known category prefix and a trailing
// duplicate marker like " (2)" so variants compare against the bare
// project name. Returns the stripped name and a description of what
// was stripped, if anything.
func stripVariants(name string, prefixes []string) (string, string) {
	var applied []string
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			name = strings.TrimPrefix(name, p)
			applied = append(applied, "prefix "+strconv.Quote(p))
			break
		}
	}
	if m := numberedCopy.FindStringSubmatch(name); m != nil {
		name = m[1]
		applied = append(applied, "numbered variant ("+m[2]+")")
	}
	return name, strings.Join(applied, ", ")
}
