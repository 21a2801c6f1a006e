package resolver

import (
	"encoding/csv"
	"io"
	"strconv"
)

// WriteReviewCSV exports resolutions needing operator review, one row
// per candidate (or a single row for projects with no candidates).
func WriteReviewCSV(w io.Writer, resolutions []Resolution) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"project_id", "display_name", "status", "candidate_path", "tier", "score", "reason"}); err != nil {
		return err
	}

	for _, r := range resolutions {
		if r.Status == StatusUnique {
			continue
		}
		id := strconv.FormatInt(r.ProjectID, 10)
		if len(r.Candidates) == 0 {
			if err := cw.Write([]string{id, r.DisplayName, r.Status.String(), "", "", "", ""}); err != nil {
				return err
			}
			continue
		}
		for _, c := range r.Candidates {
			rec := []string{
				id, r.DisplayName, r.Status.String(),
				c.Path, c.Tier.String(),
				strconv.FormatFloat(c.Score, 'f', 3, 64),
				c.Reason,
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
