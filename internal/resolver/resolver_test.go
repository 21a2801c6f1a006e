package resolver

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mhollis/docmigrate/internal/objstore"
)

func mkFolders(names ...string) []objstore.Folder {
	out := make([]objstore.Folder, len(names))
	for i, n := range names {
		out[i] = objstore.Folder{Name: n, Prefix: "docs/Harwell Legal/" + n + "/"}
	}
	return out
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Smith Co", "smith co"},
		{"SMITH   CO.", "smith co"},
		{`"Smith" & Co, LLC`, "smith co llc"},
		{"  padded  ", "padded"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`The "Best" Project`, "The _Best_ Project"},
		{"A/B Holdings", "A_B Holdings"},
		{`""double""`, "_double_"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveIDTokenOutranksExactName(t *testing.T) {
	folders := mkFolders("Smith Co", "Smith Co 4521")

	res := Resolve(4521, "Smith Co", folders, DefaultOptions())

	if res.Status != StatusUnique {
		t.Fatalf("status = %v, want unique; candidates: %+v", res.Status, res.Candidates)
	}
	if got := res.Chosen().Name; got != "Smith Co 4521" {
		t.Errorf("chosen = %q, want the id-bearing folder", got)
	}
	if res.Chosen().Tier != TierIDToken {
		t.Errorf("tier = %v, want id_token", res.Chosen().Tier)
	}
	// The plain name match is still reported below the winner.
	if len(res.Candidates) != 2 || res.Candidates[1].Name != "Smith Co" {
		t.Errorf("candidates = %+v", res.Candidates)
	}
}

func TestResolveExactMatch(t *testing.T) {
	folders := mkFolders("Acme Industrial", "Unrelated Holdings")

	res := Resolve(99, "Acme Industrial", folders, DefaultOptions())
	if res.Status != StatusUnique {
		t.Fatalf("status = %v", res.Status)
	}
	c := res.Chosen()
	if c.Name != "Acme Industrial" || c.Tier != TierExact || c.Score != 1.0 {
		t.Errorf("chosen = %+v", c)
	}
}

func TestResolveExactMatchIsCaseAndPunctuationBlind(t *testing.T) {
	folders := mkFolders("ACME industrial, llc.")
	res := Resolve(1, "Acme Industrial LLC", folders, DefaultOptions())
	if res.Status != StatusUnique || res.Chosen().Tier != TierExact {
		t.Fatalf("res = %+v", res)
	}
}

func TestResolveNumberedVariant(t *testing.T) {
	folders := mkFolders("Acme Industrial (2)")
	res := Resolve(77, "Acme Industrial", folders, DefaultOptions())
	if res.Status != StatusUnique {
		t.Fatalf("status = %v", res.Status)
	}
	c := res.Chosen()
	if c.Tier != TierExact || !strings.Contains(c.Reason, "numbered variant") {
		t.Errorf("chosen = %+v", c)
	}
}

func TestResolveVariantPrefix(t *testing.T) {
	opts := DefaultOptions()
	opts.VariantPrefixes = []string{"Solar - PNC ", "Solar - "}

	folders := mkFolders("Solar - Acme Industrial")
	res := Resolve(5, "Acme Industrial", folders, opts)
	if res.Status != StatusUnique || res.Chosen().Tier != TierExact {
		t.Fatalf("res = %+v", res)
	}
	if !strings.Contains(res.Chosen().Reason, `prefix "Solar - "`) {
		t.Errorf("reason = %q", res.Chosen().Reason)
	}
}

func TestResolveAmbiguousTie(t *testing.T) {
	// Two folders both carry the project id: nothing may be guessed.
	folders := mkFolders("Smith Co 4521", "Smith Co 4521 (1)")

	res := Resolve(4521, "Smith Co", folders, DefaultOptions())
	if res.Status != StatusAmbiguous {
		t.Fatalf("status = %v, want ambiguous", res.Status)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("candidates = %+v", res.Candidates)
	}
	if res.Chosen() != nil {
		t.Error("ambiguous resolution must not expose a chosen candidate")
	}
}

func TestResolveAffixAboveSimilar(t *testing.T) {
	folders := mkFolders("Acme Industrial Holdings Group")
	res := Resolve(3, "Acme Industrial", folders, DefaultOptions())
	if res.Status != StatusUnique {
		t.Fatalf("status = %v", res.Status)
	}
	if res.Chosen().Tier != TierAffix {
		t.Errorf("tier = %v, want affix", res.Chosen().Tier)
	}
}

func TestResolveSimilarityThreshold(t *testing.T) {
	// One-character typo clears the threshold; a different name does not.
	folders := mkFolders("Avme Industrial")
	res := Resolve(3, "Acme Industrial", folders, DefaultOptions())
	if res.Status != StatusUnique || res.Chosen().Tier != TierSimilar {
		t.Fatalf("res = %+v", res)
	}

	res = Resolve(3, "Completely Different", folders, DefaultOptions())
	if res.Status != StatusNotFound {
		t.Fatalf("status = %v, want not_found; candidates: %+v", res.Status, res.Candidates)
	}
}

func TestResolveSkipsFallbackFolder(t *testing.T) {
	opts := DefaultOptions()
	opts.FallbackFolder = "zzz_mailroom_no_project_assigned"

	folders := mkFolders("zzz_mailroom_no_project_assigned")
	res := Resolve(123, "zzz mailroom no project assigned", folders, opts)
	if res.Status != StatusNotFound {
		t.Errorf("fallback folder must never be a candidate, got %+v", res)
	}
}

func TestResolveDeterministicOrdering(t *testing.T) {
	folders := mkFolders("Smith Co 4521", "Smith Co", "Smith Company")
	first := Resolve(4521, "Smith Co", folders, DefaultOptions())
	for i := 0; i < 5; i++ {
		again := Resolve(4521, "Smith Co", folders, DefaultOptions())
		if again.Status != first.Status || len(again.Candidates) != len(first.Candidates) {
			t.Fatalf("resolution changed between calls: %+v vs %+v", first, again)
		}
		for j := range first.Candidates {
			if again.Candidates[j] != first.Candidates[j] {
				t.Fatalf("candidate %d changed: %+v vs %+v", j, first.Candidates[j], again.Candidates[j])
			}
		}
	}
}

func TestResolveEmptyDisplayName(t *testing.T) {
	folders := mkFolders("Project 4521 Files", "Whatever")
	res := Resolve(4521, "", folders, DefaultOptions())
	if res.Status != StatusUnique || res.Chosen().Tier != TierIDToken {
		t.Fatalf("res = %+v", res)
	}
}

func TestWriteReviewCSV(t *testing.T) {
	resolutions := []Resolution{
		{ProjectID: 1, DisplayName: "Won", Status: StatusUnique,
			Candidates: []Candidate{{Name: "Won", Path: "docs/Won/", Tier: TierExact, Score: 1}}},
		{ProjectID: 2, DisplayName: "Tied", Status: StatusAmbiguous,
			Candidates: []Candidate{
				{Name: "Tied 2", Path: "docs/Tied 2/", Tier: TierIDToken, Score: 1, Reason: "folder name contains project id 2"},
				{Name: "Tied 2 (1)", Path: "docs/Tied 2 (1)/", Tier: TierIDToken, Score: 1, Reason: "folder name contains project id 2"},
			}},
		{ProjectID: 3, DisplayName: "Lost", Status: StatusNotFound},
	}

	var buf bytes.Buffer
	if err := WriteReviewCSV(&buf, resolutions); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")

	// header + two ambiguous candidates + one not_found row
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	if strings.Contains(out, "Won") {
		t.Error("unique resolutions do not belong in the review export")
	}
	if !strings.Contains(lines[1], "ambiguous") || !strings.Contains(lines[3], "not_found") {
		t.Errorf("unexpected export:\n%s", out)
	}
}
