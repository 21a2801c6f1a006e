package docs

import "testing"

func TestObjectKey(t *testing.T) {
	got := ObjectKey("docs/Harwell Legal/Smith Co 4521/", "contract.pdf")
	want := "docs/Harwell Legal/Smith Co 4521/contract.pdf"
	if got != want {
		t.Errorf("ObjectKey() = %q, want %q", got, want)
	}
}

func TestStorageURL(t *testing.T) {
	got := StorageURL("legal-docs", "docs/Harwell Legal/Smith Co 4521/contract.pdf")
	want := "s3://legal-docs/docs/Harwell Legal/Smith Co 4521/contract.pdf"
	if got != want {
		t.Errorf("StorageURL() = %q, want %q", got, want)
	}
}

func TestPublicURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		key  string
		want string
	}{
		{
			name: "segments are escaped",
			base: "https://files.example.com",
			key:  "docs/Harwell Legal/Smith Co 4521/contract v2.pdf",
			want: "https://files.example.com/docs/Harwell%20Legal/Smith%20Co%204521/contract%20v2.pdf",
		},
		{
			name: "trailing slash on base",
			base: "https://files.example.com/",
			key:  "docs/a.pdf",
			want: "https://files.example.com/docs/a.pdf",
		},
		{
			name: "empty base disables public urls",
			base: "",
			key:  "docs/a.pdf",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PublicURL(tt.base, tt.key); got != tt.want {
				t.Errorf("PublicURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPGIdent(t *testing.T) {
	if got := pgIdent(`pro"ject`); got != `"pro""ject"` {
		t.Errorf("pgIdent() = %s", got)
	}
}
