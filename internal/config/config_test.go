package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalYAML = `
source:
  host: mssql.internal
  database: cases
  user: reader
  password: pw
target:
  host: pg.internal
  database: cases
  user: migrator
  password: pw
storage:
  bucket: case-docs
  root: docs/Harwell Legal
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Source.Port != 1433 {
		t.Errorf("Source.Port = %d, want 1433", cfg.Source.Port)
	}
	if cfg.Source.Schema != "dbo" {
		t.Errorf("Source.Schema = %q, want dbo", cfg.Source.Schema)
	}
	if cfg.Target.Port != 5432 {
		t.Errorf("Target.Port = %d, want 5432", cfg.Target.Port)
	}
	if cfg.Migration.BatchSize != 1000 {
		t.Errorf("Migration.BatchSize = %d, want 1000", cfg.Migration.BatchSize)
	}
	if cfg.Migration.Workers != 5 {
		t.Errorf("Migration.Workers = %d, want 5", cfg.Migration.Workers)
	}
	if cfg.Migration.MaxAttempts != 4 {
		t.Errorf("Migration.MaxAttempts = %d, want 4", cfg.Migration.MaxAttempts)
	}
	if cfg.Resolver.SimilarityThreshold != 0.85 {
		t.Errorf("Resolver.SimilarityThreshold = %v, want 0.85", cfg.Resolver.SimilarityThreshold)
	}
	if cfg.Documents.DocTable != "doc" {
		t.Errorf("Documents.DocTable = %q, want doc", cfg.Documents.DocTable)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "missing source host",
			mutate:  func(s string) string { return strings.Replace(s, "host: mssql.internal", "host: \"\"", 1) },
			wantErr: "source.host",
		},
		{
			name:    "missing bucket",
			mutate:  func(s string) string { return strings.Replace(s, "bucket: case-docs", "bucket: \"\"", 1) },
			wantErr: "storage.bucket",
		},
		{
			name:    "root with trailing slash",
			mutate:  func(s string) string { return strings.Replace(s, "root: docs/Harwell Legal", "root: docs/Harwell Legal/", 1) },
			wantErr: "storage.root",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.mutate(minimalYAML)))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOverridesPassword(t *testing.T) {
	t.Setenv("DOCMIGRATE_SOURCE_PASSWORD", "from-env")
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Source.Password != "from-env" {
		t.Errorf("Source.Password = %q, want from-env", cfg.Source.Password)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}
