// Package config loads and validates the migration configuration.
//
// Configuration is a YAML file, optionally overlaid with a .env file and
// environment variables for credentials so secrets stay out of checked-in
// config. Validation runs before any store connection is opened.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mhollis/docmigrate/internal/dbconfig"
	"gopkg.in/yaml.v3"
)

// Config is the complete tool configuration.
type Config struct {
	Source    dbconfig.SourceConfig `yaml:"source"`
	Target    dbconfig.TargetConfig `yaml:"target"`
	Storage   StorageConfig         `yaml:"storage"`
	Migration MigrationConfig       `yaml:"migration"`
	Resolver  ResolverConfig        `yaml:"resolver"`
	Documents DocumentsConfig       `yaml:"documents"`
}

// StorageConfig holds object-store settings for the linking phase.
type StorageConfig struct {
	Bucket string `yaml:"bucket"`
	// Root is the folder prefix under which per-project folders live,
	// e.g. "docs/Harwell Legal". No trailing slash.
	Root string `yaml:"root"`
	// Region is the bucket region, used when no ambient AWS config applies.
	Region string `yaml:"region"`
	// Endpoint overrides the S3 endpoint for S3-compatible stores.
	Endpoint string `yaml:"endpoint"`
	// PublicBaseURL is the host used to build public document URLs,
	// e.g. "https://storage.example.com".
	PublicBaseURL string `yaml:"public_base_url"`
}

// MigrationConfig holds execution parameters for the transfer phases.
type MigrationConfig struct {
	BatchSize     int      `yaml:"batch_size"`
	Workers       int      `yaml:"workers"`
	MaxAttempts   int      `yaml:"max_attempts"`
	BackoffBaseMS int      `yaml:"backoff_base_ms"`
	BackoffMaxMS  int      `yaml:"backoff_max_ms"`
	StateFile     string   `yaml:"state_file"`
	ExcludeTables []string `yaml:"exclude_tables"`
	// ExtrasTables are migrated by the extras phase after linking
	// (custom field values, notes and similar auxiliaries).
	ExtrasTables []string `yaml:"extras_tables"`
}

// ResolverConfig tunes project-to-folder resolution.
type ResolverConfig struct {
	// SimilarityThreshold is the minimum Jaro-Winkler score for the
	// lowest confidence tier. 0 < threshold <= 1.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// VariantPrefixes are folder-name prefixes that historically wrapped
	// project names, e.g. "Solar - ".
	VariantPrefixes []string `yaml:"variant_prefixes"`
	// FallbackFolder, when set, is checked last for projects whose
	// documents were filed without a project folder.
	FallbackFolder string `yaml:"fallback_folder"`
}

// DocumentsConfig names the tables and columns involved in document linking.
type DocumentsConfig struct {
	ProjectTable      string `yaml:"project_table"`
	ProjectNameColumn string `yaml:"project_name_column"`
	DocTable          string `yaml:"doc_table"`
	FilenameColumn    string `yaml:"filename_column"`
	ProjectIDColumn   string `yaml:"project_id_column"`
}

// Load reads the YAML config at path, overlays .env and environment
// variables, applies defaults, and validates.
func Load(path string) (*Config, error) {
	// Missing .env is fine; explicit config errors are not.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}

	return &cfg, nil
}

// applyEnv overrides credential fields from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("DOCMIGRATE_SOURCE_PASSWORD"); v != "" {
		c.Source.Password = v
	}
	if v := os.Getenv("DOCMIGRATE_SOURCE_USER"); v != "" {
		c.Source.User = v
	}
	if v := os.Getenv("DOCMIGRATE_TARGET_PASSWORD"); v != "" {
		c.Target.Password = v
	}
	if v := os.Getenv("DOCMIGRATE_TARGET_USER"); v != "" {
		c.Target.User = v
	}
	if v := os.Getenv("DOCMIGRATE_STORAGE_BUCKET"); v != "" {
		c.Storage.Bucket = v
	}
}

func (c *Config) applyDefaults() {
	if c.Source.Port == 0 {
		c.Source.Port = 1433
	}
	if c.Source.Schema == "" {
		c.Source.Schema = "dbo"
	}
	if c.Target.Port == 0 {
		c.Target.Port = 5432
	}
	if c.Target.Schema == "" {
		c.Target.Schema = "public"
	}
	if c.Migration.BatchSize <= 0 {
		c.Migration.BatchSize = 1000
	}
	if c.Migration.Workers <= 0 {
		c.Migration.Workers = 5
	}
	if c.Migration.MaxAttempts <= 0 {
		c.Migration.MaxAttempts = 4
	}
	if c.Migration.BackoffBaseMS <= 0 {
		c.Migration.BackoffBaseMS = 500
	}
	if c.Migration.BackoffMaxMS <= 0 {
		c.Migration.BackoffMaxMS = 30000
	}
	if c.Migration.StateFile == "" {
		c.Migration.StateFile = "docmigrate.db"
	}
	if c.Resolver.SimilarityThreshold <= 0 {
		c.Resolver.SimilarityThreshold = 0.85
	}
	if c.Documents.ProjectTable == "" {
		c.Documents.ProjectTable = "project"
	}
	if c.Documents.ProjectNameColumn == "" {
		c.Documents.ProjectNameColumn = "projectname"
	}
	if c.Documents.DocTable == "" {
		c.Documents.DocTable = "doc"
	}
	if c.Documents.FilenameColumn == "" {
		c.Documents.FilenameColumn = "filename"
	}
	if c.Documents.ProjectIDColumn == "" {
		c.Documents.ProjectIDColumn = "projectid"
	}
}

// Validate returns a list of configuration problems. An empty list means
// the configuration is usable.
func (c *Config) Validate() []string {
	var errs []string
	if c.Source.Host == "" {
		errs = append(errs, "source.host is required")
	}
	if c.Source.Database == "" {
		errs = append(errs, "source.database is required")
	}
	if c.Source.User == "" {
		errs = append(errs, "source.user is required")
	}
	if c.Target.Host == "" {
		errs = append(errs, "target.host is required")
	}
	if c.Target.Database == "" {
		errs = append(errs, "target.database is required")
	}
	if c.Target.User == "" {
		errs = append(errs, "target.user is required")
	}
	if c.Storage.Bucket == "" {
		errs = append(errs, "storage.bucket is required")
	}
	if c.Storage.Root == "" {
		errs = append(errs, "storage.root is required")
	}
	if strings.HasSuffix(c.Storage.Root, "/") {
		errs = append(errs, "storage.root must not end with /")
	}
	if c.Resolver.SimilarityThreshold > 1 {
		errs = append(errs, "resolver.similarity_threshold must be <= 1")
	}
	return errs
}
