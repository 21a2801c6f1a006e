// Package docs reads project rows and stamps resolved storage paths
// onto document rows in the destination database.
package docs

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mhollis/docmigrate/internal/config"
	"github.com/mhollis/docmigrate/internal/target"
)

// Project is one row of the migrated project table.
type Project struct {
	ID   int64
	Name string
}

// Store runs linking queries against the destination database.
type Store struct {
	pool   *target.Pool
	cfg    config.DocumentsConfig
	schema string
	bucket string
	public string
}

// NewStore creates a Store. publicBaseURL may be empty, in which case
// public URLs are not generated.
func NewStore(pool *target.Pool, cfg config.DocumentsConfig, bucket, publicBaseURL string) *Store {
	return &Store{
		pool:   pool,
		cfg:    cfg,
		schema: pool.Schema(),
		bucket: bucket,
		public: strings.TrimRight(publicBaseURL, "/"),
	}
}

// Projects returns every project with a non-empty display name plus
// its id, ordered by id for deterministic linking.
func (s *Store) Projects(ctx context.Context) ([]Project, error) {
	q := fmt.Sprintf(`SELECT %s, COALESCE(%s, '') FROM %s.%s ORDER BY %s`,
		pgIdent(s.cfg.ProjectIDColumn), pgIdent(s.cfg.ProjectNameColumn),
		pgIdent(s.schema), pgIdent(s.cfg.ProjectTable), pgIdent(s.cfg.ProjectIDColumn))

	rows, err := s.pool.Pool().Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("loading projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LinkDocuments sets storage_path, storage_url, public_url, and
// is_migrated on every document of the project that has a filename.
// Returns how many rows were updated. Re-running is a no-op for rows
// already carrying the same path.
func (s *Store) LinkDocuments(ctx context.Context, projectID int64, folderPrefix string) (int64, error) {
	doc := pgIdent(s.schema) + "." + pgIdent(s.cfg.DocTable)
	fn := pgIdent(s.cfg.FilenameColumn)

	q := fmt.Sprintf(`
		UPDATE %s SET
			storage_path = $2 || %s,
			storage_url = 's3://' || $3 || '/' || $2 || %s,
			public_url = CASE WHEN $4 = '' THEN public_url ELSE $4 || '/' || $2 || %s END,
			is_migrated = TRUE
		WHERE %s = $1 AND %s IS NOT NULL AND %s <> ''
		  AND (storage_path IS DISTINCT FROM $2 || %s)`,
		doc, fn, fn, fn,
		pgIdent(s.cfg.ProjectIDColumn), fn, fn, fn)

	tag, err := s.pool.Pool().Exec(ctx, q, projectID, folderPrefix, s.bucket, s.public)
	if err != nil {
		return 0, fmt.Errorf("linking documents for project %d: %w", projectID, err)
	}
	return tag.RowsAffected(), nil
}

// Filenames returns up to limit document filenames for a project, used
// to probe the fallback folder.
func (s *Store) Filenames(ctx context.Context, projectID int64, limit int) ([]string, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM %s.%s
		WHERE %s = $1 AND %s IS NOT NULL AND %s <> ''
		ORDER BY %s LIMIT $2`,
		pgIdent(s.cfg.FilenameColumn),
		pgIdent(s.schema), pgIdent(s.cfg.DocTable),
		pgIdent(s.cfg.ProjectIDColumn),
		pgIdent(s.cfg.FilenameColumn), pgIdent(s.cfg.FilenameColumn),
		pgIdent(s.cfg.FilenameColumn))

	rows, err := s.pool.Pool().Query(ctx, q, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func pgIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// ObjectKey joins a folder prefix and filename into a storage key.
func ObjectKey(folderPrefix, filename string) string {
	return folderPrefix + filename
}

// StorageURL renders the s3:// URL for a key.
func StorageURL(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

// PublicURL renders the browser-facing URL for a key, percent-encoding
// each path segment. Empty base yields an empty URL.
func PublicURL(base, key string) string {
	if base == "" {
		return ""
	}
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(parts, "/")
}
