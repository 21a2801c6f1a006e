// Package source reads schema metadata and row batches from the SQL Server
// source database.
package source

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mhollis/docmigrate/internal/dbconfig"
	_ "github.com/microsoft/go-mssqldb"
)

// Pool manages connections to the source database.
type Pool struct {
	db     *sql.DB
	config *dbconfig.SourceConfig
}

// NewPool opens a connection pool against the source database.
func NewPool(cfg *dbconfig.SourceConfig, maxConns int) (*Pool, error) {
	db, err := sql.Open("sqlserver", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 4)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Pool{db: db, config: cfg}, nil
}

// Close closes all connections in the pool.
func (p *Pool) Close() error {
	return p.db.Close()
}

// ExtractSchema extracts metadata for every base table in the schema.
func (p *Pool) ExtractSchema(ctx context.Context) ([]Table, error) {
	query := `
		SELECT t.TABLE_SCHEMA, t.TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES t
		WHERE t.TABLE_TYPE = 'BASE TABLE'
		  AND t.TABLE_SCHEMA = @schema
		ORDER BY t.TABLE_NAME
	`

	rows, err := p.db.QueryContext(ctx, query, sql.Named("schema", p.config.Schema))
	if err != nil {
		return nil, fmt.Errorf("querying tables: %w", err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, fmt.Errorf("scanning table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tables {
		t := &tables[i]
		if err := p.loadColumns(ctx, t); err != nil {
			return nil, fmt.Errorf("loading columns for %s: %w", t.FullName(), err)
		}
		if err := p.loadPrimaryKey(ctx, t); err != nil {
			return nil, fmt.Errorf("loading PK for %s: %w", t.FullName(), err)
		}
		if err := p.loadForeignKeys(ctx, t); err != nil {
			return nil, fmt.Errorf("loading FKs for %s: %w", t.FullName(), err)
		}
		if err := p.loadRowCount(ctx, t); err != nil {
			return nil, fmt.Errorf("loading row count for %s: %w", t.FullName(), err)
		}
	}

	return tables, nil
}

func (p *Pool) loadColumns(ctx context.Context, t *Table) error {
	query := `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			ISNULL(CHARACTER_MAXIMUM_LENGTH, 0),
			ISNULL(NUMERIC_PRECISION, 0),
			ISNULL(NUMERIC_SCALE, 0),
			CASE WHEN IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
			COLUMNPROPERTY(OBJECT_ID(TABLE_SCHEMA + '.' + TABLE_NAME), COLUMN_NAME, 'IsIdentity'),
			ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @schema AND TABLE_NAME = @table
		ORDER BY ORDINAL_POSITION
	`

	rows, err := p.db.QueryContext(ctx, query,
		sql.Named("schema", t.Schema),
		sql.Named("table", t.Name))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.MaxLength, &c.Precision,
			&c.Scale, &c.IsNullable, &c.IsIdentity, &c.OrdinalPos); err != nil {
			return err
		}
		t.Columns = append(t.Columns, c)
	}

	return rows.Err()
}

func (p *Pool) loadPrimaryKey(ctx context.Context, t *Table) error {
	query := `
		SELECT c.COLUMN_NAME
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE c
			ON c.CONSTRAINT_NAME = tc.CONSTRAINT_NAME
			AND c.TABLE_SCHEMA = tc.TABLE_SCHEMA
			AND c.TABLE_NAME = tc.TABLE_NAME
		WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
		  AND tc.TABLE_SCHEMA = @schema
		  AND tc.TABLE_NAME = @table
		ORDER BY c.ORDINAL_POSITION
	`

	rows, err := p.db.QueryContext(ctx, query,
		sql.Named("schema", t.Schema),
		sql.Named("table", t.Name))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return err
		}
		t.PrimaryKey = append(t.PrimaryKey, col)
	}

	return rows.Err()
}

func (p *Pool) loadForeignKeys(ctx context.Context, t *Table) error {
	query := `
		SELECT
			fk.name,
			pc.name,
			rs.name,
			rt.name,
			rc.name
		FROM sys.foreign_keys fk
		JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
		JOIN sys.tables pt ON pt.object_id = fk.parent_object_id
		JOIN sys.schemas ps ON ps.schema_id = pt.schema_id
		JOIN sys.columns pc ON pc.object_id = pt.object_id AND pc.column_id = fkc.parent_column_id
		JOIN sys.tables rt ON rt.object_id = fk.referenced_object_id
		JOIN sys.schemas rs ON rs.schema_id = rt.schema_id
		JOIN sys.columns rc ON rc.object_id = rt.object_id AND rc.column_id = fkc.referenced_column_id
		WHERE ps.name = @schema AND pt.name = @table
		ORDER BY fk.name, fkc.constraint_column_id
	`

	rows, err := p.db.QueryContext(ctx, query,
		sql.Named("schema", t.Schema),
		sql.Named("table", t.Name))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Name, &fk.Column, &fk.RefSchema, &fk.RefTable, &fk.RefColumn); err != nil {
			return err
		}
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}

	return rows.Err()
}

func (p *Pool) loadRowCount(ctx context.Context, t *Table) error {
	// sys.partitions gives a fast approximate count; exactness is not
	// needed for progress totals.
	query := `
		SELECT ISNULL(SUM(p.rows), 0)
		FROM sys.partitions p
		JOIN sys.tables t ON p.object_id = t.object_id
		JOIN sys.schemas s ON t.schema_id = s.schema_id
		WHERE s.name = @schema AND t.name = @table AND p.index_id IN (0, 1)
	`

	return p.db.QueryRowContext(ctx, query,
		sql.Named("schema", t.Schema),
		sql.Named("table", t.Name)).Scan(&t.RowCount)
}
