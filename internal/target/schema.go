package target

import (
	"context"
	"fmt"
	"strings"

	"github.com/mhollis/docmigrate/internal/source"
)

// pgType maps a SQL Server column to its PostgreSQL type.
func pgType(c *source.Column) string {
	switch strings.ToLower(c.DataType) {
	case "int":
		return "integer"
	case "bigint":
		return "bigint"
	case "smallint", "tinyint":
		return "smallint"
	case "bit":
		return "boolean"
	case "decimal", "numeric":
		if c.Precision > 0 {
			return fmt.Sprintf("numeric(%d,%d)", c.Precision, c.Scale)
		}
		return "numeric"
	case "money":
		return "numeric(19,4)"
	case "smallmoney":
		return "numeric(10,4)"
	case "float":
		return "double precision"
	case "real":
		return "real"
	case "date":
		return "date"
	case "time":
		return "time"
	case "datetime", "datetime2", "smalldatetime", "datetimeoffset":
		return "timestamptz"
	case "uniqueidentifier":
		return "uuid"
	case "binary", "varbinary", "image", "timestamp", "rowversion":
		return "bytea"
	case "char", "nchar":
		if c.MaxLength > 0 {
			return fmt.Sprintf("char(%d)", c.MaxLength)
		}
		return "text"
	case "varchar", "nvarchar":
		// -1 is (max); unbounded text either way
		if c.MaxLength > 0 {
			return fmt.Sprintf("varchar(%d)", c.MaxLength)
		}
		return "text"
	default:
		// text, ntext, xml, sql_variant and anything unrecognized
		return "text"
	}
}

// GenerateDDL builds a CREATE TABLE statement for the target database.
// Column names are lowercased; types follow pgType.
func GenerateDDL(t *source.Table, targetSchema string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", qualifyPGTable(targetSchema, strings.ToLower(t.Name)))
	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "    %s %s", quotePGIdent(strings.ToLower(c.Name)), pgType(&c))
		if !c.IsNullable {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString("\n)")
	return b.String()
}

// CreateSchema creates the target schema if it doesn't exist
func (p *Pool) CreateSchema(ctx context.Context, schema string) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quotePGIdent(schema)))
	return err
}

// CreateTable creates a table from source metadata
func (p *Pool) CreateTable(ctx context.Context, t *source.Table, targetSchema string) error {
	ddl := GenerateDDL(t, targetSchema)

	_, err := p.pool.Exec(ctx, ddl)
	if err != nil {
		return fmt.Errorf("creating table %s: %w", t.FullName(), err)
	}

	return nil
}

// CreatePrimaryKey creates a primary key on the table. Idempotent: an
// already-present constraint is not an error.
func (p *Pool) CreatePrimaryKey(ctx context.Context, t *source.Table, targetSchema string) error {
	if len(t.PrimaryKey) == 0 {
		return nil
	}

	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_constraint c
			JOIN pg_class r ON r.oid = c.conrelid
			JOIN pg_namespace n ON n.oid = r.relnamespace
			WHERE c.contype = 'p' AND n.nspname = $1 AND r.relname = $2
		)`, targetSchema, strings.ToLower(t.Name)).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	pkCols := make([]string, len(t.PrimaryKey))
	for i, col := range t.PrimaryKey {
		pkCols[i] = quotePGIdent(strings.ToLower(col))
	}

	sql := fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)",
		qualifyPGTable(targetSchema, strings.ToLower(t.Name)), strings.Join(pkCols, ", "))

	_, err = p.pool.Exec(ctx, sql)
	return err
}

// TruncateTable truncates a table
func (p *Pool) TruncateTable(ctx context.Context, schema, table string) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", qualifyPGTable(schema, table)))
	return err
}
