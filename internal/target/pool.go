package target

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mhollis/docmigrate/internal/dbconfig"
)

// Pool manages a pool of PostgreSQL connections
type Pool struct {
	pool   *pgxpool.Pool
	config *dbconfig.TargetConfig
}

// NewPool creates a new PostgreSQL connection pool
func NewPool(cfg *dbconfig.TargetConfig, maxConns int) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}

	poolCfg.MaxConns = int32(maxConns)
	poolCfg.MinConns = int32(maxConns / 4)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Pool{pool: pool, config: cfg}, nil
}

// Close closes all connections in the pool
func (p *Pool) Close() {
	p.pool.Close()
}

// Pool returns the underlying pgxpool
func (p *Pool) Pool() *pgxpool.Pool {
	return p.pool
}

// Schema returns the configured target schema.
func (p *Pool) Schema() string {
	return p.config.Schema
}
