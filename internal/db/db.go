package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB wraps the database connection pool
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// A search records a handful of rows per run
	config.MaxConns = 4
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("host", config.ConnConfig.Host).Msg("connected to database")

	return &DB{pool: pool}, nil
}

// Wrap adapts an existing pool
func Wrap(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

// Close closes the database connection
func (db *DB) Close() {
	db.pool.Close()
}

// Pool returns the underlying connection pool
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// HealthCheck verifies database connectivity
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Schema creates the tables the run store needs
const Schema = `
CREATE TABLE IF NOT EXISTS search_runs (
	id UUID PRIMARY KEY,
	algorithm TEXT NOT NULL,
	scope TEXT NOT NULL DEFAULT '*',
	criteria TEXT[] NOT NULL DEFAULT '{}',
	seed BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'running',
	config JSONB NOT NULL DEFAULT '{}',
	iterations INTEGER NOT NULL DEFAULT 0,
	executions INTEGER NOT NULL DEFAULT 0,
	covered_goals INTEGER NOT NULL DEFAULT 0,
	total_goals INTEGER NOT NULL DEFAULT 0,
	coverage DOUBLE PRECISION NOT NULL DEFAULT 0,
	fitness DOUBLE PRECISION NOT NULL DEFAULT 0,
	report JSONB,
	error_message TEXT,
	started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	completed_at TIMESTAMP WITH TIME ZONE
);

CREATE INDEX IF NOT EXISTS idx_search_runs_started_at ON search_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_search_runs_status ON search_runs(status);
`

// Migrate applies the schema
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
