// Package postgres stores the sync history in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/zeit-on-tolino/internal/epaper"
)

const defaultTable = "sync_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for run rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// RunStore writes and reads sync runs.
type RunStore struct {
	pool  pool
	table string
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: p, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the run table when it does not exist yet.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id          TEXT PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	status      TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	sha256      TEXT NOT NULL DEFAULT '',
	size_bytes  BIGINT NOT NULL DEFAULT 0,
	archive_uri TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT ''
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Record inserts one run row.
func (s *RunStore) Record(ctx context.Context, run epaper.RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	started_at,
	finished_at,
	status,
	title,
	sha256,
	size_bytes,
	archive_uri,
	error
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.table)

	args := []any{
		run.ID,
		run.StartedAt,
		run.FinishedAt,
		string(run.Status),
		run.Title,
		run.SHA256,
		run.SizeBytes,
		run.ArchiveURI,
		run.Error,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *RunStore) Recent(ctx context.Context, limit int) ([]epaper.RunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	query := fmt.Sprintf(`
SELECT id, started_at, finished_at, status, title, sha256, size_bytes, archive_uri, error
FROM %s
ORDER BY started_at DESC
LIMIT $1`, s.table)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []epaper.RunRecord
	for rows.Next() {
		var (
			run    epaper.RunRecord
			status string
		)
		if err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&status,
			&run.Title,
			&run.SHA256,
			&run.SizeBytes,
			&run.ArchiveURI,
			&run.Error,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = epaper.RunStatus(status)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
