// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/siteaudit/internal/store"
)

// DefaultTable holds one row per finished job and run.
const DefaultTable = "audit_jobs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ReportStoreConfig controls the Postgres connection pool used for audit rows.
type ReportStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ReportStore writes terminal job outcomes into Postgres.
type ReportStore struct {
	pool  execCloser
	table string
}

var _ store.ResultRepository = (*ReportStore)(nil)

// NewReportStore creates a Postgres-backed ReportStore using the provided config.
func NewReportStore(ctx context.Context, cfg ReportStoreConfig) (*ReportStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ReportStore{pool: pool, table: table}, nil
}

// NewReportStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewReportStoreWithPool(pool execCloser, table string) (*ReportStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ReportStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ReportStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the audit table when it does not exist yet.
func (s *ReportStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      uuid        NOT NULL,
	job_id      text        NOT NULL,
	url         text        NOT NULL,
	path        text        NOT NULL,
	status      text        NOT NULL,
	score       double precision,
	attempts    integer     NOT NULL DEFAULT 0,
	duration_ms bigint      NOT NULL DEFAULT 0,
	note        text,
	finished_at timestamptz NOT NULL,
	PRIMARY KEY (run_id, job_id)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// UpsertJobResult inserts a job outcome, replacing any earlier row for the same run and job.
func (s *ReportStore) UpsertJobResult(ctx context.Context, result store.JobResult) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("report store is not configured")
	}
	if result.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	job_id,
	url,
	path,
	status,
	score,
	attempts,
	duration_ms,
	note,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (run_id, job_id) DO UPDATE SET
	status = EXCLUDED.status,
	score = EXCLUDED.score,
	attempts = EXCLUDED.attempts,
	duration_ms = EXCLUDED.duration_ms,
	note = EXCLUDED.note,
	finished_at = EXCLUDED.finished_at`, s.table)

	args := []any{
		result.RunID,
		result.JobID,
		result.URL,
		result.Path,
		result.Status,
		result.Score,
		result.Attempts,
		result.Duration.Milliseconds(),
		result.Note,
		result.FinishedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert job result: %w", err)
	}
	return nil
}
