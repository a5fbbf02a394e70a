// Package postgres provides a Postgres-backed job store for deployments
// where job metadata must outlive a single node.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foldworks/designd/internal/design"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const uniqueViolation = "23505"

// Config controls the Postgres connection pool used for job rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements design.JobStore on Postgres. Whole rows are written per
// update; the manager serializes mutations per job id, so plain row updates
// are sufficient here.
type Store struct {
	pool  pool
	table string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "design_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, table: table}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "design_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the jobs table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id          text PRIMARY KEY,
	kind        text NOT NULL,
	name        text NOT NULL DEFAULT '',
	state       text NOT NULL,
	created_at  timestamptz NOT NULL,
	started_at  timestamptz,
	finished_at timestamptz,
	workdir     text NOT NULL DEFAULT '',
	command     jsonb NOT NULL DEFAULT '{}',
	exit_code   integer,
	error_text  text NOT NULL DEFAULT '',
	results     jsonb NOT NULL DEFAULT '[]'
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job design.Job) error {
	commandJSON, resultsJSON, err := encodeJSONFields(job)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, kind, name, state, created_at, started_at, finished_at,
	workdir, command, exit_code, error_text, results
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, s.table)
	_, err = s.pool.Exec(ctx, query,
		job.ID, string(job.Kind), job.Name, string(job.State),
		job.CreatedAt, job.StartedAt, job.FinishedAt,
		job.Workdir, commandJSON, job.ExitCode, job.ErrorText, resultsJSON,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return design.ErrDuplicateJob
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob reads the row, applies mutate, and writes the whole row back.
func (s *Store) UpdateJob(ctx context.Context, id string, mutate func(*design.Job)) (design.Job, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return design.Job{}, err
	}
	mutate(&job)

	commandJSON, resultsJSON, err := encodeJSONFields(job)
	if err != nil {
		return design.Job{}, err
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	kind = $2, name = $3, state = $4, created_at = $5, started_at = $6,
	finished_at = $7, workdir = $8, command = $9, exit_code = $10,
	error_text = $11, results = $12
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		job.ID, string(job.Kind), job.Name, string(job.State),
		job.CreatedAt, job.StartedAt, job.FinishedAt,
		job.Workdir, commandJSON, job.ExitCode, job.ErrorText, resultsJSON,
	)
	if err != nil {
		return design.Job{}, fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return design.Job{}, design.ErrJobNotFound
	}
	return job, nil
}

// GetJob fetches a job row by id.
func (s *Store) GetJob(ctx context.Context, id string) (design.Job, error) {
	query := fmt.Sprintf(`
SELECT id, kind, name, state, created_at, started_at, finished_at,
	workdir, command, exit_code, error_text, results
FROM %s WHERE id = $1`, s.table)
	job, err := scanJob(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return design.Job{}, design.ErrJobNotFound
		}
		return design.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// ListJobs returns job rows ordered by created_at ascending, id as tiebreak.
func (s *Store) ListJobs(ctx context.Context, filter design.JobState) ([]design.Job, error) {
	query := fmt.Sprintf(`
SELECT id, kind, name, state, created_at, started_at, finished_at,
	workdir, command, exit_code, error_text, results
FROM %s`, s.table)
	args := []any{}
	if filter != "" {
		query += " WHERE state = $1"
		args = append(args, string(filter))
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []design.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return out, nil
}

func encodeJSONFields(job design.Job) (command, results []byte, err error) {
	command, err = json.Marshal(job.Command)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal command: %w", err)
	}
	if job.Results == nil {
		results = []byte("[]")
	} else if results, err = json.Marshal(job.Results); err != nil {
		return nil, nil, fmt.Errorf("marshal results: %w", err)
	}
	return command, results, nil
}

func scanJob(row pgx.Row) (design.Job, error) {
	var (
		job          design.Job
		kind, state  string
		commandJSON  []byte
		resultsJSON  []byte
	)
	err := row.Scan(
		&job.ID, &kind, &job.Name, &state,
		&job.CreatedAt, &job.StartedAt, &job.FinishedAt,
		&job.Workdir, &commandJSON, &job.ExitCode, &job.ErrorText, &resultsJSON,
	)
	if err != nil {
		return design.Job{}, err
	}
	job.Kind = design.Kind(kind)
	job.State = design.JobState(state)
	if err := json.Unmarshal(commandJSON, &job.Command); err != nil {
		return design.Job{}, fmt.Errorf("decode command: %w", err)
	}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &job.Results); err != nil {
			return design.Job{}, fmt.Errorf("decode results: %w", err)
		}
	}
	if len(job.Results) == 0 {
		job.Results = nil
	}
	return job, nil
}
