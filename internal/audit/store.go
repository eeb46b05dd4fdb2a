// Package audit records one summary row per provisioning call. Parameter and
// secret values are never stored; only their names are.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/open-sspm/egress-provisioner/internal/provision"
)

const defaultListLimit = 50

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Record is a stored run.
type Record struct {
	ID            uuid.UUID
	PluginFQN     string
	Slug          string
	Path          string
	Status        string
	FailedStep    string
	FailureKind   string
	Message       string
	ParameterKeys []string
	SecretKeys    []string
	StartedAt     time.Time
	FinishedAt    time.Time
}

func (r Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

type Store struct {
	db    DB
	newID func() uuid.UUID
}

var _ provision.RunRecorder = (*Store)(nil)

func NewStore(db DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("audit db is nil")
	}
	return &Store{db: db, newID: uuid.New}, nil
}

const insertRunSQL = `INSERT INTO provision_runs
    (id, plugin_fqn, slug, path, status, failed_step, failure_kind, message, parameter_keys, secret_keys, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

func (s *Store) RecordRun(ctx context.Context, run provision.Run) error {
	paramKeys := run.ParameterKeys
	if paramKeys == nil {
		paramKeys = []string{}
	}
	secretKeys := run.SecretKeys
	if secretKeys == nil {
		secretKeys = []string{}
	}
	_, err := s.db.Exec(ctx, insertRunSQL,
		s.newID(),
		run.PluginFQN,
		run.Slug,
		string(run.Path),
		run.Status,
		string(run.FailedStep),
		string(run.FailureKind),
		run.Message,
		paramKeys,
		secretKeys,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert provision run: %w", err)
	}
	return nil
}

type ListOptions struct {
	Slug  string
	Limit int
}

const listRunsSQL = `SELECT id, plugin_fqn, slug, path, status, failed_step, failure_kind, message,
       parameter_keys, secret_keys, started_at, finished_at
FROM provision_runs
WHERE ($1 = '' OR slug = $1)
ORDER BY started_at DESC
LIMIT $2`

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, opts ListOptions) ([]Record, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.Query(ctx, listRunsSQL, strings.TrimSpace(opts.Slug), limit)
	if err != nil {
		return nil, fmt.Errorf("list provision runs: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.ID, &r.PluginFQN, &r.Slug, &r.Path, &r.Status, &r.FailedStep, &r.FailureKind, &r.Message,
			&r.ParameterKeys, &r.SecretKeys, &r.StartedAt, &r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan provision run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list provision runs: %w", err)
	}
	return out, nil
}
