package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ahmethakanbesel/diadict/internal/apperror"
	domain "github.com/ahmethakanbesel/diadict/internal/job"
)

const (
	timeFormat = "2006-01-02T15:04:05Z"
	columns    = `id, kind, identity, params, state, status, method, message,
		read_count, skipped_count, created_at, updated_at`
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, j *domain.Job) error {
	const query = `INSERT INTO jobs (kind, identity, params, state, status, method, message, read_count, skipped_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	params, err := json.Marshal(j.Params)
	if err != nil {
		return fmt.Errorf("create job: encode params: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query,
		j.Kind, j.Identity, string(params), string(j.State),
		j.Status, j.Method, j.Message, j.Read, j.Skipped,
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	j.ID, _ = res.LastInsertId()
	j.CreatedAt = time.Now().UTC().Truncate(time.Second)
	j.UpdatedAt = j.CreatedAt
	return nil
}

func (r *Repository) Update(ctx context.Context, j *domain.Job) error {
	const query = `UPDATE jobs SET state = ?, status = ?, method = ?, message = ?,
		read_count = ?, skipped_count = ?,
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE id = ?`

	_, err := r.db.ExecContext(ctx, query,
		string(j.State), j.Status, j.Method, j.Message, j.Read, j.Skipped, j.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	j.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	return nil
}

func (r *Repository) Get(ctx context.Context, id int64) (*domain.Job, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (r *Repository) List(ctx context.Context, kind string) ([]domain.Job, error) {
	query := `SELECT ` + columns + ` FROM jobs WHERE 1=1`

	var args []any
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY id DESC LIMIT 100"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *Repository) Latest(ctx context.Context, kind, identity string) (*domain.Job, error) {
	return r.findOne(ctx, `SELECT `+columns+` FROM jobs
		WHERE kind = ? AND identity = ?
		ORDER BY id DESC LIMIT 1`, kind, identity)
}

func (r *Repository) FindActive(ctx context.Context, kind, identity string) (*domain.Job, error) {
	return r.findOne(ctx, `SELECT `+columns+` FROM jobs
		WHERE kind = ? AND identity = ?
		  AND state IN ('pending', 'running')
		ORDER BY id DESC LIMIT 1`, kind, identity)
}

func (r *Repository) findOne(ctx context.Context, query string, args ...any) (*domain.Job, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	return j, nil
}

func (r *Repository) ClaimPending(ctx context.Context) (*domain.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim pending: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM jobs WHERE state = 'pending' ORDER BY id ASC LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim pending: select: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET state = 'running', status = CASE WHEN status = '' THEN 'running' ELSE status END, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now') WHERE id = ?`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("claim pending: update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim pending: commit: %w", err)
	}

	return r.Get(ctx, id)
}

func (r *Repository) FailUnfinished(ctx context.Context, msg string) (int64, error) {
	const query = `UPDATE jobs SET state = 'error', status = 'error', message = ?,
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE state IN ('pending', 'running')`

	res, err := r.db.ExecContext(ctx, query, msg)
	if err != nil {
		return 0, fmt.Errorf("fail unfinished jobs: %w", err)
	}
	return res.RowsAffected()
}

func (r *Repository) DeleteFinishedBefore(ctx context.Context, t time.Time) (int64, error) {
	const query = `DELETE FROM jobs WHERE state IN ('done', 'error') AND updated_at < ?`

	res, err := r.db.ExecContext(ctx, query, t.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*domain.Job, error) {
	j := &domain.Job{}
	var params, state, createdStr, updatedStr string

	if err := s.Scan(
		&j.ID, &j.Kind, &j.Identity, &params, &state,
		&j.Status, &j.Method, &j.Message,
		&j.Read, &j.Skipped, &createdStr, &updatedStr,
	); err != nil {
		return nil, err
	}

	j.State = domain.State(state)
	if err := json.Unmarshal([]byte(params), &j.Params); err != nil {
		return nil, fmt.Errorf("decode params of job %d: %w", j.ID, err)
	}
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	return j, nil
}
