package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements TaskStore on a PostgreSQL backend, for
// deployments where several scheduler processes share one queue.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a PostgresStore with a connection pool and
// creates the tasks table if it does not exist.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	config.MaxConns = 20
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	schema := `
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			config TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			started_at BIGINT,
			completed_at BIGINT,
			result TEXT,
			error TEXT,
			priority INT NOT NULL,
			retry_count INT NOT NULL,
			max_retries INT NOT NULL,
			timeout BIGINT
		)
	`
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create tasks table: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, task *Task) error {
	row, err := rowFromTask(task)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.pool.Exec(ctx, query,
		row.id, row.kind, row.status, row.config,
		row.createdAt, row.updatedAt, row.startedAt, row.completedAt,
		row.result, row.taskErr,
		int(task.Config.Priority), row.retryCount, task.Config.MaxRetries,
		nullTimeout(task.Config.TimeoutSeconds),
	)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", task.ID, err)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, task *Task) error {
	row, err := rowFromTask(task)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			status = EXCLUDED.status,
			config = EXCLUDED.config,
			updated_at = EXCLUDED.updated_at,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			priority = EXCLUDED.priority,
			retry_count = EXCLUDED.retry_count,
			max_retries = EXCLUDED.max_retries,
			timeout = EXCLUDED.timeout
	`
	_, err = s.pool.Exec(ctx, query,
		row.id, row.kind, row.status, row.config,
		row.createdAt, row.updatedAt, row.startedAt, row.completedAt,
		row.result, row.taskErr,
		int(task.Config.Priority), row.retryCount, task.Config.MaxRetries,
		nullTimeout(task.Config.TimeoutSeconds),
	)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", task.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	t, err := scanOne(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *PostgresStore) List(ctx context.Context, page Pagination) ([]*Task, error) {
	page = page.Check()
	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at ASC LIMIT $1 OFFSET $2`
	rows, err := s.pool.Query(ctx, query, page.Limit(), page.Offset())
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanAllPgx(rows)
}

// ClaimNextPending uses FOR UPDATE SKIP LOCKED so concurrent claimers on
// different processes never receive the same row.
func (s *PostgresStore) ClaimNextPending(ctx context.Context, kind Kind, limit int) ([]*Task, error) {
	now := millis(time.Now())
	query := `
		UPDATE tasks
		SET status = $1, updated_at = $2,
		    started_at = COALESCE(started_at, $2)
		WHERE id IN (
			SELECT id FROM tasks
			WHERE status = $3 AND kind = $4
			ORDER BY priority ASC, created_at ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns + `
	`
	rows, err := s.pool.Query(ctx, query,
		string(StatusProcessing), now, string(StatusPending), string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending tasks: %w", err)
	}
	defer rows.Close()

	claimed, err := scanAllPgx(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING does not guarantee row order
	sortByPriority(claimed)
	return claimed, nil
}

func (s *PostgresStore) FindByStatus(ctx context.Context, status Status) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = $1 ORDER BY priority ASC, created_at ASC`
	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("find tasks by status: %w", err)
	}
	defer rows.Close()
	return scanAllPgx(rows)
}

func (s *PostgresStore) FindTimedOut(ctx context.Context) ([]*Task, error) {
	query := `
		SELECT ` + taskColumns + ` FROM tasks
		WHERE status = $1
		  AND started_at IS NOT NULL
		  AND timeout IS NOT NULL
		  AND started_at + timeout * 1000 < $2
	`
	rows, err := s.pool.Query(ctx, query, string(StatusProcessing), millis(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("find timed out tasks: %w", err)
	}
	defer rows.Close()
	return scanAllPgx(rows)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status, taskErr string) error {
	now := millis(time.Now())
	query := `
		UPDATE tasks
		SET status = $1, updated_at = $2,
		    started_at = CASE WHEN $3 AND started_at IS NULL THEN $2 ELSE started_at END,
		    completed_at = CASE WHEN $4 AND completed_at IS NULL THEN $2 ELSE completed_at END,
		    error = CASE WHEN $5 THEN $6 ELSE error END
		WHERE id = $7
	`
	tag, err := s.pool.Exec(ctx, query,
		string(status), now,
		status == StatusProcessing,
		status.IsTerminal(),
		status == StatusFailed, encodeNullString(taskErr),
		id,
	)
	if err != nil {
		return fmt.Errorf("update status of task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) TransitionProcessing(ctx context.Context, id string, to Status, result *Result, taskErr string, retryCount int) (bool, error) {
	res, err := encodeResult(result)
	if err != nil {
		return false, err
	}
	now := millis(time.Now())
	query := `
		UPDATE tasks
		SET status = $1, updated_at = $2,
		    completed_at = CASE WHEN $3 AND completed_at IS NULL THEN $2 ELSE completed_at END,
		    error = CASE WHEN $4 THEN $5 ELSE error END,
		    result = $6, retry_count = $7
		WHERE id = $8 AND status = $9
	`
	tag, err := s.pool.Exec(ctx, query,
		string(to), now,
		to.IsTerminal(),
		to == StatusFailed, encodeNullString(taskErr),
		res, retryCount,
		id, string(StatusProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("settle task %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) UpdatePriority(ctx context.Context, id string, priority Priority) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin priority tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// the priority lives both in its own column (claim ordering) and inside
	// the config document, so the guarded update rewrites both
	var raw string
	err = tx.QueryRow(ctx,
		`SELECT config FROM tasks WHERE id = $1 AND status = $2 FOR UPDATE`,
		id, string(StatusPending),
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read config of task %s: %w", id, err)
	}

	var cfg TaskConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return false, fmt.Errorf("decode config for task %s: %w", id, err)
	}
	cfg.Priority = priority
	encoded, err := encodeConfig(cfg)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET priority = $1, config = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`, int(priority), encoded, millis(time.Now()), id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("update priority of task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	return true, tx.Commit(ctx)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Sweep(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM tasks WHERE status IN ($1, $2) AND updated_at < $3`
	tag, err := s.pool.Exec(ctx, query, string(StatusCompleted), string(StatusFailed), millis(before))
	if err != nil {
		return 0, fmt.Errorf("sweep old tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanAllPgx(rows pgx.Rows) ([]*Task, error) {
	var out []*Task
	for rows.Next() {
		var r taskRow
		var priority, maxRetries int
		var timeout sql.NullInt64
		err := rows.Scan(
			&r.id, &r.kind, &r.status, &r.config,
			&r.createdAt, &r.updatedAt, &r.startedAt, &r.completedAt,
			&r.result, &r.taskErr,
			&priority, &r.retryCount, &maxRetries, &timeout,
		)
		if err != nil {
			return nil, err
		}
		t, err := r.toTask()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
