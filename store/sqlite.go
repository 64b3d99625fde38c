package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements TaskStore on a local SQLite database. It is the
// default durable backend (ASR_SQLITE_PATH).
type SQLiteStore struct {
	db *sql.DB
	// claimMu serializes the claim critical section; SQLite has no
	// SELECT ... FOR UPDATE, so the select-then-update pair is guarded here.
	claimMu sync.Mutex
}

const taskColumns = "id, kind, status, config, created_at, updated_at, started_at, completed_at, result, error, priority, retry_count, max_retries, timeout"

// NewSQLiteStore opens (creating if needed) the database at the given URL.
// Accepts both "sqlite://path?opts" and a bare filesystem path.
func NewSQLiteStore(ctx context.Context, databaseURL string) (*SQLiteStore, error) {
	dsn := databaseURL
	if rest, ok := strings.CutPrefix(databaseURL, "sqlite://"); ok {
		dsn = "file:" + rest
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// The sqlite driver serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent workers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			config TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			started_at INTEGER,
			completed_at INTEGER,
			result TEXT,
			error TEXT,
			priority INTEGER NOT NULL,
			retry_count INTEGER NOT NULL,
			max_retries INTEGER NOT NULL,
			timeout INTEGER
		)
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tasks table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Insert(ctx context.Context, task *Task) error {
	row, err := rowFromTask(task)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
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

func (s *SQLiteStore) Upsert(ctx context.Context, task *Task) error {
	row, err := rowFromTask(task)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			kind = excluded.kind,
			status = excluded.status,
			config = excluded.config,
			updated_at = excluded.updated_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			result = excluded.result,
			error = excluded.error,
			priority = excluded.priority,
			retry_count = excluded.retry_count,
			max_retries = excluded.max_retries,
			timeout = excluded.timeout
	`
	_, err = s.db.ExecContext(ctx, query,
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

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	t, err := scanOne(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *SQLiteStore) List(ctx context.Context, page Pagination) ([]*Task, error) {
	page = page.Check()
	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at ASC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, page.Limit(), page.Offset())
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

func (s *SQLiteStore) ClaimNextPending(ctx context.Context, kind Kind, limit int) ([]*Task, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT id FROM tasks
		WHERE status = ? AND kind = ?
		ORDER BY priority ASC, created_at ASC
		LIMIT ?
	`
	rows, err := tx.QueryContext(ctx, query, string(StatusPending), string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("select pending tasks: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	now := millis(time.Now())
	update := `
		UPDATE tasks
		SET status = ?, updated_at = ?,
		    started_at = COALESCE(started_at, ?)
		WHERE id = ? AND status = ?
	`
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, update, string(StatusProcessing), now, now, id, string(StatusPending)); err != nil {
			return nil, fmt.Errorf("claim task %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	claimed := make([]*Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if t != nil {
			claimed = append(claimed, t)
		}
	}
	return claimed, nil
}

func (s *SQLiteStore) FindByStatus(ctx context.Context, status Status) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = ? ORDER BY priority ASC, created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("find tasks by status: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

func (s *SQLiteStore) FindTimedOut(ctx context.Context) ([]*Task, error) {
	query := `
		SELECT ` + taskColumns + ` FROM tasks
		WHERE status = ?
		  AND started_at IS NOT NULL
		  AND timeout IS NOT NULL
		  AND started_at + timeout * 1000 < ?
	`
	rows, err := s.db.QueryContext(ctx, query, string(StatusProcessing), millis(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("find timed out tasks: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status Status, taskErr string) error {
	now := millis(time.Now())
	query := `
		UPDATE tasks
		SET status = ?, updated_at = ?,
		    started_at = CASE WHEN ? AND started_at IS NULL THEN ? ELSE started_at END,
		    completed_at = CASE WHEN ? AND completed_at IS NULL THEN ? ELSE completed_at END,
		    error = CASE WHEN ? THEN ? ELSE error END
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		string(status), now,
		status == StatusProcessing, now,
		status.IsTerminal(), now,
		status == StatusFailed, encodeNullString(taskErr),
		id,
	)
	if err != nil {
		return fmt.Errorf("update status of task %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) TransitionProcessing(ctx context.Context, id string, to Status, result *Result, taskErr string, retryCount int) (bool, error) {
	res, err := encodeResult(result)
	if err != nil {
		return false, err
	}
	now := millis(time.Now())
	query := `
		UPDATE tasks
		SET status = ?, updated_at = ?,
		    completed_at = CASE WHEN ? AND completed_at IS NULL THEN ? ELSE completed_at END,
		    error = CASE WHEN ? THEN ? ELSE error END,
		    result = ?, retry_count = ?
		WHERE id = ? AND status = ?
	`
	out, err := s.db.ExecContext(ctx, query,
		string(to), now,
		to.IsTerminal(), now,
		to == StatusFailed, encodeNullString(taskErr),
		res, retryCount,
		id, string(StatusProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("settle task %s: %w", id, err)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) UpdatePriority(ctx context.Context, id string, priority Priority) (bool, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin priority tx: %w", err)
	}
	defer tx.Rollback()

	// the priority lives both in its own column (claim ordering) and inside
	// the config document, so the guarded update rewrites both
	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT config FROM tasks WHERE id = ? AND status = ?`,
		id, string(StatusPending),
	).Scan(&raw)
	if err == sql.ErrNoRows {
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

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET priority = ?, config = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, int(priority), encoded, millis(time.Now()), id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("update priority of task %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}
	return true, tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Sweep(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM tasks WHERE status IN (?, ?) AND updated_at < ?`
	res, err := s.db.ExecContext(ctx, query, string(StatusCompleted), string(StatusFailed), millis(before))
	if err != nil {
		return 0, fmt.Errorf("sweep old tasks: %w", err)
	}
	return res.RowsAffected()
}

func nullTimeout(seconds int64) sql.NullInt64 {
	if seconds <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: seconds, Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(sc rowScanner) (*Task, error) {
	var r taskRow
	var priority, maxRetries int
	var timeout sql.NullInt64
	err := sc.Scan(
		&r.id, &r.kind, &r.status, &r.config,
		&r.createdAt, &r.updatedAt, &r.startedAt, &r.completedAt,
		&r.result, &r.taskErr,
		&priority, &r.retryCount, &maxRetries, &timeout,
	)
	if err != nil {
		return nil, err
	}
	return r.toTask()
}

func scanAll(rows *sql.Rows) ([]*Task, error) {
	var out []*Task
	for rows.Next() {
		t, err := scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
