package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Column encoding shared by the SQLite and Postgres backends: config and
// result are JSON documents, timestamps are unix milliseconds so the
// priority/created_at claim ordering is a plain numeric sort and time fields
// round-trip exactly at millisecond precision.

func encodeConfig(cfg TaskConfig) (string, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode task config: %w", err)
	}
	return string(raw), nil
}

func encodeResult(res *Result) (sql.NullString, error) {
	if res == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode task result: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func millisPtr(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: millis(*t), Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromMillisPtr(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

// taskRow is the flat column shape of the tasks table.
type taskRow struct {
	id          string
	kind        string
	status      string
	config      string
	createdAt   int64
	updatedAt   int64
	startedAt   sql.NullInt64
	completedAt sql.NullInt64
	result      sql.NullString
	taskErr     sql.NullString
	retryCount  int
}

func rowFromTask(t *Task) (taskRow, error) {
	cfg, err := encodeConfig(t.Config)
	if err != nil {
		return taskRow{}, err
	}
	res, err := encodeResult(t.Result)
	if err != nil {
		return taskRow{}, err
	}
	return taskRow{
		id:          t.ID,
		kind:        string(t.Config.Kind),
		status:      string(t.Status),
		config:      cfg,
		createdAt:   millis(t.CreatedAt),
		updatedAt:   millis(t.UpdatedAt),
		startedAt:   millisPtr(t.StartedAt),
		completedAt: millisPtr(t.CompletedAt),
		result:      res,
		taskErr:     encodeNullString(t.Error),
		retryCount:  t.RetryCount,
	}, nil
}

func encodeNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func (r taskRow) toTask() (*Task, error) {
	var cfg TaskConfig
	if err := json.Unmarshal([]byte(r.config), &cfg); err != nil {
		return nil, fmt.Errorf("decode config for task %s: %w", r.id, err)
	}
	var res *Result
	if r.result.Valid {
		res = &Result{}
		if err := json.Unmarshal([]byte(r.result.String), res); err != nil {
			return nil, fmt.Errorf("decode result for task %s: %w", r.id, err)
		}
	}
	t := &Task{
		ID:          r.id,
		Status:      Status(r.status),
		Config:      cfg,
		CreatedAt:   fromMillis(r.createdAt),
		UpdatedAt:   fromMillis(r.updatedAt),
		StartedAt:   fromMillisPtr(r.startedAt),
		CompletedAt: fromMillisPtr(r.completedAt),
		Result:      res,
		RetryCount:  r.retryCount,
	}
	if r.taskErr.Valid {
		t.Error = r.taskErr.String
	}
	return t, nil
}
