package database

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"sar/internal/model"
)

var logColumns = []string{"id", "module", "function", "status", "username", "details", "started_at", "ended_at"}

func scanLog(r rowScanner) (model.LogEntry, error) {
	var (
		l     model.LogEntry
		ended sql.NullTime
	)
	err := r.Scan(&l.ID, &l.Module, &l.Function, &l.Status, &l.User, &l.Details, &l.StartedAt, &ended)
	l.EndedAt = timePtr(ended)
	return l, err
}

// ListLogs returns the newest matching rows first. limit 0 means no limit.
func (db *DB) ListLogs(ctx context.Context, f model.LogFilter, limit uint64) ([]model.LogEntry, error) {
	q, err := logListQuery(f, limit)
	if err != nil {
		return nil, err
	}
	rows, err := db.query(ctx, "database.ListLogs", q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.LogEntry{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("database.ListLogs scan: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (db *DB) GetLog(ctx context.Context, id int64) (model.LogEntry, error) {
	query, args, err := psql.Select(logColumns...).From("process_logs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return model.LogEntry{}, fmt.Errorf("database.GetLog build: %w", err)
	}
	l, err := scanLog(db.conn.QueryRowContext(ctx, query, args...))
	if err != nil {
		return model.LogEntry{}, fmt.Errorf("database.GetLog: %w", classify(err))
	}
	return l, nil
}

// CreateLog records one backend process run.
func (db *DB) CreateLog(ctx context.Context, l model.LogEntry) (model.LogEntry, error) {
	q := psql.Insert("process_logs").
		Columns("module", "function", "status", "username", "details", "started_at", "ended_at").
		Values(l.Module, l.Function, l.Status, l.User, l.Details, l.StartedAt, nullTime(l.EndedAt)).
		Suffix("RETURNING id")
	if err := db.queryRow(ctx, "database.CreateLog", q, &l.ID); err != nil {
		return model.LogEntry{}, err
	}
	return l, nil
}
