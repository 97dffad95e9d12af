package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"sar/internal/model"
)

var auditColumns = []string{
	"request_id", "session_id", "user_id", "user_name", "user_role", "action", "module", "description",
	"outcome", "error_code", "error_message", "occurred_at", "location", "user_agent", "ip_address",
}

// auditInsert builds one multi-row insert. Entries already stored under the
// same request id are skipped so a retried batch is not duplicated.
func auditInsert(entries []model.AuditLogEntry) sq.InsertBuilder {
	q := psql.Insert("audit_log").Columns(auditColumns...)
	for _, e := range entries {
		q = q.Values(e.RequestID, e.SessionID, e.UserID, e.UserName, e.UserRole, string(e.Action), e.Module,
			e.Description, string(e.Outcome), nullString(e.ErrorCode), nullString(e.ErrorMessage),
			e.Timestamp, e.Location, e.UserAgent, e.IPAddress)
	}
	return q.Suffix("ON CONFLICT (request_id) DO NOTHING")
}

// SendAudit stores a batch of entries; it makes *DB an audit.Sender.
func (db *DB) SendAudit(ctx context.Context, entries []model.AuditLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := db.exec(ctx, "database.SendAudit", auditInsert(entries))
	return err
}

func scanAudit(r rowScanner) (model.AuditLogEntry, error) {
	var (
		e             model.AuditLogEntry
		action        string
		outcome       string
		code, message sql.NullString
	)
	err := r.Scan(&e.ID, &e.RequestID, &e.SessionID, &e.UserID, &e.UserName, &e.UserRole, &action, &e.Module,
		&e.Description, &outcome, &code, &message, &e.Timestamp, &e.Location, &e.UserAgent, &e.IPAddress)
	e.Action = model.ActionKind(action)
	e.Outcome = model.Outcome(outcome)
	e.ErrorCode = code.String
	e.ErrorMessage = message.String
	return e, err
}

func auditSelect() sq.SelectBuilder {
	return psql.Select(append([]string{"id"}, auditColumns...)...).From("audit_log")
}

// ListAudit returns one page of matching entries, newest first, and the
// total match count.
func (db *DB) ListAudit(ctx context.Context, f model.AuditFilter, limit, offset uint64) ([]model.AuditLogEntry, int, error) {
	count, err := auditWhere(psql.Select("COUNT(*)").From("audit_log"), f)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := db.queryRow(ctx, "database.ListAudit count", count, &total); err != nil {
		return nil, 0, err
	}

	q, err := auditWhere(auditSelect(), f)
	if err != nil {
		return nil, 0, err
	}
	q = q.OrderBy("occurred_at DESC", "id DESC").Limit(limit).Offset(offset)
	rows, err := db.query(ctx, "database.ListAudit", q)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []model.AuditLogEntry{}
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("database.ListAudit scan: %w", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// AuditRange streams entries with from <= occurred_at < to, oldest first.
func (db *DB) AuditRange(ctx context.Context, from, to time.Time, fn func(model.AuditLogEntry) error) error {
	q := auditSelect().
		Where(sq.GtOrEq{"occurred_at": from}).
		Where(sq.Lt{"occurred_at": to}).
		OrderBy("occurred_at", "id")
	rows, err := db.query(ctx, "database.AuditRange", q)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return fmt.Errorf("database.AuditRange scan: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}
