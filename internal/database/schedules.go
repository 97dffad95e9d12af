package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"sar/internal/model"
)

var scheduleColumns = []string{
	"id", "period", "description", "status", "valid_from", "valid_to",
	"created_by", "created_date", "changed_by", "changed_date",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(r rowScanner) (model.Schedule, error) {
	var (
		s         model.Schedule
		changedBy sql.NullString
		changedAt sql.NullTime
	)
	err := r.Scan(&s.ID, &s.Period, &s.Description, &s.Status, &s.ValidFrom, &s.ValidTo,
		&s.CreatedBy, &s.CreatedDate, &changedBy, &changedAt)
	s.ChangedBy = changedBy.String
	s.ChangedDate = timePtr(changedAt)
	return s, err
}

func (db *DB) ListSchedules(ctx context.Context, f model.ScheduleFilter) ([]model.Schedule, error) {
	rows, err := db.query(ctx, "database.ListSchedules", scheduleListQuery(f))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Schedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("database.ListSchedules scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (db *DB) GetSchedule(ctx context.Context, id int64) (model.Schedule, error) {
	query, args, err := psql.Select(scheduleColumns...).From("schedules").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return model.Schedule{}, fmt.Errorf("database.GetSchedule build: %w", err)
	}
	s, err := scanSchedule(db.conn.QueryRowContext(ctx, query, args...))
	if err != nil {
		return model.Schedule{}, fmt.Errorf("database.GetSchedule: %w", classify(err))
	}
	return s, nil
}

// CreateSchedule inserts s and returns it with the assigned id.
func (db *DB) CreateSchedule(ctx context.Context, s model.Schedule) (model.Schedule, error) {
	q := psql.Insert("schedules").
		Columns("period", "description", "status", "valid_from", "valid_to", "created_by", "created_date").
		Values(s.Period, s.Description, s.Status, dateOnly(s.ValidFrom), dateOnly(s.ValidTo), s.CreatedBy, s.CreatedDate).
		Suffix("RETURNING id")
	if err := db.queryRow(ctx, "database.CreateSchedule", q, &s.ID); err != nil {
		return model.Schedule{}, err
	}
	return s, nil
}

// UpdateSchedule overwrites the editable fields of the row with s.ID.
func (db *DB) UpdateSchedule(ctx context.Context, s model.Schedule) error {
	q := psql.Update("schedules").
		Set("period", s.Period).
		Set("description", s.Description).
		Set("status", s.Status).
		Set("valid_from", dateOnly(s.ValidFrom)).
		Set("valid_to", dateOnly(s.ValidTo)).
		Set("changed_by", nullString(s.ChangedBy)).
		Set("changed_date", nullTime(s.ChangedDate)).
		Where(sq.Eq{"id": s.ID})
	res, err := db.exec(ctx, "database.UpdateSchedule", q)
	if err != nil {
		return err
	}
	return affected("database.UpdateSchedule", res)
}

func (db *DB) SetScheduleStatus(ctx context.Context, id int64, status, by string, at time.Time) error {
	q := psql.Update("schedules").
		Set("status", status).
		Set("changed_by", by).
		Set("changed_date", at).
		Where(sq.Eq{"id": id})
	res, err := db.exec(ctx, "database.SetScheduleStatus", q)
	if err != nil {
		return err
	}
	return affected("database.SetScheduleStatus", res)
}

func (db *DB) DeleteSchedule(ctx context.Context, id int64) error {
	res, err := db.exec(ctx, "database.DeleteSchedule", psql.Delete("schedules").Where(sq.Eq{"id": id}))
	if err != nil {
		return err
	}
	return affected("database.DeleteSchedule", res)
}
