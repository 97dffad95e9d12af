package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"sar/internal/model"
)

var systemColumns = []string{
	"id", "system_type", "system_code", "valid_from", "valid_to", "system_name", "description",
	"pic_name", "status", "created_by", "created_date", "changed_by", "changed_date",
}

func scanSystem(r rowScanner) (model.SystemMaster, error) {
	var (
		s         model.SystemMaster
		changedBy sql.NullString
		changedAt sql.NullTime
	)
	err := r.Scan(&s.ID, &s.SystemType, &s.SystemCode, &s.ValidFrom, &s.ValidTo, &s.SystemName,
		&s.Description, &s.PicName, &s.Status, &s.CreatedBy, &s.CreatedDate, &changedBy, &changedAt)
	s.ChangedBy = changedBy.String
	s.ChangedDate = timePtr(changedAt)
	return s, err
}

func keyWhere(k model.SystemKey) sq.Eq {
	return sq.Eq{
		"system_type": k.SystemType,
		"system_code": k.SystemCode,
		"valid_from":  dateOnly(k.ValidFrom),
	}
}

func (db *DB) ListSystems(ctx context.Context, f model.SystemFilter) ([]model.SystemMaster, error) {
	rows, err := db.query(ctx, "database.ListSystems", systemListQuery(f))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.SystemMaster{}
	for rows.Next() {
		s, err := scanSystem(rows)
		if err != nil {
			return nil, fmt.Errorf("database.ListSystems scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (db *DB) GetSystem(ctx context.Context, k model.SystemKey) (model.SystemMaster, error) {
	query, args, err := psql.Select(systemColumns...).From("system_master").Where(keyWhere(k)).ToSql()
	if err != nil {
		return model.SystemMaster{}, fmt.Errorf("database.GetSystem build: %w", err)
	}
	s, err := scanSystem(db.conn.QueryRowContext(ctx, query, args...))
	if err != nil {
		return model.SystemMaster{}, fmt.Errorf("database.GetSystem: %w", classify(err))
	}
	return s, nil
}

// CreateSystem inserts s. A duplicate compound key yields apperr.ErrConflict.
func (db *DB) CreateSystem(ctx context.Context, s model.SystemMaster) (model.SystemMaster, error) {
	q := psql.Insert("system_master").
		Columns("system_type", "system_code", "valid_from", "valid_to", "system_name", "description",
			"pic_name", "status", "created_by", "created_date").
		Values(s.SystemType, s.SystemCode, dateOnly(s.ValidFrom), dateOnly(s.ValidTo), s.SystemName,
			s.Description, s.PicName, s.Status, s.CreatedBy, s.CreatedDate).
		Suffix("RETURNING id")
	if err := db.queryRow(ctx, "database.CreateSystem", q, &s.ID); err != nil {
		return model.SystemMaster{}, err
	}
	return s, nil
}

// UpdateSystem rewrites the record identified by k. The key columns are
// immutable; s carries the new non-key values.
func (db *DB) UpdateSystem(ctx context.Context, k model.SystemKey, s model.SystemMaster) error {
	q := psql.Update("system_master").
		Set("valid_to", dateOnly(s.ValidTo)).
		Set("system_name", s.SystemName).
		Set("description", s.Description).
		Set("pic_name", s.PicName).
		Set("status", s.Status).
		Set("changed_by", nullString(s.ChangedBy)).
		Set("changed_date", nullTime(s.ChangedDate)).
		Where(keyWhere(k))
	res, err := db.exec(ctx, "database.UpdateSystem", q)
	if err != nil {
		return err
	}
	return affected("database.UpdateSystem", res)
}

func (db *DB) SetSystemStatus(ctx context.Context, k model.SystemKey, status, by string, at time.Time) error {
	q := psql.Update("system_master").
		Set("status", status).
		Set("changed_by", by).
		Set("changed_date", at).
		Where(keyWhere(k))
	res, err := db.exec(ctx, "database.SetSystemStatus", q)
	if err != nil {
		return err
	}
	return affected("database.SetSystemStatus", res)
}

func (db *DB) DeleteSystem(ctx context.Context, k model.SystemKey) error {
	res, err := db.exec(ctx, "database.DeleteSystem", psql.Delete("system_master").Where(keyWhere(k)))
	if err != nil {
		return err
	}
	return affected("database.DeleteSystem", res)
}
