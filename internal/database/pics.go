package database

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"sar/internal/model"
)

var picColumns = []string{
	"id", "name", "email", "division", "status", "valid_from", "valid_to",
	"created_by", "created_date", "changed_by", "changed_date",
}

func scanPic(r rowScanner) (model.PicUser, error) {
	var (
		p         model.PicUser
		changedBy sql.NullString
		changedAt sql.NullTime
	)
	err := r.Scan(&p.ID, &p.Name, &p.Email, &p.Division, &p.Status, &p.ValidFrom, &p.ValidTo,
		&p.CreatedBy, &p.CreatedDate, &changedBy, &changedAt)
	p.ChangedBy = changedBy.String
	p.ChangedDate = timePtr(changedAt)
	return p, err
}

func (db *DB) ListPics(ctx context.Context, f model.PicFilter) ([]model.PicUser, error) {
	rows, err := db.query(ctx, "database.ListPics", picListQuery(f))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.PicUser{}
	for rows.Next() {
		p, err := scanPic(rows)
		if err != nil {
			return nil, fmt.Errorf("database.ListPics scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (db *DB) GetPic(ctx context.Context, id int64) (model.PicUser, error) {
	query, args, err := psql.Select(picColumns...).From("pic_users").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return model.PicUser{}, fmt.Errorf("database.GetPic build: %w", err)
	}
	p, err := scanPic(db.conn.QueryRowContext(ctx, query, args...))
	if err != nil {
		return model.PicUser{}, fmt.Errorf("database.GetPic: %w", classify(err))
	}
	return p, nil
}

func (db *DB) CreatePic(ctx context.Context, p model.PicUser) (model.PicUser, error) {
	q := psql.Insert("pic_users").
		Columns("name", "email", "division", "status", "valid_from", "valid_to", "created_by", "created_date").
		Values(p.Name, p.Email, p.Division, p.Status, dateOnly(p.ValidFrom), dateOnly(p.ValidTo), p.CreatedBy, p.CreatedDate).
		Suffix("RETURNING id")
	if err := db.queryRow(ctx, "database.CreatePic", q, &p.ID); err != nil {
		return model.PicUser{}, err
	}
	return p, nil
}

func (db *DB) UpdatePic(ctx context.Context, p model.PicUser) error {
	q := psql.Update("pic_users").
		Set("name", p.Name).
		Set("email", p.Email).
		Set("division", p.Division).
		Set("status", p.Status).
		Set("valid_from", dateOnly(p.ValidFrom)).
		Set("valid_to", dateOnly(p.ValidTo)).
		Set("changed_by", nullString(p.ChangedBy)).
		Set("changed_date", nullTime(p.ChangedDate)).
		Where(sq.Eq{"id": p.ID})
	res, err := db.exec(ctx, "database.UpdatePic", q)
	if err != nil {
		return err
	}
	return affected("database.UpdatePic", res)
}

func (db *DB) DeletePic(ctx context.Context, id int64) error {
	res, err := db.exec(ctx, "database.DeletePic", psql.Delete("pic_users").Where(sq.Eq{"id": id}))
	if err != nil {
		return err
	}
	return affected("database.DeletePic", res)
}
