package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"sar/internal/apperr"
	"sar/internal/model"
)

func (db *DB) CreateSession(ctx context.Context, s model.Session) error {
	q := psql.Insert("sessions").
		Columns("token_hash", "username", "name", "role", "auth_source", "created_at", "expires_at").
		Values(s.TokenHash, s.Username, s.Name, s.Role, s.AuthSource, s.CreatedAt, s.ExpiresAt)
	_, err := db.exec(ctx, "database.CreateSession", q)
	return err
}

// GetSession returns nil when no session has the hash.
func (db *DB) GetSession(ctx context.Context, tokenHash string) (*model.Session, error) {
	q := psql.Select("token_hash", "username", "name", "role", "auth_source", "created_at", "expires_at").
		From("sessions").
		Where(sq.Eq{"token_hash": tokenHash})
	var s model.Session
	err := db.queryRow(ctx, "database.GetSession", q,
		&s.TokenHash, &s.Username, &s.Name, &s.Role, &s.AuthSource, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (db *DB) DeleteSession(ctx context.Context, tokenHash string) error {
	_, err := db.exec(ctx, "database.DeleteSession", psql.Delete("sessions").Where(sq.Eq{"token_hash": tokenHash}))
	return err
}

// PurgeExpiredSessions removes sessions that expired before now and reports
// how many were removed.
func (db *DB) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.exec(ctx, "database.PurgeExpiredSessions", psql.Delete("sessions").Where(sq.Lt{"expires_at": now}))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("database.PurgeExpiredSessions rows affected: %w", err)
	}
	return n, nil
}
