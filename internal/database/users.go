package database

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/crypto/bcrypt"

	"sar/internal/apperr"
	"sar/internal/model"
)

const bcryptCost = 12

var userColumns = []string{
	"id", "username", "name", "email", "pass_hash", "role", "division", "active", "auth_source",
	"created_at", "updated_at",
}

func scanUser(r rowScanner) (model.User, error) {
	var u model.User
	err := r.Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.PassHash, &u.Role, &u.Division, &u.Active,
		&u.AuthSource, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// GetUserByUsername returns nil when no such user exists.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	query, args, err := psql.Select(userColumns...).From("users").
		Where(sq.Expr("LOWER(username) = LOWER(?)", username)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("database.GetUserByUsername build: %w", err)
	}
	u, err := scanUser(db.conn.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(classify(err), apperr.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("database.GetUserByUsername: %w", err)
	}
	return &u, nil
}

// ListUsers returns every user without credentials.
func (db *DB) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := db.query(ctx, "database.ListUsers", psql.Select(userColumns...).From("users").OrderBy("id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("database.ListUsers scan: %w", err)
		}
		out = append(out, u.Public())
	}
	return out, rows.Err()
}

// CreateUser adds a local user with a bcrypt hash of password.
func (db *DB) CreateUser(ctx context.Context, u model.User, password string) (model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return model.User{}, fmt.Errorf("database.CreateUser hash: %w", err)
	}
	q := psql.Insert("users").
		Columns("username", "name", "email", "pass_hash", "role", "division", "auth_source").
		Values(u.Username, u.Name, u.Email, string(hash), u.Role, u.Division, "local").
		Suffix("RETURNING id, active, created_at, updated_at")
	if err := db.queryRow(ctx, "database.CreateUser", q, &u.ID, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return model.User{}, err
	}
	u.AuthSource = "local"
	return u.Public(), nil
}

func (db *DB) UpdateUserPassword(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return fmt.Errorf("database.UpdateUserPassword hash: %w", err)
	}
	q := psql.Update("users").
		Set("pass_hash", string(hash)).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"username": username})
	res, err := db.exec(ctx, "database.UpdateUserPassword", q)
	if err != nil {
		return err
	}
	return affected("database.UpdateUserPassword", res)
}

func (db *DB) SetUserActive(ctx context.Context, username string, active bool) error {
	q := psql.Update("users").
		Set("active", active).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"username": username})
	res, err := db.exec(ctx, "database.SetUserActive", q)
	if err != nil {
		return err
	}
	return affected("database.SetUserActive", res)
}

func (db *DB) DeleteUser(ctx context.Context, username string) error {
	res, err := db.exec(ctx, "database.DeleteUser", psql.Delete("users").Where(sq.Eq{"username": username}))
	if err != nil {
		return err
	}
	return affected("database.DeleteUser", res)
}

// UpsertDirectoryUser records a user that signed in through LDAP so the
// admin user list shows them. Local password rows are never overwritten.
func (db *DB) UpsertDirectoryUser(ctx context.Context, u model.User) error {
	q := psql.Insert("users").
		Columns("username", "name", "email", "role", "division", "auth_source").
		Values(u.Username, u.Name, u.Email, u.Role, u.Division, u.AuthSource).
		Suffix(`ON CONFLICT (username) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			auth_source = EXCLUDED.auth_source,
			updated_at = NOW()
		WHERE users.pass_hash = ''`)
	_, err := db.exec(ctx, "database.UpsertDirectoryUser", q)
	return err
}
