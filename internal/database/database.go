// Package database persists review data, users, refresh sessions and the
// audit trail in PostgreSQL.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL Driver
	"github.com/sirupsen/logrus"

	"sar/internal/apperr"
)

// psql builds every statement with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type DB struct {
	conn *sql.DB
	log  logrus.FieldLogger
}

func Open(ctx context.Context, dsn string, migrationsFS fs.FS, logger logrus.FieldLogger) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, log: logger.WithField("component", "database")}
	if err := db.runMigrations(migrationsFS); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return db, nil
}

func (db *DB) runMigrations(migrationsFS fs.FS) error {
	driver, err := postgres.WithInstance(db.conn, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	var m *migrate.Migrate
	if migrationsFS != nil {
		d, err := iofs.New(migrationsFS, "migrations")
		if err != nil {
			return fmt.Errorf("could not create iofs source: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", d, "postgres", driver)
		if err != nil {
			return fmt.Errorf("could not create migrate instance: %w", err)
		}
	} else {
		// Fallback to the source tree for development runs.
		m, err = migrate.NewWithDatabaseInstance("file://web/migrations", "postgres", driver)
		if err != nil {
			return fmt.Errorf("could not create migrate instance: %w", err)
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("an error occurred while syncing the database: %w", err)
	}

	db.log.Info("database migrations applied")
	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping backs the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) HasUsers(ctx context.Context) (bool, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return false, fmt.Errorf("database.HasUsers: %w", err)
	}
	return count > 0, nil
}

func (db *DB) exec(ctx context.Context, op string, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s build: %w", op, err)
	}
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	return res, nil
}

func (db *DB) query(ctx context.Context, op string, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s build: %w", op, err)
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	return rows, nil
}

func (db *DB) queryRow(ctx context.Context, op string, b sq.Sqlizer, dest ...any) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("%s build: %w", op, err)
	}
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(dest...); err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	return nil
}

// affected turns a zero row count into apperr.ErrNotFound.
func affected(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}
	return nil
}

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

// classify maps driver errors onto the apperr taxonomy.
func classify(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", apperr.ErrConflict, pgErr.ConstraintName)
		case pgCheckViolation:
			return apperr.Invalid("", "violates %s", pgErr.ConstraintName)
		}
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// dateOnly truncates to a UTC calendar date for DATE columns.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
