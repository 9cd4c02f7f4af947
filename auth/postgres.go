package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// uniqueViolation is the PostgreSQL error code for a duplicate key.
const uniqueViolation = "23505"

const schema = `CREATE TABLE IF NOT EXISTS rfm_users (
	username   TEXT PRIMARY KEY,
	password   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps accounts in a PostgreSQL table.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to databaseURL and makes sure the users table exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the users table if needed.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

// CreateUser inserts user with a hashed password.
func (p *PostgresStore) CreateUser(ctx context.Context, user, pass string) error {
	if user == "" {
		return ErrEmptyCredentials
	}
	hash, err := HashPassword(pass)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO rfm_users (username, password) VALUES ($1, $2)`, user, hash)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrUserExists, user)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "PostgresStore.CreateUser",
		"username": user,
	}).Info("User created")
	return nil
}

// DeleteUser removes user.
func (p *PostgresStore) DeleteUser(ctx context.Context, user string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM rfm_users WHERE username = $1`, user)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, user)
	}
	return nil
}

// Verify checks pass against the stored hash.
func (p *PostgresStore) Verify(ctx context.Context, user, pass string) (bool, error) {
	var hash string
	err := p.db.QueryRowContext(ctx,
		`SELECT password FROM rfm_users WHERE username = $1`, user).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query user: %w", err)
	}
	return CheckPassword(hash, pass), nil
}
