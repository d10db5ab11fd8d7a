package authstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var ErrUserNotFound = errors.New("user not found")

// User is the persisted account record backing password authentication.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
}

// Store holds user records behind database/sql, dispatching to sqlite or
// postgres the same way the reference codebase's openDB selects a driver
// from configuration.
type Store struct {
	db     *sql.DB
	driver string
}

func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "sqlite", "":
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA foreign_keys=ON",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("pragma %s: %w", pragma, err)
			}
		}
		return &Store{db: db, driver: "sqlite"}, nil
	case "postgres":
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		return &Store{db: db, driver: "postgres"}, nil
	default:
		return nil, fmt.Errorf("unsupported auth driver: %s", driver)
	}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.driver == "postgres" {
		schema = postgresSchema
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (int64, error) {
	placeholder := "(?, ?)"
	if s.driver == "postgres" {
		placeholder = "($1, $2) RETURNING id"
		var id int64
		err := s.db.QueryRowContext(ctx,
			"INSERT INTO users (username, password_hash) VALUES "+placeholder,
			username, passwordHash,
		).Scan(&id)
		return id, err
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash) VALUES "+placeholder,
		username, passwordHash,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) UserByUsername(ctx context.Context, username string) (User, error) {
	query := "SELECT id, username, password_hash FROM users WHERE username = ?"
	if s.driver == "postgres" {
		query = "SELECT id, username, password_hash FROM users WHERE username = $1"
	}
	var u User
	err := s.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Username, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
