package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const pragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

type DB struct {
	*sql.DB
}

// NewConnection opens the SQLite database at path. ":memory:" opens a
// shared in-memory database.
func NewConnection(path string) (*DB, error) {
	memory := path == ":memory:"

	dsn := path
	if memory {
		dsn = "file::memory:?cache=shared"
	}
	if strings.Contains(dsn, "?") {
		dsn += "&" + pragmas
	} else {
		dsn += "?" + pragmas
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; one connection keeps transactions serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if !memory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	return &DB{DB: db}, nil
}

// WithinTx runs fn with repositories bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (db *DB) WithinTx(ctx context.Context, fn func(items ItemRepository, posts PostRepository) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&ItemRepo{db: tx}, &PostRepo{db: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
