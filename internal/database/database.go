// Package database manages the SQLite journal of mode runs and visit outcomes.
// The database lives in memory and is gone when the process exits.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Open creates the in-memory database and runs all migrations.
func Open() (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}

	// Every connection to ":memory:" is a separate database, so exactly one
	// connection is kept open for the life of the handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return db, nil
}

// migrate executes the schema DDL. All statements are idempotent.
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Prune keeps only the newest keep rows of visit_outcomes. A non-positive
// keep leaves the table untouched.
func Prune(ctx context.Context, db *sql.DB, keep int) error {
	if db == nil {
		return errors.New("database handle is required")
	}
	if keep <= 0 {
		return nil
	}
	_, err := db.ExecContext(ctx, `
		DELETE FROM visit_outcomes
		WHERE id <= (SELECT MAX(id) FROM visit_outcomes) - ?
	`, keep)
	return err
}
