package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// OpenSQLite opens (or creates) the SQLite database at path and applies
// the schema. SQLite allows a single writer, so the pool is capped at one
// connection. Timestamps are stored as unix milliseconds.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	d.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := d.ExecContext(ctx, pragma); err != nil {
			d.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	for i, stmt := range sqliteSchema {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			d.Close()
			return nil, fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return d, nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		uid          TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		email        TEXT,
		photo_url    TEXT,
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS watchlist_symbols (
		user_id        TEXT NOT NULL,
		symbol         TEXT NOT NULL,
		deleted        INTEGER NOT NULL DEFAULT 0,
		current_price  REAL,
		previous_close REAL,
		high           REAL,
		low            REAL,
		price_change   REAL,
		percent_change REAL,
		quoted_at      INTEGER,
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL,
		seq            INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, symbol)
	)`,
}
