package db

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenSQLite_CreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.db")
	ctx := context.Background()

	d, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer d.Close()

	for _, table := range []string{"users", "watchlist_symbols"} {
		var name string
		err := d.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}

	// Reopening an existing file must be a no-op migration.
	d.Close()
	d2, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	d2.Close()
}
