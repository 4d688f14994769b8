package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnIdleTime = 30 * time.Second
	cfg.MaxConnLifetime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return p, nil
}

func TestConnection(p *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var now time.Time
	err := p.QueryRow(ctx, "SELECT NOW()").Scan(&now)
	if err != nil {
		return fmt.Errorf("test query: %w", err)
	}
	fmt.Printf("[DB] Connection successful at %s\n", now.Format(time.RFC3339))
	return nil
}

// Migrate creates the watchlist and user tables if they are missing.
func Migrate(ctx context.Context, p *pgxpool.Pool) error {
	for i, stmt := range postgresSchema {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	fmt.Println("[DB] Schema up to date")
	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		uid          TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		email        TEXT,
		photo_url    TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS watchlist_symbols (
		user_id        TEXT NOT NULL,
		symbol         TEXT NOT NULL,
		deleted        BOOLEAN NOT NULL DEFAULT FALSE,
		current_price  DOUBLE PRECISION,
		previous_close DOUBLE PRECISION,
		high           DOUBLE PRECISION,
		low            DOUBLE PRECISION,
		price_change   DOUBLE PRECISION,
		percent_change DOUBLE PRECISION,
		quoted_at      TIMESTAMPTZ,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, symbol)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_watchlist_symbols_live
		ON watchlist_symbols (user_id, created_at) WHERE NOT deleted`,
}
