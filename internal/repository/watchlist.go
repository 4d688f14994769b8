package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/stockwatch-backend/internal/models"
)

// WatchlistRepo persists per-user watchlist records in Postgres. Removal
// is a soft delete: the row keeps its quote fields and is flagged
// deleted, and adding the symbol again revives it.
type WatchlistRepo struct {
	pool *pgxpool.Pool
}

func NewWatchlistRepo(pool *pgxpool.Pool) *WatchlistRepo {
	return &WatchlistRepo{pool: pool}
}

// ListSymbols returns the user's live symbols in the order they were added.
func (r *WatchlistRepo) ListSymbols(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT symbol FROM watchlist_symbols
		 WHERE user_id = $1 AND NOT deleted
		 ORDER BY created_at ASC, symbol ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertSymbol inserts the record or revives a tombstoned one. Quote
// fields are merged when given and left untouched when nil.
func (r *WatchlistRepo) UpsertSymbol(ctx context.Context, userID, symbol string, fields *models.QuoteFields) error {
	args := append([]any{userID, symbol}, quoteArgs(fields)...)
	_, err := r.pool.Exec(ctx,
		`INSERT INTO watchlist_symbols
		 (user_id, symbol, deleted, current_price, previous_close, high, low,
		  price_change, percent_change, quoted_at)
		 VALUES ($1, $2, FALSE, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id, symbol) DO UPDATE SET
		  created_at     = CASE WHEN watchlist_symbols.deleted THEN NOW() ELSE watchlist_symbols.created_at END,
		  deleted        = FALSE,
		  current_price  = COALESCE(EXCLUDED.current_price, watchlist_symbols.current_price),
		  previous_close = COALESCE(EXCLUDED.previous_close, watchlist_symbols.previous_close),
		  high           = COALESCE(EXCLUDED.high, watchlist_symbols.high),
		  low            = COALESCE(EXCLUDED.low, watchlist_symbols.low),
		  price_change   = COALESCE(EXCLUDED.price_change, watchlist_symbols.price_change),
		  percent_change = COALESCE(EXCLUDED.percent_change, watchlist_symbols.percent_change),
		  quoted_at      = COALESCE(EXCLUDED.quoted_at, watchlist_symbols.quoted_at),
		  updated_at     = NOW()`,
		args...,
	)
	return err
}

// DeleteSymbol tombstones the record. Deleting a missing record is not an error.
func (r *WatchlistRepo) DeleteSymbol(ctx context.Context, userID, symbol string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE watchlist_symbols SET deleted = TRUE, updated_at = NOW()
		 WHERE user_id = $1 AND symbol = $2`,
		userID, symbol,
	)
	return err
}

// RecordQuote stores the latest quote on a live record. Tombstoned or
// missing records are left alone.
func (r *WatchlistRepo) RecordQuote(ctx context.Context, userID, symbol string, fields models.QuoteFields) error {
	args := append([]any{userID, symbol}, quoteArgs(&fields)...)
	_, err := r.pool.Exec(ctx,
		`UPDATE watchlist_symbols SET
		  current_price = $3, previous_close = $4, high = $5, low = $6,
		  price_change = $7, percent_change = $8, quoted_at = $9, updated_at = NOW()
		 WHERE user_id = $1 AND symbol = $2 AND NOT deleted`,
		args...,
	)
	return err
}

// Get returns the record including tombstoned ones, or nil if it was never stored.
func (r *WatchlistRepo) Get(ctx context.Context, userID, symbol string) (*models.WatchedSymbol, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT user_id, symbol, deleted, current_price, previous_close, high, low,
		        price_change, percent_change, quoted_at, created_at, updated_at
		 FROM watchlist_symbols WHERE user_id = $1 AND symbol = $2`,
		userID, symbol,
	)
	ws, err := scanWatched(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ws, nil
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

type nullableQuote struct {
	current, previous, high, low, change, pct *float64
	quotedAt                                  *time.Time
}

func (n *nullableQuote) dest() []any {
	return []any{&n.current, &n.previous, &n.high, &n.low, &n.change, &n.pct, &n.quotedAt}
}

func (n *nullableQuote) fields() *models.QuoteFields {
	if n.current == nil {
		return nil
	}
	f := &models.QuoteFields{CurrentPrice: *n.current, PercentChange: n.pct}
	if n.previous != nil {
		f.PreviousClose = *n.previous
	}
	if n.high != nil {
		f.High = *n.high
	}
	if n.low != nil {
		f.Low = *n.low
	}
	if n.change != nil {
		f.PriceChange = *n.change
	}
	if n.quotedAt != nil {
		f.QuotedAt = *n.quotedAt
	}
	return f
}

func scanWatched(row scannable) (*models.WatchedSymbol, error) {
	var ws models.WatchedSymbol
	var q nullableQuote
	dest := append([]any{&ws.UserID, &ws.Symbol, &ws.Deleted}, q.dest()...)
	dest = append(dest, &ws.CreatedAt, &ws.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	ws.Quote = q.fields()
	return &ws, nil
}

// quoteArgs flattens optional quote fields into the seven positional
// parameters shared by the insert and update statements.
func quoteArgs(f *models.QuoteFields) []any {
	if f == nil {
		return []any{nil, nil, nil, nil, nil, nil, nil}
	}
	return []any{f.CurrentPrice, f.PreviousClose, f.High, f.Low, f.PriceChange, f.PercentChange, f.QuotedAt}
}
