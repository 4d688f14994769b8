package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kjannette/stockwatch-backend/internal/models"
)

// SQLiteStore is the single-node Watchlist Store. It mirrors WatchlistRepo
// and UserRepo semantics on a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func (s *SQLiteStore) ListSymbols(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol FROM watchlist_symbols
		 WHERE user_id = ? AND deleted = 0
		 ORDER BY seq ASC, symbol ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertSymbol(ctx context.Context, userID, symbol string, fields *models.QuoteFields) error {
	now := s.now().UnixMilli()
	args := []any{userID, symbol}
	args = append(args, sqliteQuoteArgs(fields)...)
	args = append(args, now, now, userID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watchlist_symbols
		 (user_id, symbol, deleted, current_price, previous_close, high, low,
		  price_change, percent_change, quoted_at, created_at, updated_at, seq)
		 VALUES (?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		  (SELECT COALESCE(MAX(seq), 0) + 1 FROM watchlist_symbols WHERE user_id = ?))
		 ON CONFLICT (user_id, symbol) DO UPDATE SET
		  seq            = CASE WHEN watchlist_symbols.deleted = 1 THEN excluded.seq ELSE watchlist_symbols.seq END,
		  created_at     = CASE WHEN watchlist_symbols.deleted = 1 THEN excluded.created_at ELSE watchlist_symbols.created_at END,
		  deleted        = 0,
		  current_price  = COALESCE(excluded.current_price, watchlist_symbols.current_price),
		  previous_close = COALESCE(excluded.previous_close, watchlist_symbols.previous_close),
		  high           = COALESCE(excluded.high, watchlist_symbols.high),
		  low            = COALESCE(excluded.low, watchlist_symbols.low),
		  price_change   = COALESCE(excluded.price_change, watchlist_symbols.price_change),
		  percent_change = COALESCE(excluded.percent_change, watchlist_symbols.percent_change),
		  quoted_at      = COALESCE(excluded.quoted_at, watchlist_symbols.quoted_at),
		  updated_at     = excluded.updated_at`,
		args...,
	)
	return err
}

func (s *SQLiteStore) DeleteSymbol(ctx context.Context, userID, symbol string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE watchlist_symbols SET deleted = 1, updated_at = ?
		 WHERE user_id = ? AND symbol = ?`,
		s.now().UnixMilli(), userID, symbol,
	)
	return err
}

func (s *SQLiteStore) RecordQuote(ctx context.Context, userID, symbol string, fields models.QuoteFields) error {
	args := sqliteQuoteArgs(&fields)
	args = append(args, s.now().UnixMilli(), userID, symbol)
	_, err := s.db.ExecContext(ctx,
		`UPDATE watchlist_symbols SET
		  current_price = ?, previous_close = ?, high = ?, low = ?,
		  price_change = ?, percent_change = ?, quoted_at = ?, updated_at = ?
		 WHERE user_id = ? AND symbol = ? AND deleted = 0`,
		args...,
	)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, userID, symbol string) (*models.WatchedSymbol, error) {
	var (
		ws                                models.WatchedSymbol
		cur, prev, high, low, change, pct sql.NullFloat64
		quotedAt                          sql.NullInt64
		createdAt, updatedAt              int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, symbol, deleted, current_price, previous_close, high, low,
		        price_change, percent_change, quoted_at, created_at, updated_at
		 FROM watchlist_symbols WHERE user_id = ? AND symbol = ?`,
		userID, symbol,
	).Scan(&ws.UserID, &ws.Symbol, &ws.Deleted, &cur, &prev, &high, &low,
		&change, &pct, &quotedAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	ws.CreatedAt = time.UnixMilli(createdAt).UTC()
	ws.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if cur.Valid {
		f := &models.QuoteFields{
			CurrentPrice:  cur.Float64,
			PreviousClose: prev.Float64,
			High:          high.Float64,
			Low:           low.Float64,
			PriceChange:   change.Float64,
		}
		if pct.Valid {
			v := pct.Float64
			f.PercentChange = &v
		}
		if quotedAt.Valid {
			f.QuotedAt = time.UnixMilli(quotedAt.Int64).UTC()
		}
		ws.Quote = f
	}
	return &ws, nil
}

func (s *SQLiteStore) UpsertUser(ctx context.Context, p *models.UserProfile) (*models.UserProfile, error) {
	now := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (uid, display_name, email, photo_url, created_at, updated_at)
		 VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)
		 ON CONFLICT (uid) DO UPDATE SET
		  display_name = excluded.display_name,
		  email        = COALESCE(excluded.email, users.email),
		  photo_url    = COALESCE(excluded.photo_url, users.photo_url),
		  updated_at   = excluded.updated_at`,
		p.UID, p.DisplayName, p.Email, p.PhotoURL, now, now,
	)
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, p.UID)
}

func (s *SQLiteStore) GetUser(ctx context.Context, uid string) (*models.UserProfile, error) {
	var u models.UserProfile
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT uid, display_name, COALESCE(email, ''), COALESCE(photo_url, ''), created_at, updated_at
		 FROM users WHERE uid = ?`,
		uid,
	).Scan(&u.UID, &u.DisplayName, &u.Email, &u.PhotoURL, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.CreatedAt = time.UnixMilli(createdAt).UTC()
	u.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &u, nil
}

func sqliteQuoteArgs(f *models.QuoteFields) []any {
	if f == nil {
		return []any{nil, nil, nil, nil, nil, nil, nil}
	}
	var pct any
	if f.PercentChange != nil {
		pct = *f.PercentChange
	}
	return []any{f.CurrentPrice, f.PreviousClose, f.High, f.Low, f.PriceChange, pct, f.QuotedAt.UnixMilli()}
}
