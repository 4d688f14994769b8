package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/stockwatch-backend/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// UpsertUser merges the profile into the users table. created_at is only
// set on first insert.
func (r *UserRepo) UpsertUser(ctx context.Context, p *models.UserProfile) (*models.UserProfile, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (uid, display_name, email, photo_url)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
		 ON CONFLICT (uid) DO UPDATE SET
		  display_name = EXCLUDED.display_name,
		  email        = COALESCE(EXCLUDED.email, users.email),
		  photo_url    = COALESCE(EXCLUDED.photo_url, users.photo_url),
		  updated_at   = NOW()
		 RETURNING uid, display_name, COALESCE(email, ''), COALESCE(photo_url, ''), created_at, updated_at`,
		p.UID, p.DisplayName, p.Email, p.PhotoURL,
	)
	return scanUser(row)
}

func (r *UserRepo) GetUser(ctx context.Context, uid string) (*models.UserProfile, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT uid, display_name, COALESCE(email, ''), COALESCE(photo_url, ''), created_at, updated_at
		 FROM users WHERE uid = $1`,
		uid,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func scanUser(row scannable) (*models.UserProfile, error) {
	var u models.UserProfile
	if err := row.Scan(&u.UID, &u.DisplayName, &u.Email, &u.PhotoURL, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
