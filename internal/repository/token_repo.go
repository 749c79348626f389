package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"session-auth/internal/model"
)

// ErrTokenExists is returned by Save when the user already holds a refresh token.
var ErrTokenExists = errors.New("refresh token already exists for user")

type TokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

func (r *TokenRepository) FindByUserID(ctx context.Context, userID string) (model.RefreshToken, error) {
	var t model.RefreshToken
	err := r.pool.QueryRow(ctx,
		`SELECT token, user_id, updated_at FROM refresh_tokens WHERE user_id = $1`, userID).
		Scan(&t.Token, &t.UserID, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RefreshToken{}, model.ErrTokenNotFound
	}
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("find refresh token: %w", err)
	}
	return t, nil
}

func (r *TokenRepository) Save(ctx context.Context, t model.RefreshToken) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO refresh_tokens (user_id, token, updated_at) VALUES ($1, $2, $3)`,
		t.UserID, t.Token, t.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("store refresh token: %w", ErrTokenExists)
	}
	if err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

func (r *TokenRepository) Update(ctx context.Context, t model.RefreshToken) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE refresh_tokens SET token = $2, updated_at = $3 WHERE user_id = $1`,
		t.UserID, t.Token, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrTokenNotFound
	}
	return nil
}

func (r *TokenRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}
