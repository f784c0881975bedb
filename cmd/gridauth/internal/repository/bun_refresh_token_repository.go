package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/bunx"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
	"github.com/uptrace/bun"
)

// BunRefreshTokenRepository implements RefreshTokenRepository using Bun ORM
type BunRefreshTokenRepository struct {
	db *bun.DB
}

// NewBunRefreshTokenRepository creates a new Bun-based refresh token repository
func NewBunRefreshTokenRepository(db *bun.DB) *BunRefreshTokenRepository {
	return &BunRefreshTokenRepository{db: db}
}

// Create stores a new refresh token handle
func (r *BunRefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	return insertRefreshToken(ctx, r.db, token)
}

func insertRefreshToken(ctx context.Context, db bun.IDB, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = bunx.NewUUIDv7()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	if _, err := db.NewInsert().Model(token).Exec(ctx); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// GetByHash retrieves a token handle by its hash.
// This is the primary lookup method for refresh.
func (r *BunRefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	token := new(models.RefreshToken)
	err := r.db.NewSelect().
		Model(token).
		Where("rt.token_hash = ?", tokenHash).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("refresh token: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("get refresh token by hash: %w", err)
	}
	return token, nil
}

// Rotate revokes the current handle and stores its replacement.
// Returns ErrTokenAlreadyRotated if another request rotated it first.
func (r *BunRefreshTokenRepository) Rotate(ctx context.Context, currentID string, next *models.RefreshToken) error {
	if next.ID == "" {
		next.ID = bunx.NewUUIDv7()
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.RefreshToken)(nil)).
			Set("revoked_at = ?", time.Now()).
			Set("replaced_by = ?", next.ID).
			Where("id = ?", currentID).
			Where("revoked_at IS NULL").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}

		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrTokenAlreadyRotated
		}

		return insertRefreshToken(ctx, tx, next)
	})
}

// RevokeAllForUser revokes every live token of a user
func (r *BunRefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	res, err := r.db.NewUpdate().
		Model((*models.RefreshToken)(nil)).
		Set("revoked_at = ?", time.Now()).
		Where("user_id = ?", userID).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(rowsAffected), nil
}
