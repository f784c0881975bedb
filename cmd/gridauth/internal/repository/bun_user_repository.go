package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/bunx"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
	"github.com/uptrace/bun"
)

// maxUpsertAttempts bounds the compare-and-swap loop used on stores without
// data-modifying CTEs.
const maxUpsertAttempts = 5

// BunUserRepository implements UserRepository using Bun ORM
type BunUserRepository struct {
	db *bun.DB
}

// NewBunUserRepository creates a new Bun-based user repository
func NewBunUserRepository(db *bun.DB) *BunUserRepository {
	return &BunUserRepository{db: db}
}

// upsertRow is one row returned by the PostgreSQL upsert statement.
type upsertRow struct {
	models.User `bun:",extend"`

	PrevTenantID *string `bun:"prev_tenant_id"`
	PrevEmail    *string `bun:"prev_email"`
	PrevFullName *string `bun:"prev_full_name"`
	Inserted     bool    `bun:"inserted"`
}

// pgUpsertQuery matches by (tenant, email_key) first, then by (tenant,
// external_surrogate_id) so a directory email change updates the same record,
// and finally falls back to an email-only match in another tenant, which is
// then migrated to ?1. The
// email-only match is restricted to records that carry no surrogate id or
// the same surrogate id, so unrelated same-email users in other tenants stay
// independent. The INSERT branch only runs when no target exists; losing an
// insert race yields zero rows.
//
// Args: ?0 id, ?1 tenant_id, ?2 email_key, ?3 email, ?4 full_name,
// ?5 external_surrogate_id, ?6 external_subject, ?7 auth_provider,
// ?8 user_type, ?9 id_token, ?10 id_token_expires_at, ?11 refresh_token,
// ?12 refresh_token_expires_at, ?13 login time.
const pgUpsertQuery = `
WITH target AS (
	SELECT u.id, u.tenant_id AS prev_tenant_id, u.email AS prev_email, u.full_name AS prev_full_name
	FROM users AS u
	WHERE (u.email_key = ?2
	    AND (u.tenant_id = ?1::uuid OR u.external_surrogate_id IS NULL OR u.external_surrogate_id = ?5))
	   OR (u.tenant_id = ?1::uuid AND u.external_surrogate_id = ?5)
	ORDER BY CASE
		WHEN u.tenant_id = ?1::uuid AND u.email_key = ?2 THEN 0
		WHEN u.tenant_id = ?1::uuid THEN 1
		ELSE 2
	END, u.updated_at DESC
	LIMIT 1
	FOR UPDATE
),
updated AS (
	UPDATE users AS u SET
		tenant_id = ?1::uuid,
		email = ?3,
		full_name = COALESCE(?4, u.full_name),
		external_surrogate_id = COALESCE(?5, u.external_surrogate_id),
		external_subject = COALESCE(?6, u.external_subject),
		auth_provider = ?7,
		user_type = ?8,
		id_token = ?9,
		id_token_expires_at = ?10::timestamptz,
		refresh_token = ?11,
		refresh_token_expires_at = ?12::timestamptz,
		version = u.version + 1,
		updated_at = ?13::timestamptz,
		last_login_at = ?13::timestamptz
	FROM target
	WHERE u.id = target.id
	RETURNING u.*, target.prev_tenant_id::text AS prev_tenant_id, target.prev_email::text AS prev_email,
		target.prev_full_name::text AS prev_full_name, false AS inserted
),
inserted AS (
	INSERT INTO users AS u (
		id, tenant_id, email, email_key, full_name, external_surrogate_id, external_subject,
		auth_provider, user_type, id_token, id_token_expires_at, refresh_token,
		refresh_token_expires_at, version, created_at, updated_at, last_login_at
	)
	SELECT ?0::uuid, ?1::uuid, ?3::varchar, ?2::varchar, ?4::varchar, ?5::varchar, ?6::varchar,
		?7::varchar, ?8::varchar, ?9::text, ?10::timestamptz, ?11::text,
		?12::timestamptz, 1, ?13::timestamptz, ?13::timestamptz, ?13::timestamptz
	WHERE NOT EXISTS (SELECT 1 FROM target)
	ON CONFLICT DO NOTHING
	RETURNING u.*, NULL::text AS prev_tenant_id, NULL::text AS prev_email,
		NULL::text AS prev_full_name, true AS inserted
)
SELECT * FROM updated
UNION ALL
SELECT * FROM inserted
`

// Upsert reconciles a login into exactly one user record.
//
// PostgreSQL runs a single data-modifying statement. Other stores run a
// bounded compare-and-swap loop on the version column. In both cases a lost
// insert race is reported as ErrDuplicateIdentity.
func (r *BunUserRepository) Upsert(ctx context.Context, in UserUpsert) (*UpsertResult, error) {
	if in.TenantID == "" || in.Email == "" {
		return nil, fmt.Errorf("upsert user: tenant and email are required")
	}
	if in.LoginAt.IsZero() {
		in.LoginAt = time.Now()
	}

	if bunx.IsPostgres(r.db) {
		return r.upsertStatement(ctx, in)
	}
	return r.upsertCAS(ctx, in)
}

func (r *BunUserRepository) upsertStatement(ctx context.Context, in UserUpsert) (*UpsertResult, error) {
	var row upsertRow
	err := r.db.NewRaw(pgUpsertQuery,
		bunx.NewUUIDv7(),
		in.TenantID,
		models.EmailKey(in.Email),
		in.Email,
		in.FullName,
		in.ExternalSurrogateID,
		in.ExternalSubject,
		in.AuthProvider,
		in.UserType,
		in.IDToken,
		in.IDTokenExpiresAt,
		in.RefreshToken,
		in.RefreshTokenExpiresAt,
		in.LoginAt,
	).Scan(ctx, &row)
	if err != nil {
		if err == sql.ErrNoRows || bunx.IsUniqueViolation(err) {
			return nil, ErrDuplicateIdentity
		}
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	user := row.User
	result := &UpsertResult{User: &user, Inserted: row.Inserted, PreviousFullName: row.PrevFullName}
	if row.PrevTenantID != nil {
		result.PreviousTenantID = *row.PrevTenantID
	}
	if row.PrevEmail != nil {
		result.PreviousEmail = *row.PrevEmail
	}
	return result, nil
}

func (r *BunUserRepository) upsertCAS(ctx context.Context, in UserUpsert) (*UpsertResult, error) {
	for attempt := 1; attempt <= maxUpsertAttempts; attempt++ {
		existing, err := r.findUpsertTarget(ctx, in)
		if errors.Is(err, ErrNotFound) {
			return r.insertNew(ctx, in)
		}
		if err != nil {
			return nil, err
		}

		res, err := r.db.NewUpdate().
			Model((*models.User)(nil)).
			Set("tenant_id = ?", in.TenantID).
			Set("email = ?", in.Email).
			Set("full_name = COALESCE(?, full_name)", in.FullName).
			Set("external_surrogate_id = COALESCE(?, external_surrogate_id)", in.ExternalSurrogateID).
			Set("external_subject = COALESCE(?, external_subject)", in.ExternalSubject).
			Set("auth_provider = ?", in.AuthProvider).
			Set("user_type = ?", in.UserType).
			Set("id_token = ?", in.IDToken).
			Set("id_token_expires_at = ?", in.IDTokenExpiresAt).
			Set("refresh_token = ?", in.RefreshToken).
			Set("refresh_token_expires_at = ?", in.RefreshTokenExpiresAt).
			Set("version = version + 1").
			Set("updated_at = ?", in.LoginAt).
			Set("last_login_at = ?", in.LoginAt).
			Where("id = ?", existing.ID).
			Where("version = ?", existing.Version).
			Exec(ctx)
		if err != nil {
			if bunx.IsUniqueViolation(err) {
				return nil, ErrDuplicateIdentity
			}
			return nil, fmt.Errorf("update user: %w", err)
		}

		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			// Version moved underneath us; re-read and try again
			continue
		}

		user, err := r.GetByID(ctx, existing.ID)
		if err != nil {
			return nil, err
		}
		return &UpsertResult{
			User:             user,
			PreviousTenantID: existing.TenantID,
			PreviousEmail:    existing.Email,
			PreviousFullName: existing.FullName,
		}, nil
	}

	return nil, fmt.Errorf("upsert user %s after %d attempts: %w", models.EmailKey(in.Email), maxUpsertAttempts, ErrUpsertContention)
}

// findUpsertTarget applies the same match order as pgUpsertQuery.
func (r *BunUserRepository) findUpsertTarget(ctx context.Context, in UserUpsert) (*models.User, error) {
	emailKey := models.EmailKey(in.Email)
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("u.email_key = ?", emailKey).
				WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
					return q.
						Where("u.tenant_id = ?", in.TenantID).
						WhereOr("u.external_surrogate_id IS NULL").
						WhereOr("u.external_surrogate_id = ?", in.ExternalSurrogateID)
				})
		}).
		WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("u.tenant_id = ?", in.TenantID).
				Where("u.external_surrogate_id = ?", in.ExternalSurrogateID)
		}).
		OrderExpr("CASE WHEN u.tenant_id = ? AND u.email_key = ? THEN 0 WHEN u.tenant_id = ? THEN 1 ELSE 2 END",
			in.TenantID, emailKey, in.TenantID).
		OrderExpr("u.updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find upsert target: %w", err)
	}
	return user, nil
}

func (r *BunUserRepository) insertNew(ctx context.Context, in UserUpsert) (*UpsertResult, error) {
	loginAt := in.LoginAt
	user := &models.User{
		ID:                    bunx.NewUUIDv7(),
		TenantID:              in.TenantID,
		Email:                 in.Email,
		EmailKey:              models.EmailKey(in.Email),
		FullName:              in.FullName,
		ExternalSubject:       in.ExternalSubject,
		ExternalSurrogateID:   in.ExternalSurrogateID,
		AuthProvider:          in.AuthProvider,
		UserType:              in.UserType,
		IDToken:               in.IDToken,
		IDTokenExpiresAt:      in.IDTokenExpiresAt,
		RefreshToken:          in.RefreshToken,
		RefreshTokenExpiresAt: in.RefreshTokenExpiresAt,
		Version:               1,
		CreatedAt:             loginAt,
		UpdatedAt:             loginAt,
		LastLoginAt:           &loginAt,
	}

	if _, err := r.db.NewInsert().Model(user).Exec(ctx); err != nil {
		if bunx.IsUniqueViolation(err) {
			return nil, ErrDuplicateIdentity
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &UpsertResult{User: user, Inserted: true}, nil
}

// GetByID retrieves a user by their ID
func (r *BunUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("u.id = ?", id).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get user by ID: %w", err)
	}
	return user, nil
}

// GetBySurrogate retrieves a user by the directory object id inside one tenant.
func (r *BunUserRepository) GetBySurrogate(ctx context.Context, tenantID, surrogateID string) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("u.tenant_id = ?", tenantID).
		Where("u.external_surrogate_id = ?", surrogateID).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user with surrogate id %s: %w", surrogateID, ErrNotFound)
		}
		return nil, fmt.Errorf("get user by surrogate id: %w", err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email inside one tenant (case-insensitive)
func (r *BunUserRepository) GetByEmail(ctx context.Context, tenantID, email string) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("u.tenant_id = ?", tenantID).
		Where("u.email_key = ?", models.EmailKey(email)).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user with email %s: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

// List retrieves the users of a tenant
func (r *BunUserRepository) List(ctx context.Context, tenantID string) ([]models.User, error) {
	var users []models.User
	err := r.db.NewSelect().
		Model(&users).
		Where("u.tenant_id = ?", tenantID).
		Order("u.created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}
