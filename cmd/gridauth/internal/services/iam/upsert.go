package iam

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/auth"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/events"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/identity"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/repository"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/telemetry"
)

// Auth provider names recorded on the user.
const (
	AuthProviderEnterprise = "entra"
	AuthProviderConsumer   = "b2c"
)

// UpsertOptions tunes event emission.
type UpsertOptions struct {
	// ForceUpdateEvent emits user.updated even when no visible field changed.
	ForceUpdateEvent bool
}

// UpsertEngine returns the single authoritative user record for a login.
type UpsertEngine struct {
	users        repository.UserRepository
	roles        repository.RoleRepository
	publisher    events.Publisher
	defaultRoles map[string]string // user type -> role code
	now          func() time.Time
}

// NewUpsertEngine creates an engine. defaultRoles maps a user type to the
// role code assigned when the user holds no role in its tenant.
func NewUpsertEngine(users repository.UserRepository, roles repository.RoleRepository, publisher events.Publisher, defaultRoles map[string]string) *UpsertEngine {
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &UpsertEngine{
		users:        users,
		roles:        roles,
		publisher:    publisher,
		defaultRoles: defaultRoles,
		now:          time.Now,
	}
}

// Upsert creates or reconciles the user for profile inside tenant.
//
// A lost insert race is recovered by re-reading the winner, so concurrent
// first logins for one identity all return the same record.
func (e *UpsertEngine) Upsert(ctx context.Context, tenant *models.Tenant, profile *identity.Profile, tokens *auth.ProviderTokens, opts UpsertOptions) (*models.User, error) {
	if tenant == nil || tenant.ID == "" {
		return nil, fmt.Errorf("upsert user: no resolved tenant")
	}
	if profile == nil || profile.Email == nil {
		return nil, fmt.Errorf("%w: no email claim", identity.ErrMalformedIdentityToken)
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.UpsertUser",
		attribute.String(telemetry.AttrTenantID, tenant.ID),
	)
	defer span.End()

	in := e.upsertInput(tenant, profile, tokens)

	res, err := e.users.Upsert(ctx, in)
	if errors.Is(err, repository.ErrDuplicateIdentity) || errors.Is(err, repository.ErrUpsertContention) {
		telemetry.AddEvent(span, "upsert.race_recovered")
		user, readErr := e.reread(ctx, in)
		if readErr != nil {
			telemetry.RecordError(span, readErr)
			return nil, fmt.Errorf("re-read user after upsert race: %w", readErr)
		}
		res, err = &repository.UpsertResult{User: user, PreviousEmail: user.Email, PreviousFullName: user.FullName, PreviousTenantID: user.TenantID}, nil
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	user := res.User
	span.SetAttributes(
		attribute.String(telemetry.AttrUserID, user.ID),
		attribute.Bool(telemetry.AttrUserInserted, res.Inserted),
	)

	if err := e.ensureDefaultRole(ctx, user); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	e.emit(ctx, res, opts)
	return user, nil
}

// reread loads the record a concurrent login wrote. The surrogate id is
// tried first since the winner may have stored a different email.
func (e *UpsertEngine) reread(ctx context.Context, in repository.UserUpsert) (*models.User, error) {
	if in.ExternalSurrogateID != nil && *in.ExternalSurrogateID != "" {
		user, err := e.users.GetBySurrogate(ctx, in.TenantID, *in.ExternalSurrogateID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	return e.users.GetByEmail(ctx, in.TenantID, in.Email)
}

func (e *UpsertEngine) upsertInput(tenant *models.Tenant, profile *identity.Profile, tokens *auth.ProviderTokens) repository.UserUpsert {
	provider := AuthProviderEnterprise
	if profile.ConnectionType() == models.ConnectionTypeConsumer {
		provider = AuthProviderConsumer
	}

	in := repository.UserUpsert{
		TenantID:            tenant.ID,
		Email:               *profile.Email,
		FullName:            profile.FullName,
		ExternalSubject:     profile.Subject,
		ExternalSurrogateID: profile.ObjectID,
		AuthProvider:        provider,
		UserType:            profile.UserType(),
		LoginAt:             e.now().UTC(),
	}
	if tokens != nil {
		if tokens.IDToken != "" {
			in.IDToken = &tokens.IDToken
			in.IDTokenExpiresAt = tokens.IDTokenExpiresAt
		}
		if tokens.RefreshToken != "" {
			in.RefreshToken = &tokens.RefreshToken
			in.RefreshTokenExpiresAt = tokens.RefreshTokenExpiresAt
		}
	}
	return in
}

// ensureDefaultRole assigns the category default role when the user holds
// no role in its tenant. A tenant without that role is logged, not fatal.
func (e *UpsertEngine) ensureDefaultRole(ctx context.Context, user *models.User) error {
	count, err := e.roles.CountForUser(ctx, user.ID, user.TenantID)
	if err != nil {
		return fmt.Errorf("count user roles: %w", err)
	}
	if count > 0 {
		return nil
	}

	code := e.defaultRoles[user.UserType]
	if code == "" {
		log.Printf("WARNING: no default role configured for user type %q", user.UserType)
		return nil
	}

	role, err := e.roles.GetByCode(ctx, user.TenantID, code)
	if errors.Is(err, repository.ErrNotFound) {
		log.Printf("WARNING: tenant %s has no default role %q, user %s left without roles", user.TenantID, code, user.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load default role %s: %w", code, err)
	}

	if _, err := e.roles.AssignToUser(ctx, &models.UserRole{
		UserID:   user.ID,
		RoleID:   role.ID,
		TenantID: user.TenantID,
	}); err != nil {
		return fmt.Errorf("assign default role %s: %w", code, err)
	}
	log.Printf("INFO: assigned default role %s to user %s", code, user.ID)
	return nil
}

func (e *UpsertEngine) emit(ctx context.Context, res *repository.UpsertResult, opts UpsertOptions) {
	user := res.User
	if res.Inserted {
		telemetry.UserUpsertsTotal.WithLabelValues("inserted").Inc()
		e.publisher.Publish(ctx, events.Event{
			Type:     events.UserCreated,
			TenantID: user.TenantID,
			UserID:   user.ID,
			Email:    user.Email,
			UserType: user.UserType,
		})
		return
	}

	changes := map[string]events.Change{}
	if res.PreviousEmail != user.Email {
		changes["email"] = events.Change{From: res.PreviousEmail, To: user.Email}
	}
	if prev, cur := deref(res.PreviousFullName), user.DisplayName(); prev != cur {
		changes["fullName"] = events.Change{From: prev, To: cur}
	}
	visible := len(changes) > 0

	result := "updated"
	if res.PreviousTenantID != "" && res.PreviousTenantID != user.TenantID {
		changes["tenantId"] = events.Change{From: res.PreviousTenantID, To: user.TenantID}
		result = "migrated"
		log.Printf("INFO: user %s migrated from tenant %s to %s", user.ID, res.PreviousTenantID, user.TenantID)
	}
	telemetry.UserUpsertsTotal.WithLabelValues(result).Inc()

	if !visible && !opts.ForceUpdateEvent {
		return
	}
	e.publisher.Publish(ctx, events.Event{
		Type:     events.UserUpdated,
		TenantID: user.TenantID,
		UserID:   user.ID,
		Email:    user.Email,
		UserType: user.UserType,
		Changes:  changes,
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
