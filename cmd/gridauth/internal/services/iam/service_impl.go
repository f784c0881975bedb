package iam

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/auth"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/cache"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/config"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/events"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/identity"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/policy"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/repository"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/telemetry"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/tenancy"
)

// iamService implements the Service interface.
type iamService struct {
	exchanger     TokenExchanger
	resolver      TenantResolver
	users         repository.UserRepository
	roles         repository.RoleRepository
	permissions   repository.PermissionRepository
	refreshTokens repository.RefreshTokenRepository
	identities    cache.IdentityCache
	policy        *policy.Version

	upserts    *UpsertEngine
	aggregator *Aggregator
	issuer     *TokenIssuer

	claims          tenancy.ClaimConfig
	refreshTTL      time.Duration
	forceUpdateEvts bool
	now             func() time.Time
}

// IAMServiceDependencies contains all dependencies for IAM service construction.
//
// Exchanger may be nil for processes that never serve logins (the CLI).
// Identities and Publisher default to a no-op cache and publisher.
type IAMServiceDependencies struct {
	Exchanger     TokenExchanger
	Resolver      TenantResolver
	Users         repository.UserRepository
	Roles         repository.RoleRepository
	Permissions   repository.PermissionRepository
	RefreshTokens repository.RefreshTokenRepository
	Identities    cache.IdentityCache
	Publisher     events.Publisher
	Policy        *policy.Version
}

// IAMServiceConfig contains configuration for IAM service construction.
type IAMServiceConfig struct {
	Config *config.Config
}

// NewIAMService wires the login pipeline.
func NewIAMService(deps IAMServiceDependencies, cfg IAMServiceConfig) (Service, error) {
	if cfg.Config == nil {
		return nil, fmt.Errorf("iam service requires configuration")
	}
	if deps.Users == nil || deps.Roles == nil || deps.Permissions == nil || deps.RefreshTokens == nil {
		return nil, fmt.Errorf("iam service requires user, role, permission and refresh token repositories")
	}
	c := cfg.Config

	aggregator := NewAggregator(deps.Roles, deps.Permissions, c.Roles.SuperUserRole)
	issuer, err := NewTokenIssuer(aggregator, IssuerConfig{
		Secret:                  []byte(c.Session.Secret),
		TTL:                     c.Session.TTL,
		Issuer:                  "gridauth",
		FailClosedOnLookupError: c.Session.FailClosedOnLookupError,
	})
	if err != nil {
		return nil, fmt.Errorf("create token issuer: %w", err)
	}

	identities := deps.Identities
	if identities == nil {
		identities = noCache{}
	}
	version := deps.Policy
	if version == nil {
		version = policy.NewVersion(1)
	}
	telemetry.PolicyVersion.Set(float64(version.Current()))

	return &iamService{
		exchanger:     deps.Exchanger,
		resolver:      deps.Resolver,
		users:         deps.Users,
		roles:         deps.Roles,
		permissions:   deps.Permissions,
		refreshTokens: deps.RefreshTokens,
		identities:    identities,
		policy:        version,
		upserts: NewUpsertEngine(deps.Users, deps.Roles, deps.Publisher, map[string]string{
			models.UserTypeCRM:    c.Roles.DefaultCRMRole,
			models.UserTypeMember: c.Roles.DefaultMemberRole,
		}),
		aggregator: aggregator,
		issuer:     issuer,
		claims: tenancy.ClaimConfig{
			Primary:  c.Tenancy.DirectoryClaim,
			Fallback: c.Tenancy.DirectoryFallbackClaim,
		},
		refreshTTL:      c.Session.RefreshTokenTTL,
		forceUpdateEvts: c.Roles.ForceUpdateEvents,
		now:             time.Now,
	}, nil
}

// Authenticate runs the login pipeline.
func (s *iamService) Authenticate(ctx context.Context, code, codeVerifier string) (*AuthResult, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.Authenticate")
	defer span.End()

	result, connType, err := s.authenticate(ctx, code, codeVerifier)
	telemetry.AuthenticationsTotal.WithLabelValues(authOutcome(err), string(connType)).Inc()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String(telemetry.AttrUserID, result.User.ID),
		attribute.String(telemetry.AttrTenantID, result.User.TenantID),
	)
	return result, nil
}

func (s *iamService) authenticate(ctx context.Context, code, codeVerifier string) (*AuthResult, models.ConnectionType, error) {
	if s.exchanger == nil || s.resolver == nil {
		return nil, "", fmt.Errorf("authentication is not configured")
	}

	// Step 1: redeem the code at the IdP
	tokens, err := s.exchanger.Exchange(ctx, code, codeVerifier)
	if err != nil {
		return nil, "", err
	}

	// Step 2: canonical profile from the (already verified) id token
	profile, err := identity.Normalize(tokens.IDToken)
	if err != nil {
		return nil, "", err
	}
	connType := profile.ConnectionType()

	// Step 3: directory id → tenant. Consumer logins may still use the
	// configured default tenant when the token names no directory.
	directoryID, err := tenancy.DirectoryID(profile, s.claims)
	if err != nil && connType != models.ConnectionTypeConsumer {
		return nil, connType, err
	}
	tenant, err := s.resolver.Resolve(ctx, connType, directoryID)
	if err != nil {
		return nil, connType, err
	}

	// Step 4: one atomic user write
	user, err := s.upserts.Upsert(ctx, tenant, profile, tokens, UpsertOptions{ForceUpdateEvent: s.forceUpdateEvts})
	if err != nil {
		return nil, connType, err
	}

	// Step 5: session token
	issued, err := s.issuer.Issue(ctx, user)
	if err != nil {
		return nil, connType, err
	}

	// Step 6: refresh token handle
	refresh, refreshExpiry, err := s.mintRefreshToken(ctx, user, "")
	if err != nil {
		return nil, connType, err
	}

	s.cacheIdentity(ctx, user, issued)

	return &AuthResult{
		User:                  user,
		AccessToken:           issued.Token,
		ExpiresAt:             issued.ExpiresAt,
		RefreshToken:          refresh,
		RefreshTokenExpiresAt: refreshExpiry,
		Claims:                issued.Claims,
	}, connType, nil
}

// mintRefreshToken stores a new refresh token handle. When replacing is set
// the old handle is rotated in the same transaction.
func (s *iamService) mintRefreshToken(ctx context.Context, user *models.User, replacing string) (string, time.Time, error) {
	token, hash, err := auth.GenerateRefreshToken()
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := auth.RefreshTokenExpiry(s.now().UTC(), s.refreshTTL)
	record := &models.RefreshToken{
		UserID:    user.ID,
		TenantID:  user.TenantID,
		TokenHash: hash,
		ExpiresAt: expiresAt,
	}

	if replacing == "" {
		err = s.refreshTokens.Create(ctx, record)
	} else {
		err = s.refreshTokens.Rotate(ctx, replacing, record)
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Refresh rotates a refresh token.
func (s *iamService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.Refresh")
	defer span.End()

	pair, err := s.refresh(ctx, refreshToken)
	telemetry.RefreshesTotal.WithLabelValues(authOutcome(err)).Inc()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return pair, nil
}

func (s *iamService) refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidRefreshToken)
	}

	current, err := s.refreshTokens.GetByHash(ctx, auth.HashRefreshToken(refreshToken))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown token", ErrInvalidRefreshToken)
	}
	if err != nil {
		return nil, fmt.Errorf("load refresh token: %w", err)
	}

	now := s.now()
	if current.RevokedAt != nil {
		s.revokeChain(ctx, current.UserID, "reuse of a rotated refresh token")
		return nil, fmt.Errorf("%w: token already used", ErrInvalidRefreshToken)
	}
	if !current.Usable(now) {
		return nil, fmt.Errorf("%w: token expired", ErrInvalidRefreshToken)
	}

	user, err := s.users.GetByID(ctx, current.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: user no longer exists", ErrInvalidRefreshToken)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.TenantID != current.TenantID {
		// The user moved tenants since this token was issued
		s.revokeChain(ctx, user.ID, "tenant changed")
		return nil, fmt.Errorf("%w: tenant changed", ErrInvalidRefreshToken)
	}

	issued, err := s.issuer.Issue(ctx, user)
	if err != nil {
		return nil, err
	}

	next, nextExpiry, err := s.mintRefreshToken(ctx, user, current.ID)
	if errors.Is(err, repository.ErrTokenAlreadyRotated) {
		s.revokeChain(ctx, user.ID, "concurrent refresh token reuse")
		return nil, fmt.Errorf("%w: token already used", ErrInvalidRefreshToken)
	}
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	s.cacheIdentity(ctx, user, issued)

	return &TokenPair{
		AccessToken:           issued.Token,
		ExpiresAt:             issued.ExpiresAt,
		RefreshToken:          next,
		RefreshTokenExpiresAt: nextExpiry,
	}, nil
}

func (s *iamService) revokeChain(ctx context.Context, userID, reason string) {
	n, err := s.refreshTokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		log.Printf("ERROR: revoke refresh tokens for user %s (%s): %v", userID, reason, err)
		return
	}
	log.Printf("WARNING: revoked %d refresh tokens for user %s: %s", n, userID, reason)
}

// VerifySession checks a bearer session token.
func (s *iamService) VerifySession(token string) (*SessionClaims, error) {
	return s.issuer.Verify(token)
}

// CurrentIdentity reads through the identity cache.
func (s *iamService) CurrentIdentity(ctx context.Context, tenantID, userID string) (*cache.Identity, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.CurrentIdentity",
		attribute.String(telemetry.AttrTenantID, tenantID),
		attribute.String(telemetry.AttrUserID, userID),
	)
	defer span.End()

	version := s.policy.Current()
	cached, ok, err := s.identities.Get(ctx, tenantID, userID)
	switch {
	case err != nil:
		telemetry.IdentityCacheRequests.WithLabelValues("error").Inc()
		log.Printf("WARNING: identity cache bypassed: %v", err)
	case ok && cached.PolicyVersion == version:
		telemetry.IdentityCacheRequests.WithLabelValues("hit").Inc()
		span.SetAttributes(attribute.Bool(telemetry.AttrCacheHit, true))
		return cached, nil
	case ok:
		telemetry.IdentityCacheRequests.WithLabelValues("stale").Inc()
	default:
		telemetry.IdentityCacheRequests.WithLabelValues("miss").Inc()
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.TenantID != tenantID {
		return nil, fmt.Errorf("load user: %w", repository.ErrNotFound)
	}

	grant, err := s.aggregator.Aggregate(ctx, user.ID, user.TenantID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	ident := newIdentity(user, grant.Roles, NormalizePermissions(grant.Permissions), version, s.now())
	if err := s.identities.Set(ctx, ident); err != nil {
		log.Printf("WARNING: identity cache write skipped: %v", err)
	}
	return ident, nil
}

// cacheIdentity primes the cache after a successful issuance. Degraded
// grants are never cached.
func (s *iamService) cacheIdentity(ctx context.Context, user *models.User, issued *IssuedToken) {
	if issued.Degraded {
		_ = s.identities.Delete(ctx, user.TenantID, user.ID)
		return
	}
	ident := newIdentity(user, issued.Claims.Roles, issued.Claims.Permissions, s.policy.Current(), s.now())
	if err := s.identities.Set(ctx, ident); err != nil {
		log.Printf("WARNING: identity cache write skipped: %v", err)
	}
}

func newIdentity(user *models.User, roles []cache.RoleSummary, permissions []string, version uint64, now time.Time) *cache.Identity {
	return &cache.Identity{
		UserID:        user.ID,
		TenantID:      user.TenantID,
		Email:         user.Email,
		FullName:      user.FullName,
		UserType:      user.UserType,
		Roles:         roles,
		Permissions:   permissions,
		PolicyVersion: version,
		CachedAt:      now.UTC(),
	}
}

// CreateRole stores a new role.
func (s *iamService) CreateRole(ctx context.Context, role *models.Role) error {
	if err := s.checkReferences(ctx, role.Permissions); err != nil {
		return err
	}
	if err := s.roles.Create(ctx, role); err != nil {
		return err
	}
	s.bumpPolicy("role created", role.TenantID, role.Code)
	return nil
}

// GrantPermission adds a permission entry to a role.
func (s *iamService) GrantPermission(ctx context.Context, tenantID, roleCode string, ref models.PermissionRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if err := s.checkReferences(ctx, models.PermissionRefs{ref}); err != nil {
		return err
	}
	role, err := s.roles.GetByCode(ctx, tenantID, roleCode)
	if err != nil {
		return fmt.Errorf("load role %s: %w", roleCode, err)
	}
	if err := s.roles.AddPermission(ctx, role.ID, ref); err != nil {
		return err
	}
	s.bumpPolicy("permission granted", tenantID, roleCode)
	return nil
}

// AssignRole assigns a tenant role to a user of the same tenant.
func (s *iamService) AssignRole(ctx context.Context, tenantID, userID, roleCode, assignedBy string) error {
	user, role, err := s.userAndRole(ctx, tenantID, userID, roleCode)
	if err != nil {
		return err
	}

	assignment := &models.UserRole{UserID: user.ID, RoleID: role.ID, TenantID: tenantID}
	if assignedBy != "" {
		assignment.AssignedBy = &assignedBy
	}
	if _, err := s.roles.AssignToUser(ctx, assignment); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID, user.ID)
	s.bumpPolicy("role assigned", tenantID, roleCode)
	return nil
}

// RevokeRole removes a role assignment.
func (s *iamService) RevokeRole(ctx context.Context, tenantID, userID, roleCode string) error {
	user, role, err := s.userAndRole(ctx, tenantID, userID, roleCode)
	if err != nil {
		return err
	}
	if err := s.roles.RevokeFromUser(ctx, user.ID, role.ID); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID, user.ID)
	s.bumpPolicy("role revoked", tenantID, roleCode)
	return nil
}

// PolicyVersion returns the current policy version.
func (s *iamService) PolicyVersion() uint64 {
	return s.policy.Current()
}

func (s *iamService) userAndRole(ctx context.Context, tenantID, userID, roleCode string) (*models.User, *models.Role, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	if user.TenantID != tenantID {
		return nil, nil, fmt.Errorf("load user %s: %w", userID, repository.ErrNotFound)
	}
	role, err := s.roles.GetByCode(ctx, tenantID, roleCode)
	if err != nil {
		return nil, nil, fmt.Errorf("load role %s: %w", roleCode, err)
	}
	return user, role, nil
}

// checkReferences rejects catalog references that do not resolve.
func (s *iamService) checkReferences(ctx context.Context, refs models.PermissionRefs) error {
	var ids []string
	for _, ref := range refs {
		if ref.Kind == models.PermissionRefReference {
			ids = append(ids, ref.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	ids = uniqueStrings(ids)
	found, err := s.permissions.GetByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolve permission references: %w", err)
	}
	if len(found) != len(ids) {
		return fmt.Errorf("permission reference: %w", repository.ErrNotFound)
	}
	return nil
}

func (s *iamService) invalidate(ctx context.Context, tenantID, userID string) {
	if err := s.identities.Delete(ctx, tenantID, userID); err != nil {
		log.Printf("WARNING: identity cache invalidation for %s/%s failed: %v", tenantID, userID, err)
	}
}

func (s *iamService) bumpPolicy(reason, tenantID, roleCode string) {
	v := s.policy.Bump()
	telemetry.PolicyVersion.Set(float64(v))
	log.Printf("INFO: policy version %d (%s: tenant=%s role=%s)", v, reason, tenantID, roleCode)
}

func authOutcome(err error) string {
	switch {
	case err == nil:
		return telemetry.OutcomeSuccess
	case errors.Is(err, auth.ErrIdPUnreachable):
		return telemetry.OutcomeUnreachable
	case errors.Is(err, auth.ErrIdPRejected), errors.Is(err, ErrInvalidRefreshToken):
		return telemetry.OutcomeRejected
	case errors.Is(err, tenancy.ErrTenantNotFound):
		return telemetry.OutcomeNoTenant
	case errors.Is(err, identity.ErrMalformedIdentityToken):
		return telemetry.OutcomeMalformed
	default:
		return telemetry.OutcomeError
	}
}

// noCache is used when no identity cache is configured.
type noCache struct{}

func (noCache) Get(context.Context, string, string) (*cache.Identity, bool, error) {
	return nil, false, nil
}

func (noCache) Set(context.Context, *cache.Identity) error { return nil }

func (noCache) Delete(context.Context, string, string) error { return nil }
