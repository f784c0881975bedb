package iam

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/auth"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/events"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/identity"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/repository"
)

func strPtr(s string) *string { return &s }

func enterpriseProfile(email string) *identity.Profile {
	return &identity.Profile{
		Subject:     strPtr("sub-1"),
		Email:       strPtr(email),
		FullName:    strPtr("Eve One"),
		ObjectID:    strPtr("oid-1"),
		DirectoryID: strPtr("dir-1"),
	}
}

var defaultRoles = map[string]string{
	models.UserTypeCRM:    "read-only",
	models.UserTypeMember: "non-member",
}

func TestUpsertEngine_NewUserGetsDefaultRole(t *testing.T) {
	t.Parallel()

	tenant := &models.Tenant{ID: "t1", Code: "t1"}
	user := &models.User{ID: "u1", TenantID: "t1", Email: "e1@x.com", EmailKey: "e1@x.com", UserType: models.UserTypeCRM}
	users := &scriptedUserRepository{upsertRes: &repository.UpsertResult{User: user, Inserted: true}}
	roles := newStubRoleRepository(models.Role{ID: "r-ro", TenantID: "t1", Code: "read-only", Name: "Read only"})
	pub := &recordingPublisher{}

	engine := NewUpsertEngine(users, roles, pub, defaultRoles)
	tokens := &auth.ProviderTokens{IDToken: "id-token", RefreshToken: "idp-refresh"}
	got, err := engine.Upsert(context.Background(), tenant, enterpriseProfile("e1@x.com"), tokens, UpsertOptions{})
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	require.Len(t, users.upserts, 1)
	in := users.upserts[0]
	assert.Equal(t, "t1", in.TenantID)
	assert.Equal(t, AuthProviderEnterprise, in.AuthProvider)
	assert.Equal(t, models.UserTypeCRM, in.UserType)
	assert.Equal(t, "oid-1", *in.ExternalSurrogateID)
	assert.Equal(t, "id-token", *in.IDToken)
	assert.Equal(t, "idp-refresh", *in.RefreshToken)

	assigned, err := roles.ListForUser(context.Background(), "u1", "t1")
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, "read-only", assigned[0].Code)

	assert.Equal(t, []string{events.UserCreated}, pub.types())
}

func TestUpsertEngine_ExistingRolesAreKept(t *testing.T) {
	t.Parallel()

	user := &models.User{ID: "u1", TenantID: "t1", Email: "e1@x.com", FullName: strPtr("Eve One"), UserType: models.UserTypeCRM}
	users := &scriptedUserRepository{upsertRes: &repository.UpsertResult{
		User: user, PreviousEmail: "e1@x.com", PreviousFullName: strPtr("Eve One"), PreviousTenantID: "t1",
	}}
	roles := newStubRoleRepository(
		models.Role{ID: "r-ro", TenantID: "t1", Code: "read-only"},
		models.Role{ID: "r-ed", TenantID: "t1", Code: "editor"},
	)
	roles.assign("u1", "r-ed", "t1")
	pub := &recordingPublisher{}

	engine := NewUpsertEngine(users, roles, pub, defaultRoles)
	_, err := engine.Upsert(context.Background(), &models.Tenant{ID: "t1"}, enterpriseProfile("e1@x.com"), nil, UpsertOptions{})
	require.NoError(t, err)

	assigned, _ := roles.ListForUser(context.Background(), "u1", "t1")
	require.Len(t, assigned, 1)
	assert.Equal(t, "editor", assigned[0].Code)
	assert.Empty(t, pub.types(), "no visible change, no event")

	_, err = engine.Upsert(context.Background(), &models.Tenant{ID: "t1"}, enterpriseProfile("e1@x.com"), nil, UpsertOptions{ForceUpdateEvent: true})
	require.NoError(t, err)
	assert.Equal(t, []string{events.UserUpdated}, pub.types())
}

func TestUpsertEngine_UpdateEventOnVisibleChange(t *testing.T) {
	t.Parallel()

	user := &models.User{ID: "u1", TenantID: "t2", Email: "e1@x.com", FullName: strPtr("Eve Renamed"), UserType: models.UserTypeCRM}
	users := &scriptedUserRepository{upsertRes: &repository.UpsertResult{
		User: user, PreviousEmail: "e1@x.com", PreviousFullName: strPtr("Eve One"), PreviousTenantID: "t1",
	}}
	roles := newStubRoleRepository(models.Role{ID: "r-ro", TenantID: "t2", Code: "read-only"})
	pub := &recordingPublisher{}

	_, err := NewUpsertEngine(users, roles, pub, defaultRoles).
		Upsert(context.Background(), &models.Tenant{ID: "t2"}, enterpriseProfile("e1@x.com"), nil, UpsertOptions{})
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	evt := pub.events[0]
	assert.Equal(t, events.UserUpdated, evt.Type)
	assert.Equal(t, events.Change{From: "Eve One", To: "Eve Renamed"}, evt.Changes["fullName"])
	assert.Equal(t, events.Change{From: "t1", To: "t2"}, evt.Changes["tenantId"])

	assigned, _ := roles.ListForUser(context.Background(), "u1", "t2")
	assert.Len(t, assigned, 1, "migrated legacy user without roles in the new tenant gets the default")
}

func TestUpsertEngine_RaceIsRecoveredByReRead(t *testing.T) {
	t.Parallel()

	for _, raceErr := range []error{repository.ErrDuplicateIdentity, repository.ErrUpsertContention} {
		t.Run(raceErr.Error(), func(t *testing.T) {
			t.Parallel()

			winner := &models.User{ID: "u-winner", TenantID: "t1", Email: "e1@x.com", EmailKey: "e1@x.com", UserType: models.UserTypeCRM}
			users := &scriptedUserRepository{
				upsertErr: raceErr,
				users:     map[string]*models.User{winner.ID: winner},
			}
			roles := newStubRoleRepository(models.Role{ID: "r-ro", TenantID: "t1", Code: "read-only"})
			roles.assign("u-winner", "r-ro", "t1")
			pub := &recordingPublisher{}

			got, err := NewUpsertEngine(users, roles, pub, defaultRoles).
				Upsert(context.Background(), &models.Tenant{ID: "t1"}, enterpriseProfile("E1@x.com"), nil, UpsertOptions{})
			require.NoError(t, err)
			assert.Equal(t, "u-winner", got.ID)
			assert.Empty(t, pub.types(), "the winner already emitted user.created")
		})
	}
}

func TestUpsertEngine_EmailChangeEmitsUpdate(t *testing.T) {
	t.Parallel()

	user := &models.User{ID: "u1", TenantID: "t1", Email: "new@x.com", EmailKey: "new@x.com", FullName: strPtr("Eve One"), UserType: models.UserTypeCRM}
	users := &scriptedUserRepository{upsertRes: &repository.UpsertResult{
		User: user, PreviousEmail: "old@x.com", PreviousFullName: strPtr("Eve One"), PreviousTenantID: "t1",
	}}
	roles := newStubRoleRepository(models.Role{ID: "r-ro", TenantID: "t1", Code: "read-only"})
	roles.assign("u1", "r-ro", "t1")
	pub := &recordingPublisher{}

	got, err := NewUpsertEngine(users, roles, pub, defaultRoles).
		Upsert(context.Background(), &models.Tenant{ID: "t1"}, enterpriseProfile("new@x.com"), nil, UpsertOptions{})
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	require.Len(t, pub.events, 1)
	evt := pub.events[0]
	assert.Equal(t, events.UserUpdated, evt.Type)
	assert.Equal(t, events.Change{From: "old@x.com", To: "new@x.com"}, evt.Changes["email"])
	assert.NotContains(t, evt.Changes, "tenantId")
}

func TestUpsertEngine_RaceReReadsBySurrogate(t *testing.T) {
	t.Parallel()

	// The concurrent winner stored the new email; the old one no longer resolves
	winner := &models.User{
		ID: "u-winner", TenantID: "t1", Email: "new@x.com", EmailKey: "new@x.com",
		ExternalSurrogateID: strPtr("oid-1"), UserType: models.UserTypeCRM,
	}
	users := &scriptedUserRepository{
		upsertErr: repository.ErrDuplicateIdentity,
		users:     map[string]*models.User{winner.ID: winner},
	}
	roles := newStubRoleRepository(models.Role{ID: "r-ro", TenantID: "t1", Code: "read-only"})
	roles.assign("u-winner", "r-ro", "t1")

	got, err := NewUpsertEngine(users, roles, &recordingPublisher{}, defaultRoles).
		Upsert(context.Background(), &models.Tenant{ID: "t1"}, enterpriseProfile("old@x.com"), nil, UpsertOptions{})
	require.NoError(t, err)
	assert.Equal(t, "u-winner", got.ID)

	// Without a surrogate the email lookup is the only option
	consumer := &identity.Profile{Subject: strPtr("sub-2"), Email: strPtr("old@x.com")}
	_, err = NewUpsertEngine(users, roles, nil, defaultRoles).
		Upsert(context.Background(), &models.Tenant{ID: "t1"}, consumer, nil, UpsertOptions{})
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestUpsertEngine_Errors(t *testing.T) {
	t.Parallel()

	engine := NewUpsertEngine(&scriptedUserRepository{}, newStubRoleRepository(), nil, defaultRoles)

	_, err := engine.Upsert(context.Background(), nil, enterpriseProfile("e@x.com"), nil, UpsertOptions{})
	require.Error(t, err)

	_, err = engine.Upsert(context.Background(), &models.Tenant{ID: "t1"}, &identity.Profile{Subject: strPtr("s")}, nil, UpsertOptions{})
	assert.True(t, errors.Is(err, identity.ErrMalformedIdentityToken))

	store := &scriptedUserRepository{upsertErr: errStoreDown}
	_, err = NewUpsertEngine(store, newStubRoleRepository(), nil, defaultRoles).
		Upsert(context.Background(), &models.Tenant{ID: "t1"}, enterpriseProfile("e@x.com"), nil, UpsertOptions{})
	assert.True(t, errors.Is(err, errStoreDown))

	user := &models.User{ID: "u1", TenantID: "t1", UserType: models.UserTypeCRM}
	roles := newStubRoleRepository()
	roles.countErr = errStoreDown
	_, err = NewUpsertEngine(&scriptedUserRepository{upsertRes: &repository.UpsertResult{User: user, Inserted: true}}, roles, nil, defaultRoles).
		Upsert(context.Background(), &models.Tenant{ID: "t1"}, enterpriseProfile("e@x.com"), nil, UpsertOptions{})
	assert.True(t, errors.Is(err, errStoreDown))
}

func TestUpsertEngine_MissingDefaultRoleIsNotFatal(t *testing.T) {
	t.Parallel()

	user := &models.User{ID: "u1", TenantID: "t1", UserType: models.UserTypeMember}
	users := &scriptedUserRepository{upsertRes: &repository.UpsertResult{User: user, Inserted: true}}

	got, err := NewUpsertEngine(users, newStubRoleRepository(), nil, defaultRoles).
		Upsert(context.Background(), &models.Tenant{ID: "t1"}, enterpriseProfile("m@x.com"), nil, UpsertOptions{})
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
}
