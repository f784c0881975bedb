package tenancy

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/identity"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/repository"
)

// mockTenantRepository is an in-memory TenantRepository keyed by binding
type mockTenantRepository struct {
	mu       sync.RWMutex
	bindings map[string]*models.Tenant
	err      error
	calls    int
}

func newMockTenantRepository() *mockTenantRepository {
	return &mockTenantRepository{bindings: make(map[string]*models.Tenant)}
}

func (m *mockTenantRepository) bind(connType models.ConnectionType, directoryID string, tenant *models.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[string(connType)+"|"+directoryID] = tenant
}

func (m *mockTenantRepository) FindByDirectoryBinding(_ context.Context, connType models.ConnectionType, directoryID string) (*models.Tenant, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	if t, ok := m.bindings[string(connType)+"|"+directoryID]; ok {
		return t, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockTenantRepository) GetByID(context.Context, string) (*models.Tenant, error) {
	return nil, repository.ErrNotFound
}

func (m *mockTenantRepository) GetByCode(context.Context, string) (*models.Tenant, error) {
	return nil, repository.ErrNotFound
}

func (m *mockTenantRepository) Create(context.Context, *models.Tenant) error { return nil }

func (m *mockTenantRepository) AddBinding(context.Context, *models.TenantAuthBinding) error {
	return nil
}

func (m *mockTenantRepository) List(context.Context) ([]models.Tenant, error) { return nil, nil }

var defaultTenant = &FallbackTenant{ID: "00000000-0000-7000-8000-0000000000de", Code: "public"}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	t1 := &models.Tenant{ID: "tenant-1", Code: "t1", Status: models.TenantStatusActive}
	storeDown := errors.New("connection refused")

	tests := []struct {
		name       string
		connType   models.ConnectionType
		directory  string
		storeErr   error
		fallback   *FallbackTenant
		wantTenant string
		wantErr    error
	}{
		{name: "enterprise match", connType: models.ConnectionTypeEnterprise, directory: "D1", wantTenant: "tenant-1"},
		{name: "enterprise mismatch fails closed", connType: models.ConnectionTypeEnterprise, directory: "D9", fallback: defaultTenant, wantErr: ErrTenantNotFound},
		{name: "enterprise store failure is not defaulted", connType: models.ConnectionTypeEnterprise, directory: "D1", storeErr: storeDown, fallback: defaultTenant, wantErr: storeDown},
		{name: "enterprise missing directory", connType: models.ConnectionTypeEnterprise, directory: "", wantErr: ErrTenantNotFound},
		{name: "consumer binding wins over fallback", connType: models.ConnectionTypeConsumer, directory: "C1", fallback: defaultTenant, wantTenant: "tenant-1"},
		{name: "consumer mismatch uses fallback", connType: models.ConnectionTypeConsumer, directory: "C9", fallback: defaultTenant, wantTenant: defaultTenant.ID},
		{name: "consumer store failure uses fallback", connType: models.ConnectionTypeConsumer, directory: "C1", storeErr: storeDown, fallback: defaultTenant, wantTenant: defaultTenant.ID},
		{name: "consumer without fallback fails closed", connType: models.ConnectionTypeConsumer, directory: "C9", wantErr: ErrTenantNotFound},
		{name: "unknown connection type", connType: "partner", directory: "D1", wantErr: ErrTenantNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := newMockTenantRepository()
			repo.bind(models.ConnectionTypeEnterprise, "D1", t1)
			repo.bind(models.ConnectionTypeConsumer, "C1", t1)
			repo.err = tt.storeErr

			r := NewResolver(repo, ResolverConfig{DefaultTenant: tt.fallback})
			got, err := r.Resolve(context.Background(), tt.connType, tt.directory)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTenant, got.ID)
			assert.True(t, got.IsActive())
		})
	}
}

func profileFrom(t *testing.T, payload string) *identity.Profile {
	t.Helper()
	enc := base64.RawURLEncoding.EncodeToString
	p, err := identity.Normalize(enc([]byte(`{"alg":"none"}`)) + "." + enc([]byte(payload)) + ".")
	require.NoError(t, err)
	return p
}

func TestDirectoryID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		cfg     ClaimConfig
		want    string
		wantErr bool
	}{
		{name: "primary claim", payload: `{"tid":"D1","tenantId":"D2"}`, want: "D1"},
		{name: "fallback claim", payload: `{"tenantId":"D2","iss":"https://login.example.com/D3/v2.0"}`, want: "D2"},
		{name: "issuer pattern", payload: `{"iss":"https://tenant.b2clogin.com/D3/v2.0/"}`, want: "D3"},
		{name: "custom claims", payload: `{"org":"O1"}`, cfg: ClaimConfig{Primary: "org"}, want: "O1"},
		{name: "issuer without version", payload: `{"iss":"https://login.example.com/D3"}`, wantErr: true},
		{name: "nothing", payload: `{"sub":"s"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DirectoryID(profileFrom(t, tt.payload), tt.cfg)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrTenantNotFound))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := DirectoryID(nil, ClaimConfig{})
	assert.True(t, errors.Is(err, ErrTenantNotFound))
}
