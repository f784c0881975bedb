package iam

import (
	"context"
	"errors"
	"sync"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/events"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/repository"
)

var errStoreDown = errors.New("store unavailable")

// stubRoleRepository holds roles and assignments in memory.
type stubRoleRepository struct {
	mu          sync.RWMutex
	roles       map[string]models.Role
	assignments []models.UserRole
	listErr     error
	countErr    error
}

func newStubRoleRepository(roles ...models.Role) *stubRoleRepository {
	s := &stubRoleRepository{roles: map[string]models.Role{}}
	for _, r := range roles {
		s.roles[r.ID] = r
	}
	return s
}

func (s *stubRoleRepository) Create(_ context.Context, role *models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[role.ID] = *role
	return nil
}

func (s *stubRoleRepository) GetByCode(_ context.Context, tenantID, code string) (*models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if r.TenantID == tenantID && r.Code == code {
			r := r
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubRoleRepository) ListByTenant(_ context.Context, tenantID string) ([]models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Role
	for _, r := range s.roles {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubRoleRepository) ListForUser(_ context.Context, userID, tenantID string) ([]models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := []models.Role{}
	for _, a := range s.assignments {
		r, ok := s.roles[a.RoleID]
		if a.UserID == userID && a.TenantID == tenantID && ok && r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubRoleRepository) CountForUser(ctx context.Context, userID, tenantID string) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	roles, err := s.ListForUser(ctx, userID, tenantID)
	return len(roles), err
}

func (s *stubRoleRepository) AddPermission(_ context.Context, roleID string, ref models.PermissionRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok {
		return repository.ErrNotFound
	}
	r.Permissions = append(r.Permissions, ref)
	s.roles[roleID] = r
	return nil
}

func (s *stubRoleRepository) AssignToUser(_ context.Context, a *models.UserRole) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.assignments {
		if existing.UserID == a.UserID && existing.RoleID == a.RoleID {
			return false, nil
		}
	}
	s.assignments = append(s.assignments, *a)
	return true, nil
}

func (s *stubRoleRepository) RevokeFromUser(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.assignments {
		if a.UserID == userID && a.RoleID == roleID {
			s.assignments = append(s.assignments[:i], s.assignments[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *stubRoleRepository) assign(userID, roleID, tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = append(s.assignments, models.UserRole{UserID: userID, RoleID: roleID, TenantID: tenantID})
}

// stubPermissionRepository is a fixed catalog.
type stubPermissionRepository struct {
	mu      sync.RWMutex
	catalog map[string]models.Permission
	err     error
	calls   int
}

func newStubPermissionRepository(perms ...models.Permission) *stubPermissionRepository {
	s := &stubPermissionRepository{catalog: map[string]models.Permission{}}
	for _, p := range perms {
		s.catalog[p.ID] = p
	}
	return s
}

func (s *stubPermissionRepository) Create(_ context.Context, p *models.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[p.ID] = *p
	return nil
}

func (s *stubPermissionRepository) GetByCode(_ context.Context, code string) (*models.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.catalog {
		if p.Code == code {
			p := p
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubPermissionRepository) GetByIDs(_ context.Context, ids []string) ([]models.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var out []models.Permission
	for _, id := range ids {
		if p, ok := s.catalog[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubPermissionRepository) List(_ context.Context) ([]models.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Permission, 0, len(s.catalog))
	for _, p := range s.catalog {
		out = append(out, p)
	}
	return out, nil
}

// scriptedUserRepository returns a fixed Upsert outcome and serves reads from users.
type scriptedUserRepository struct {
	mu        sync.RWMutex
	upsertRes *repository.UpsertResult
	upsertErr error
	users     map[string]*models.User
	upserts   []repository.UserUpsert
}

func (s *scriptedUserRepository) Upsert(_ context.Context, in repository.UserUpsert) (*repository.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, in)
	return s.upsertRes, s.upsertErr
}

func (s *scriptedUserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func (s *scriptedUserRepository) GetByEmail(_ context.Context, tenantID, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.TenantID == tenantID && u.EmailKey == models.EmailKey(email) {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *scriptedUserRepository) GetBySurrogate(_ context.Context, tenantID, surrogateID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.TenantID == tenantID && u.ExternalSurrogateID != nil && *u.ExternalSurrogateID == surrogateID {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *scriptedUserRepository) List(_ context.Context, tenantID string) ([]models.User, error) {
	return nil, errors.New("not implemented")
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
