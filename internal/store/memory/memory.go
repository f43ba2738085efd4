// Package memory is an in-process implementation of auth.Store used by tests
// and local experiments. It enforces the same uniqueness and compare-and-swap
// rules as the Postgres store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"

	"studiodesk.app/internal/auth"
	"studiodesk.app/internal/ids"
)

// Store keeps users, roles, grants and token records in maps.
type Store struct {
	mu sync.Mutex

	users       map[string]*auth.User
	emails      map[string]string
	roles       map[string]*auth.Role
	roleNames   map[string]string
	permissions map[string]*auth.Permission
	permKeys    map[string]string
	userRoles   map[string][]string
	grants      map[string][]string

	refresh map[string]*auth.RefreshTokenRecord
	resets  map[string]*auth.PasswordResetRecord
}

var _ auth.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:       make(map[string]*auth.User),
		emails:      make(map[string]string),
		roles:       make(map[string]*auth.Role),
		roleNames:   make(map[string]string),
		permissions: make(map[string]*auth.Permission),
		permKeys:    make(map[string]string),
		userRoles:   make(map[string][]string),
		grants:      make(map[string][]string),
		refresh:     make(map[string]*auth.RefreshTokenRecord),
		resets:      make(map[string]*auth.PasswordResetRecord),
	}
}

// NewSeeded returns a store holding the built-in roles, the permission
// catalog and the default grants.
func NewSeeded() *Store {
	s := New()
	for _, r := range auth.BuiltinRoles {
		_, _ = s.AddRole(r.Name, r.Description)
	}
	for _, p := range auth.BuiltinPermissions {
		_, _ = s.AddPermission(p.Resource, p.Action, p.Description)
	}
	for role, keys := range auth.DefaultGrants {
		for _, key := range keys {
			_ = s.Grant(role, key)
		}
	}
	return s
}

// AddUser creates a user. The email is normalized before storage.
func (s *Store) AddUser(email, passwordHash string, active bool) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = auth.NormalizeEmail(email)
	if _, ok := s.emails[email]; ok {
		return nil, oops.Code("USER_EXISTS").With("email", email).Wrap(auth.ErrAlreadyExists)
	}
	now := time.Now().UTC()
	u := &auth.User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.ID] = u
	s.emails[email] = u.ID
	return cloneUser(u), nil
}

// SetActive toggles a user's active flag.
func (s *Store) SetActive(userID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("user_id", userID).Wrap(auth.ErrNotFound)
	}
	u.IsActive = active
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// AddRole creates a role.
func (s *Store) AddRole(name, description string) (*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roleNames[name]; ok {
		return nil, oops.Code("ROLE_EXISTS").With("role", name).Wrap(auth.ErrAlreadyExists)
	}
	r := &auth.Role{ID: ids.New(), Name: name, Description: description}
	s.roles[r.ID] = r
	s.roleNames[name] = r.ID
	cp := *r
	return &cp, nil
}

// AddPermission creates a catalog entry.
func (s *Store) AddPermission(resource, action, description string) (*auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := auth.FormatPermission(resource, action)
	if _, ok := s.permKeys[key]; ok {
		return nil, oops.Code("PERMISSION_EXISTS").With("permission", key).Wrap(auth.ErrAlreadyExists)
	}
	p := &auth.Permission{ID: ids.New(), Resource: resource, Action: action, Description: description}
	s.permissions[p.ID] = p
	s.permKeys[key] = p.ID
	cp := *p
	return &cp, nil
}

// Grant gives roleName the permission key. Granting twice is a no-op.
func (s *Store) Grant(roleName, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	roleID, ok := s.roleNames[roleName]
	if !ok {
		return oops.Code("ROLE_NOT_FOUND").With("role", roleName).Wrap(auth.ErrNotFound)
	}
	permID, ok := s.permKeys[key]
	if !ok {
		return oops.Code("PERMISSION_NOT_FOUND").With("permission", key).Wrap(auth.ErrNotFound)
	}
	s.grants[roleID] = appendUnique(s.grants[roleID], permID)
	return nil
}

// Assign gives userID the role roleName. Assigning twice is a no-op.
func (s *Store) Assign(userID, roleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return oops.Code("USER_NOT_FOUND").With("user_id", userID).Wrap(auth.ErrNotFound)
	}
	roleID, ok := s.roleNames[roleName]
	if !ok {
		return oops.Code("ROLE_NOT_FOUND").With("role", roleName).Wrap(auth.ErrNotFound)
	}
	s.userRoles[userID] = appendUnique(s.userRoles[userID], roleID)
	return nil
}

// FindUserByEmail implements auth.UserDirectory.
func (s *Store) FindUserByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emails[auth.NormalizeEmail(email)]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return cloneUser(s.users[id]), nil
}

// FindUserByID implements auth.UserDirectory.
func (s *Store) FindUserByID(_ context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(auth.ErrNotFound)
	}
	return cloneUser(u), nil
}

// RolesForUser implements auth.UserDirectory.
func (s *Store) RolesForUser(_ context.Context, userID string) ([]auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.Role, 0, len(s.userRoles[userID]))
	for _, roleID := range s.userRoles[userID] {
		out = append(out, *s.roles[roleID])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// RolePermissionRows implements auth.UserDirectory.
func (s *Store) RolePermissionRows(_ context.Context, userID string) ([]auth.RolePermissionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []auth.RolePermissionRow
	for _, roleID := range s.userRoles[userID] {
		for _, permID := range s.grants[roleID] {
			p := s.permissions[permID]
			rows = append(rows, auth.RolePermissionRow{RoleID: roleID, Resource: p.Resource, Action: p.Action})
		}
	}
	return rows, nil
}

// UpdatePasswordHash implements auth.PasswordUpdater.
func (s *Store) UpdatePasswordHash(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("user_id", userID).Wrap(auth.ErrNotFound)
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// ListRoles implements auth.Catalog.
func (s *Store) ListRoles(context.Context) ([]auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListPermissions implements auth.Catalog.
func (s *Store) ListPermissions(context.Context) ([]auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// ListRolePermissions implements auth.Catalog.
func (s *Store) ListRolePermissions(context.Context) ([]auth.RolePermissionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []auth.RolePermissionRow
	for roleID, perms := range s.grants {
		for _, permID := range perms {
			p := s.permissions[permID]
			rows = append(rows, auth.RolePermissionRow{RoleID: roleID, Resource: p.Resource, Action: p.Action})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].RoleID != rows[j].RoleID {
			return rows[i].RoleID < rows[j].RoleID
		}
		return auth.FormatPermission(rows[i].Resource, rows[i].Action) < auth.FormatPermission(rows[j].Resource, rows[j].Action)
	})
	return rows, nil
}

// CreateRefreshToken implements auth.RefreshTokenStore.
func (s *Store) CreateRefreshToken(_ context.Context, rec *auth.RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertRefresh(rec)
}

// FindRefreshToken implements auth.RefreshTokenStore.
func (s *Store) FindRefreshToken(_ context.Context, tokenHash string) (*auth.RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refresh[tokenHash]
	if !ok {
		return nil, oops.Code("REFRESH_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

// RevokeRefreshToken implements auth.RefreshTokenStore.
func (s *Store) RevokeRefreshToken(_ context.Context, tokenHash string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refresh[tokenHash]
	if !ok || rec.Revoked {
		return false, nil
	}
	revoke(rec, at)
	return true, nil
}

// RotateRefreshToken implements auth.RefreshTokenStore.
func (s *Store) RotateRefreshToken(_ context.Context, oldHash string, next *auth.RefreshTokenRecord, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.refresh[oldHash]
	if !ok || old.Revoked {
		return oops.Code("REFRESH_TOKEN_CONSUMED").Wrap(auth.ErrRecordConsumed)
	}
	if _, dup := s.refresh[next.TokenHash]; dup {
		return oops.Code("REFRESH_TOKEN_EXISTS").Wrap(auth.ErrAlreadyExists)
	}
	revoke(old, at)
	return s.insertRefresh(next)
}

// RevokeUserRefreshTokens implements auth.RefreshTokenStore.
func (s *Store) RevokeUserRefreshTokens(_ context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeAll(userID, at), nil
}

// CreatePasswordReset implements auth.PasswordResetStore.
func (s *Store) CreatePasswordReset(_ context.Context, rec *auth.PasswordResetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.resets[rec.TokenHash]; dup {
		return oops.Code("RESET_TOKEN_EXISTS").Wrap(auth.ErrAlreadyExists)
	}
	if _, ok := s.users[rec.UserID]; !ok {
		return oops.Code("USER_NOT_FOUND").With("user_id", rec.UserID).Wrap(auth.ErrNotFound)
	}
	cp := *rec
	s.resets[rec.TokenHash] = &cp
	return nil
}

// FindPasswordReset implements auth.PasswordResetStore.
func (s *Store) FindPasswordReset(_ context.Context, tokenHash string) (*auth.PasswordResetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.resets[tokenHash]
	if !ok {
		return nil, oops.Code("RESET_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

// ConsumePasswordReset implements auth.PasswordResetStore.
func (s *Store) ConsumePasswordReset(_ context.Context, tokenHash, passwordHash string, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.resets[tokenHash]
	if !ok || rec.Used || !at.Before(rec.ExpiresAt) {
		return "", oops.Code("RESET_TOKEN_CONSUMED").Wrap(auth.ErrRecordConsumed)
	}
	u, ok := s.users[rec.UserID]
	if !ok {
		return "", oops.Code("USER_NOT_FOUND").With("user_id", rec.UserID).Wrap(auth.ErrNotFound)
	}
	rec.Used = true
	usedAt := at
	rec.UsedAt = &usedAt
	u.PasswordHash = passwordHash
	u.UpdatedAt = at
	s.revokeAll(u.ID, at)
	return u.ID, nil
}

// RefreshTokens returns copies of every refresh record of userID.
func (s *Store) RefreshTokens(userID string) []auth.RefreshTokenRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.RefreshTokenRecord
	for _, rec := range s.refresh {
		if rec.UserID == userID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PasswordResets returns copies of every reset record of userID.
func (s *Store) PasswordResets(userID string) []auth.PasswordResetRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.PasswordResetRecord
	for _, rec := range s.resets {
		if rec.UserID == userID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) insertRefresh(rec *auth.RefreshTokenRecord) error {
	if _, dup := s.refresh[rec.TokenHash]; dup {
		return oops.Code("REFRESH_TOKEN_EXISTS").Wrap(auth.ErrAlreadyExists)
	}
	if _, ok := s.users[rec.UserID]; !ok {
		return oops.Code("USER_NOT_FOUND").With("user_id", rec.UserID).Wrap(auth.ErrNotFound)
	}
	cp := *rec
	s.refresh[rec.TokenHash] = &cp
	return nil
}

func (s *Store) revokeAll(userID string, at time.Time) int64 {
	var n int64
	for _, rec := range s.refresh {
		if rec.UserID == userID && !rec.Revoked {
			revoke(rec, at)
			n++
		}
	}
	return n
}

func revoke(rec *auth.RefreshTokenRecord, at time.Time) {
	rec.Revoked = true
	revokedAt := at
	rec.RevokedAt = &revokedAt
}

func cloneUser(u *auth.User) *auth.User {
	cp := *u
	return &cp
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
