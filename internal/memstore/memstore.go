// Package memstore provides map-backed credential stores. It mirrors the
// mongostore semantics (uniqueness, partial updates, cascades) closely
// enough to stand in for it in tests and single-process deployments.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atonlab/iam"
)

func conflict(reason string) error {
	return &iam.Error{Kind: iam.KindConflict, Reason: reason}
}

func notFound(reason string) error {
	return &iam.Error{Kind: iam.KindNotFound, Reason: reason}
}

// Store implements iam.UserStore, iam.PermissionStore, and iam.RoleStore
// over in-process maps. All methods are safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	users map[string]*iam.User
	perms map[string]*iam.Permission
	roles map[string]*iam.Role
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users: make(map[string]*iam.User),
		perms: make(map[string]*iam.Permission),
		roles: make(map[string]*iam.Role),
	}
}

// Stores bundles the store under every interface it implements. The role
// view scopes the permission cascade to roles, keeping it apart from the
// user store's cascade of the same name.
func (s *Store) Stores() iam.Stores {
	return iam.Stores{Users: s, Permissions: s, Roles: roleStore{s}}
}

// roleStore is Store seen as an iam.RoleStore: RemovePermission strips the
// named permission from roles only.
type roleStore struct {
	*Store
}

func (r roleStore) RemovePermission(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range r.roles {
		role.Permissions = remove(role.Permissions, name)
	}
	return nil
}

func copyUser(u *iam.User) *iam.User {
	c := *u
	c.Permissions = append([]string(nil), u.Permissions...)
	c.Roles = append([]string(nil), u.Roles...)
	return &c
}

func copyPermission(p *iam.Permission) *iam.Permission {
	c := *p
	return &c
}

func copyRole(r *iam.Role) *iam.Role {
	c := *r
	c.Permissions = append([]string(nil), r.Permissions...)
	return &c
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func remove(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

/*
====================================
USERS
====================================
*/

func (s *Store) CreateUser(_ context.Context, user *iam.User) (*iam.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if user.Username != "" && existing.Username == user.Username {
			return nil, conflict("username already exists")
		}
		if user.Email != "" && existing.Email == user.Email {
			return nil, conflict("email already exists")
		}
		if user.PhoneNumber != "" && existing.PhoneNumber == user.PhoneNumber {
			return nil, conflict("phone number already exists")
		}
	}

	c := copyUser(user)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, ok := s.users[c.ID]; ok {
		return nil, conflict("user id already exists")
	}
	s.users[c.ID] = c
	return copyUser(c), nil
}

func (s *Store) FindUser(_ context.Context, q iam.UserQuery) (*iam.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if q.ID != "" {
		if u, ok := s.users[q.ID]; ok {
			return copyUser(u), nil
		}
		return nil, notFound("user is not found")
	}
	for _, u := range s.users {
		if q.Username != "" && u.Username == q.Username {
			return copyUser(u), nil
		}
		if q.Email != "" && u.Email == q.Email {
			return copyUser(u), nil
		}
		if q.PhoneNumber != "" && u.PhoneNumber == q.PhoneNumber {
			return copyUser(u), nil
		}
	}
	return nil, notFound("user is not found")
}

func (s *Store) UpdateUser(_ context.Context, id string, upd iam.UserUpdate) (*iam.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, notFound("user is not found")
	}

	// Validate every uniqueness constraint before touching the record, so a
	// conflicting update leaves it unchanged like mongostore's single
	// FindOneAndUpdate does.
	for oid, other := range s.users {
		if oid == id {
			continue
		}
		if upd.Username != nil && *upd.Username != "" && other.Username == *upd.Username {
			return nil, conflict("username already exists")
		}
		if upd.Email != nil && *upd.Email != "" && other.Email == *upd.Email {
			return nil, conflict("email already exists")
		}
		if upd.PhoneNumber != nil && *upd.PhoneNumber != "" && other.PhoneNumber == *upd.PhoneNumber {
			return nil, conflict("phone number already exists")
		}
	}

	if upd.Username != nil {
		u.Username = *upd.Username
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.PhoneNumber != nil {
		u.PhoneNumber = *upd.PhoneNumber
	}
	if upd.EmailVerified != nil {
		u.EmailVerified = *upd.EmailVerified
	}
	if upd.PhoneNumberVerified != nil {
		u.PhoneNumberVerified = *upd.PhoneNumberVerified
	}
	if upd.PwdHash != nil {
		u.PwdHash = *upd.PwdHash
	}
	if upd.Salt != nil {
		u.Salt = *upd.Salt
	}
	if upd.Permissions != nil {
		u.Permissions = append([]string(nil), (*upd.Permissions)...)
	}
	if upd.Roles != nil {
		u.Roles = append([]string(nil), (*upd.Roles)...)
	}
	if upd.Blocked != nil {
		u.Blocked = *upd.Blocked
	}
	u.UpdatedAt = time.Now().UTC()
	return copyUser(u), nil
}

func (s *Store) matchUsers(f iam.UserFilter) []*iam.User {
	var out []*iam.User
	for _, u := range s.users {
		if f.ID != "" && u.ID != f.ID {
			continue
		}
		if f.Username != "" && u.Username != f.Username {
			continue
		}
		if f.Email != "" && u.Email != f.Email {
			continue
		}
		if f.PhoneNumber != "" && u.PhoneNumber != f.PhoneNumber {
			continue
		}
		if f.Permission != "" && !contains(u.Permissions, f.Permission) {
			continue
		}
		if f.Role != "" && !contains(u.Roles, f.Role) {
			continue
		}
		out = append(out, u)
	}
	return out
}

func (s *Store) ListUsers(_ context.Context, f iam.UserFilter) ([]*iam.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.matchUsers(f)
	desc := f.OrderBy == "desc"
	sort.Slice(matched, func(i, j int) bool {
		var less bool
		switch f.SortBy {
		case "createdAt":
			less = matched[i].CreatedAt.Before(matched[j].CreatedAt)
		case "updatedAt":
			less = matched[i].UpdatedAt.Before(matched[j].UpdatedAt)
		default:
			less = matched[i].ID < matched[j].ID
		}
		if desc {
			return !less
		}
		return less
	})

	matched = page(matched, f.Skip, f.Limit)
	out := make([]*iam.User, len(matched))
	for i, u := range matched {
		out[i] = copyUser(u)
	}
	return out, nil
}

func (s *Store) CountUsers(_ context.Context, f iam.UserFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.matchUsers(f))), nil
}

func (s *Store) RemovePermission(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		u.Permissions = remove(u.Permissions, name)
	}
	return nil
}

func (s *Store) RemoveRole(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		u.Roles = remove(u.Roles, name)
	}
	return nil
}

func page[T any](items []T, skip, limit int64) []T {
	if skip > 0 {
		if skip >= int64(len(items)) {
			return nil
		}
		items = items[skip:]
	}
	if limit > 0 && limit < int64(len(items)) {
		items = items[:limit]
	}
	return items
}

/*
====================================
PERMISSIONS
====================================
*/

func (s *Store) CreatePermission(_ context.Context, p *iam.Permission) (*iam.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.perms[p.Name]; ok {
		return nil, conflict("permission already exists")
	}
	c := copyPermission(p)
	s.perms[c.Name] = c
	return copyPermission(c), nil
}

func (s *Store) GetPermission(_ context.Context, name string) (*iam.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.perms[name]
	if !ok {
		return nil, notFound("permission is not found")
	}
	return copyPermission(p), nil
}

func (s *Store) matchPermissions(f iam.ListFilter) []*iam.Permission {
	var out []*iam.Permission
	for _, p := range s.perms {
		if f.Name != "" && !strings.HasPrefix(p.Name, f.Name) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *Store) ListPermissions(_ context.Context, f iam.ListFilter) ([]*iam.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.matchPermissions(f)
	sortByName(matched, f.OrderBy == "desc", func(p *iam.Permission) string { return p.Name })
	matched = page(matched, f.Skip, f.Limit)
	out := make([]*iam.Permission, len(matched))
	for i, p := range matched {
		out[i] = copyPermission(p)
	}
	return out, nil
}

func (s *Store) CountPermissions(_ context.Context, f iam.ListFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.matchPermissions(f))), nil
}

func (s *Store) UpdatePermission(_ context.Context, name string, upd iam.PermissionUpdate) (*iam.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.perms[name]
	if !ok {
		return nil, notFound("permission is not found")
	}
	if upd.Alias != nil {
		p.Alias = *upd.Alias
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	p.UpdatedAt = time.Now().UTC()
	return copyPermission(p), nil
}

func (s *Store) DeletePermission(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.perms[name]; !ok {
		return notFound("permission is not found")
	}
	delete(s.perms, name)
	return nil
}

func (s *Store) CountByNames(_ context.Context, names []string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if _, ok := s.perms[name]; ok {
			count++
		}
	}
	return count, nil
}

func sortByName[T any](items []T, desc bool, name func(T) string) {
	sort.Slice(items, func(i, j int) bool {
		less := name(items[i]) < name(items[j])
		if desc {
			return !less
		}
		return less
	})
}

/*
====================================
ROLES
====================================
*/

func (s *Store) CreateRole(_ context.Context, r *iam.Role) (*iam.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[r.Name]; ok {
		return nil, conflict("role already exists")
	}
	c := copyRole(r)
	s.roles[c.Name] = c
	return copyRole(c), nil
}

func (s *Store) GetRole(_ context.Context, name string) (*iam.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roles[name]
	if !ok {
		return nil, notFound("role is not found")
	}
	return copyRole(r), nil
}

func (s *Store) GetRolesByNames(_ context.Context, names []string) ([]*iam.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*iam.Role
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if r, ok := s.roles[name]; ok {
			out = append(out, copyRole(r))
		}
	}
	return out, nil
}

func (s *Store) matchRoles(f iam.ListFilter) []*iam.Role {
	var out []*iam.Role
	for _, r := range s.roles {
		if f.Name != "" && !strings.HasPrefix(r.Name, f.Name) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s *Store) ListRoles(_ context.Context, f iam.ListFilter) ([]*iam.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.matchRoles(f)
	sortByName(matched, f.OrderBy == "desc", func(r *iam.Role) string { return r.Name })
	matched = page(matched, f.Skip, f.Limit)
	out := make([]*iam.Role, len(matched))
	for i, r := range matched {
		out[i] = copyRole(r)
	}
	return out, nil
}

func (s *Store) CountRoles(_ context.Context, f iam.ListFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.matchRoles(f))), nil
}

func (s *Store) UpdateRole(_ context.Context, name string, upd iam.RoleUpdate) (*iam.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roles[name]
	if !ok {
		return nil, notFound("role is not found")
	}
	if upd.Permissions != nil {
		r.Permissions = append([]string(nil), (*upd.Permissions)...)
	}
	if upd.Alias != nil {
		r.Alias = *upd.Alias
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	r.UpdatedAt = time.Now().UTC()
	return copyRole(r), nil
}

func (s *Store) DeleteRole(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[name]; !ok {
		return notFound("role is not found")
	}
	delete(s.roles, name)
	return nil
}

var (
	_ iam.UserStore       = (*Store)(nil)
	_ iam.PermissionStore = (*Store)(nil)
	_ iam.RoleStore       = roleStore{}
)
