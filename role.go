package iam

import (
	"context"
	"errors"
	"time"
)

// CreateRole registers a named permission bundle. Every referenced
// permission must already exist; duplicate role names surface as
// ErrConflict from the store.
func (e *Engine) CreateRole(ctx context.Context, name string, permissions []string, alias, description string) (*Role, error) {
	if e.roles == nil {
		return nil, errors.New("iam: no role store configured")
	}
	if err := e.guardExistingPermissions(ctx, permissions); err != nil {
		return nil, err
	}
	if permissions == nil {
		permissions = []string{}
	}
	now := time.Now().UTC()
	return e.roles.CreateRole(ctx, &Role{
		Name:        name,
		Permissions: permissions,
		Alias:       alias,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// GetRole fetches a role by name.
func (e *Engine) GetRole(ctx context.Context, name string) (*Role, error) {
	if e.roles == nil {
		return nil, errors.New("iam: no role store configured")
	}
	return e.roles.GetRole(ctx, name)
}

// GetRoles lists roles matching the filter together with the unpaged match
// count.
func (e *Engine) GetRoles(ctx context.Context, f ListFilter) ([]*Role, int64, error) {
	if e.roles == nil {
		return nil, 0, errors.New("iam: no role store configured")
	}
	roles, err := e.roles.ListRoles(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	count, err := e.roles.CountRoles(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return roles, count, nil
}

// UpdateRole rewrites a role. A new permission set must reference only
// existing permissions.
func (e *Engine) UpdateRole(ctx context.Context, name string, upd RoleUpdate) (*Role, error) {
	if e.roles == nil {
		return nil, errors.New("iam: no role store configured")
	}
	if upd.Permissions != nil {
		if err := e.guardExistingPermissions(ctx, *upd.Permissions); err != nil {
			return nil, err
		}
	}
	return e.roles.UpdateRole(ctx, name, upd)
}

// DeleteRole removes a role and strips it from every user that carries it.
func (e *Engine) DeleteRole(ctx context.Context, name string) error {
	if e.roles == nil {
		return errors.New("iam: no role store configured")
	}
	if err := e.roles.DeleteRole(ctx, name); err != nil {
		return err
	}
	return e.users.RemoveRole(ctx, name)
}
