package iam

import (
	"context"
	"errors"
	"time"
)

// CreatePermission registers a named grant. Duplicate names surface as
// ErrConflict from the store.
func (e *Engine) CreatePermission(ctx context.Context, name, alias, description string) (*Permission, error) {
	if e.perms == nil {
		return nil, errors.New("iam: no permission store configured")
	}
	now := time.Now().UTC()
	return e.perms.CreatePermission(ctx, &Permission{
		Name:        name,
		Alias:       alias,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// GetPermission fetches a permission by name.
func (e *Engine) GetPermission(ctx context.Context, name string) (*Permission, error) {
	if e.perms == nil {
		return nil, errors.New("iam: no permission store configured")
	}
	return e.perms.GetPermission(ctx, name)
}

// GetPermissions lists permissions matching the filter together with the
// unpaged match count.
func (e *Engine) GetPermissions(ctx context.Context, f ListFilter) ([]*Permission, int64, error) {
	if e.perms == nil {
		return nil, 0, errors.New("iam: no permission store configured")
	}
	perms, err := e.perms.ListPermissions(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	count, err := e.perms.CountPermissions(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return perms, count, nil
}

// UpdatePermission rewrites a permission's descriptive fields. The name is
// the identity of the grant and cannot change.
func (e *Engine) UpdatePermission(ctx context.Context, name string, upd PermissionUpdate) (*Permission, error) {
	if e.perms == nil {
		return nil, errors.New("iam: no permission store configured")
	}
	return e.perms.UpdatePermission(ctx, name, upd)
}

// DeletePermission removes a permission and strips it from every role and
// user that carries it. Sessions are not refreshed eagerly; stale snapshots
// age out with their session objects.
func (e *Engine) DeletePermission(ctx context.Context, name string) error {
	if e.perms == nil {
		return errors.New("iam: no permission store configured")
	}
	if err := e.perms.DeletePermission(ctx, name); err != nil {
		return err
	}
	if e.roles != nil {
		if err := e.roles.RemovePermission(ctx, name); err != nil {
			return err
		}
	}
	return e.users.RemovePermission(ctx, name)
}
