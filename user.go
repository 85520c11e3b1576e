package iam

import (
	"context"
	"errors"
	"time"
)

// CreateUserInput carries the fields of a new identity. At least one of
// Username, Email, or PhoneNumber must be set. Nil Permissions or Roles
// fall back to the configured defaults; Password may be empty for accounts
// that authenticate by verification ticket only.
type CreateUserInput struct {
	Username            string
	Email               string
	EmailVerified       bool
	PhoneNumber         string
	PhoneNumberVerified bool
	Password            string
	Permissions         []string
	Roles               []string
}

// CreateUser registers an identity. Uniqueness collisions on username,
// email, or phone number surface as ErrConflict from the store. The
// returned user is desensitized.
func (e *Engine) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	if in.Username == "" && in.Email == "" && in.PhoneNumber == "" {
		return nil, errors.New("iam: user requires a username, email, or phone number")
	}

	now := time.Now().UTC()
	user := &User{
		Username:            in.Username,
		Email:               in.Email,
		EmailVerified:       in.EmailVerified,
		PhoneNumber:         in.PhoneNumber,
		PhoneNumberVerified: in.PhoneNumberVerified,
		Permissions:         in.Permissions,
		Roles:               in.Roles,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if user.Permissions == nil {
		user.Permissions = append([]string(nil), e.cfg.Defaults.Permissions...)
	}
	if user.Roles == nil {
		user.Roles = append([]string(nil), e.cfg.Defaults.Roles...)
	}
	if user.Permissions == nil {
		user.Permissions = []string{}
	}
	if user.Roles == nil {
		user.Roles = []string{}
	}

	if in.Password != "" {
		salt, err := e.hasher.NewSalt()
		if err != nil {
			return nil, err
		}
		hash, err := e.hasher.Hash(in.Password, salt)
		if err != nil {
			return nil, err
		}
		user.Salt = salt
		user.PwdHash = hash
	}

	created, err := e.users.CreateUser(ctx, user)
	if err != nil {
		return nil, err
	}
	e.notify("user_created", func() error { return e.listener.OnUserCreated(ctx, created) })
	return created.Desensitized(), nil
}

// GetUser fetches a single user by id, desensitized.
func (e *Engine) GetUser(ctx context.Context, id string) (*User, error) {
	user, err := e.users.FindUser(ctx, UserQuery{ID: id})
	if err != nil {
		return nil, err
	}
	return user.Desensitized(), nil
}

// GetUsers lists users matching the filter together with the unpaged match
// count.
func (e *Engine) GetUsers(ctx context.Context, f UserFilter) ([]*User, int64, error) {
	users, err := e.users.ListUsers(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	count, err := e.users.CountUsers(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	for i, u := range users {
		users[i] = u.Desensitized()
	}
	return users, count, nil
}

// UpdateUserProfile rewrites mutable identity fields. Credential fields are
// rejected here; they travel only through the password and binding flows.
func (e *Engine) UpdateUserProfile(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	if upd.PwdHash != nil || upd.Salt != nil {
		return nil, errors.New("iam: credential fields cannot be updated directly")
	}
	user, err := e.users.UpdateUser(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	if err := e.refreshSession(ctx, id); err != nil {
		return nil, err
	}
	return user.Desensitized(), nil
}

// UpdateUserPermissions replaces a user's direct permission grants. Every
// referenced permission must exist. Live sessions observe the new set via a
// refresh.
func (e *Engine) UpdateUserPermissions(ctx context.Context, id string, permissions []string) (*User, error) {
	if err := e.guardExistingPermissions(ctx, permissions); err != nil {
		return nil, err
	}
	user, err := e.users.UpdateUser(ctx, id, UserUpdate{Permissions: &permissions})
	if err != nil {
		return nil, err
	}
	if err := e.refreshSession(ctx, id); err != nil {
		return nil, err
	}
	e.notify("permission_updated", func() error { return e.listener.OnPermissionUpdated(ctx, user) })
	return user.Desensitized(), nil
}

// UpdateUserRoles replaces a user's role grants. Every referenced role must
// exist.
func (e *Engine) UpdateUserRoles(ctx context.Context, id string, roles []string) (*User, error) {
	if err := e.guardExistingRoles(ctx, roles); err != nil {
		return nil, err
	}
	user, err := e.users.UpdateUser(ctx, id, UserUpdate{Roles: &roles})
	if err != nil {
		return nil, err
	}
	if err := e.refreshSession(ctx, id); err != nil {
		return nil, err
	}
	e.notify("permission_updated", func() error { return e.listener.OnPermissionUpdated(ctx, user) })
	return user.Desensitized(), nil
}

// BlockUser flags a user and force-revokes every live session. The flag
// also fails any later sign-in after the credential check.
func (e *Engine) BlockUser(ctx context.Context, id string) error {
	err := e.setBlocked(ctx, id, true)
	e.emitAudit(ctx, AuditEvent{EventType: AuditUserBlocked, UserID: id}, err)
	return err
}

// UnblockUser clears the blocked flag. Previously revoked sessions stay
// revoked; the user signs in again.
func (e *Engine) UnblockUser(ctx context.Context, id string) error {
	err := e.setBlocked(ctx, id, false)
	e.emitAudit(ctx, AuditEvent{EventType: AuditUserUnblocked, UserID: id}, err)
	return err
}

func (e *Engine) setBlocked(ctx context.Context, id string, blocked bool) error {
	user, err := e.users.UpdateUser(ctx, id, UserUpdate{Blocked: &blocked})
	if err != nil {
		return err
	}
	if blocked {
		if err := e.sessions.DeleteObject(ctx, id); err != nil {
			return err
		}
		e.notify("user_blocked", func() error { return e.listener.OnUserBlocked(ctx, user) })
		return nil
	}
	e.notify("user_unblocked", func() error { return e.listener.OnUserUnblocked(ctx, user) })
	return nil
}

// guardExistingPermissions fails with ErrNotFound unless every named
// permission exists.
func (e *Engine) guardExistingPermissions(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	if e.perms == nil {
		return notFound("no permission store configured")
	}
	count, err := e.perms.CountByNames(ctx, names)
	if err != nil {
		return err
	}
	if count != int64(len(names)) {
		return notFound("some permissions are not found")
	}
	return nil
}

// guardExistingRoles fails with ErrNotFound unless every named role exists.
func (e *Engine) guardExistingRoles(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	if e.roles == nil {
		return notFound("no role store configured")
	}
	found, err := e.roles.GetRolesByNames(ctx, names)
	if err != nil {
		return err
	}
	if len(found) != len(names) {
		return notFound("some roles are not found")
	}
	return nil
}
