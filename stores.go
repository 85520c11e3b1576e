package iam

import "context"

// UserQuery selects a user by exactly one unique field.
type UserQuery struct {
	ID          string
	Username    string
	Email       string
	PhoneNumber string
}

// UserUpdate is a partial update; nil fields are left untouched.
type UserUpdate struct {
	Username            *string
	Email               *string
	EmailVerified       *bool
	PhoneNumber         *string
	PhoneNumberVerified *bool
	PwdHash             *string
	Salt                *string
	Permissions         *[]string
	Roles               *[]string
	Blocked             *bool
}

// UserFilter narrows a user listing. Zero values mean "any".
type UserFilter struct {
	ID          string
	Username    string
	Email       string
	PhoneNumber string
	Permission  string
	Role        string
	SortBy      string // "_id", "createdAt", "updatedAt"
	OrderBy     string // "asc", "desc"
	Skip        int64
	Limit       int64
}

// UserStore is the credential store contract the engine consumes. Uniqueness
// of username/email/phoneNumber is enforced by the store; violations surface
// as ErrConflict, misses as ErrNotFound.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) (*User, error)
	FindUser(ctx context.Context, q UserQuery) (*User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]*User, error)
	CountUsers(ctx context.Context, f UserFilter) (int64, error)

	// RemovePermission and RemoveRole strip a deleted grant from every
	// user record (referential-integrity cascade).
	RemovePermission(ctx context.Context, name string) error
	RemoveRole(ctx context.Context, name string) error
}

// ListFilter narrows a permission or role listing.
type ListFilter struct {
	Name    string // prefix match
	SortBy  string
	OrderBy string
	Skip    int64
	Limit   int64
}

// PermissionUpdate is a partial update; nil fields are left untouched.
type PermissionUpdate struct {
	Alias       *string
	Description *string
}

// PermissionStore persists named permissions.
type PermissionStore interface {
	CreatePermission(ctx context.Context, p *Permission) (*Permission, error)
	GetPermission(ctx context.Context, name string) (*Permission, error)
	ListPermissions(ctx context.Context, f ListFilter) ([]*Permission, error)
	CountPermissions(ctx context.Context, f ListFilter) (int64, error)
	UpdatePermission(ctx context.Context, name string, upd PermissionUpdate) (*Permission, error)
	DeletePermission(ctx context.Context, name string) error
	CountByNames(ctx context.Context, names []string) (int64, error)
}

// RoleUpdate is a partial update; nil fields are left untouched.
type RoleUpdate struct {
	Permissions *[]string
	Alias       *string
	Description *string
}

// RoleStore persists named roles.
type RoleStore interface {
	CreateRole(ctx context.Context, r *Role) (*Role, error)
	GetRole(ctx context.Context, name string) (*Role, error)
	GetRolesByNames(ctx context.Context, names []string) ([]*Role, error)
	ListRoles(ctx context.Context, f ListFilter) ([]*Role, error)
	CountRoles(ctx context.Context, f ListFilter) (int64, error)
	UpdateRole(ctx context.Context, name string, upd RoleUpdate) (*Role, error)
	DeleteRole(ctx context.Context, name string) error

	// RemovePermission strips a deleted permission from every role.
	RemovePermission(ctx context.Context, name string) error
}

// Stores bundles the credential-side collaborators injected into the engine.
type Stores struct {
	Users       UserStore
	Permissions PermissionStore
	Roles       RoleStore
}

// TicketValidator consumes a one-time verification ticket scoped to a
// channel-qualified subject such as "sms:+15551234567" or
// "email:a@example.com". A ticket is valid for exactly one Consume call.
type TicketValidator interface {
	Consume(ctx context.Context, ticket, subject string) error
}
