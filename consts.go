package iam

// Built-in permission names guarding the administrative surface. Deployments
// may define their own grants alongside these.
const (
	PermCreateUser        = "create_user"
	PermGetUsers          = "get_users"
	PermUpdateUsers       = "update_users"
	PermBlockUsers        = "block_users"
	PermSensitiveAccess   = "sensitive_access"
	PermManagePermissions = "manage_permissions"
	PermManageRoles       = "manage_roles"
)
