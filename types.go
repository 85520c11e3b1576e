package iam

import "time"

// User is the identity record held by the credential store. At least one of
// Username, Email, or PhoneNumber is set at creation. PwdHash and Salt are
// sensitive: they never appear in logs, session objects, or API responses.
type User struct {
	ID                  string    `json:"id" bson:"_id,omitempty"`
	Username            string    `json:"username,omitempty" bson:"username,omitempty"`
	Email               string    `json:"email,omitempty" bson:"email,omitempty"`
	EmailVerified       bool      `json:"emailVerified" bson:"emailVerified"`
	PhoneNumber         string    `json:"phoneNumber,omitempty" bson:"phoneNumber,omitempty"`
	PhoneNumberVerified bool      `json:"phoneNumberVerified" bson:"phoneNumberVerified"`
	PwdHash             string    `json:"-" bson:"pwdHash,omitempty"`
	Salt                string    `json:"-" bson:"salt,omitempty"`
	Permissions         []string  `json:"permissions" bson:"permissions"`
	Roles               []string  `json:"roles" bson:"roles"`
	Blocked             bool      `json:"blocked" bson:"blocked"`
	CreatedAt           time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Desensitized returns a copy with credential material cleared. Providers
// return desensitized users on every public path.
func (u *User) Desensitized() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.PwdHash = ""
	c.Salt = ""
	return &c
}

// State projects the identity into the authorization snapshot cached in the
// session store. Slices are copied so later user mutations cannot reach
// into an already-serialized session.
func (u *User) State() *UserState {
	return &UserState{
		ID:                  u.ID,
		Permissions:         append([]string(nil), u.Permissions...),
		Roles:               append([]string(nil), u.Roles...),
		EmailVerified:       u.EmailVerified,
		PhoneNumberVerified: u.PhoneNumberVerified,
	}
}

// UserState is the session object: the authorization snapshot cached for a
// signed-in identity. It deliberately excludes password material, and the
// blocked flag is enforced at construction time rather than stored.
type UserState struct {
	ID                  string   `json:"id"`
	Permissions         []string `json:"permissions"`
	Roles               []string `json:"roles"`
	EmailVerified       bool     `json:"emailVerified"`
	PhoneNumberVerified bool     `json:"phoneNumberVerified"`
}

// HasPermission reports whether the snapshot carries the named permission.
func (s *UserState) HasPermission(name string) bool {
	for _, p := range s.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// Permission is a named grant. Names are unique.
type Permission struct {
	Name        string    `json:"name" bson:"name"`
	Alias       string    `json:"alias,omitempty" bson:"alias,omitempty"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Role is a named bundle of permissions. Names are unique; every referenced
// permission must exist when the role is created or updated.
type Role struct {
	Name        string    `json:"name" bson:"name"`
	Permissions []string  `json:"permissions" bson:"permissions"`
	Alias       string    `json:"alias,omitempty" bson:"alias,omitempty"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" bson:"updatedAt"`
}

// SignInResult is returned by every sign-in variant. Callers choose
// cookie-based (SID) or bearer-token-based (Token) session carriage.
type SignInResult struct {
	SID   string    `json:"sid"`
	Token string    `json:"token"`
	User  UserState `json:"user"`
}
