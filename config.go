package iam

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/atonlab/iam/password"
)

// Config is the engine's configuration surface. It is read once at
// construction and treated as immutable afterwards.
type Config struct {
	Session  SessionConfig
	Password password.Config
	Keys     KeysConfig
	Defaults DefaultsConfig
	Audit    AuditConfig

	// Listener receives lifecycle events after each state transition
	// commits. Nil means NoopListener.
	Listener EventListener

	// Logger carries server-side diagnostics, including the internal
	// reasons of unauthorized failures. Nil means the logrus standard
	// logger.
	Logger *logrus.Logger
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session-object and SID lifetimes and the bearer
// token secret.
type SessionConfig struct {
	// ExpiresIn is the session-object TTL, reset on every write.
	ExpiresIn time.Duration
	// SIDExpiresIn is the SID-record TTL. It runs on its own clock,
	// independent of ExpiresIn; zero means "same as ExpiresIn".
	SIDExpiresIn time.Duration
	Token        TokenConfig
}

// TokenConfig holds the shared secret the bearer-token codec signs with.
type TokenConfig struct {
	Secret string
}

/*
====================================
SERVICE KEYS
====================================
*/

// KeysConfig holds the access/secret key pair that authenticates
// service-to-service callers on administrative endpoints.
type KeysConfig struct {
	AccessKey string
	SecretKey string
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultsConfig seeds newly created users.
type DefaultsConfig struct {
	Permissions []string
	Roles       []string
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the async audit pipeline.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking the request path when
	// the buffer is saturated.
	DropIfFull bool
	Sink       AuditSink
}

func (c *Config) validate() error {
	if c.Session.Token.Secret == "" {
		return errors.New("iam: session token secret is required")
	}
	if c.Session.ExpiresIn <= 0 {
		return errors.New("iam: session expiry must be positive")
	}
	return nil
}

func (c *Config) sidTTL() time.Duration {
	if c.Session.SIDExpiresIn > 0 {
		return c.Session.SIDExpiresIn
	}
	return c.Session.ExpiresIn
}
