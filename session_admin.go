package iam

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Raw session-store administration for service tooling: these operate on
// arbitrary session objects and SIDs without interpreting the payload as a
// UserState. Misses are NotFound here, not Unauthorized, because the caller
// is an administrator inspecting the store rather than a session holder.

// SetSessionObject upserts the session object under key. A non-positive ttl
// falls back to the configured session expiry.
func (e *Engine) SetSessionObject(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = e.cfg.Session.ExpiresIn
	}
	return e.sessions.SetObject(ctx, key, value, ttl)
}

// GetSessionObject fetches the raw session object under key.
func (e *Engine) GetSessionObject(ctx context.Context, key string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := e.sessions.GetObject(ctx, key, &raw); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound("no session object")
		}
		return nil, err
	}
	return raw, nil
}

// DeleteSessionObject removes the session object under key, revoking every
// session that dereferences to it.
func (e *Engine) DeleteSessionObject(ctx context.Context, key string) error {
	return e.sessions.DeleteObject(ctx, key)
}

// CreateSessionSID mints a fresh SID bound to key. A non-positive ttl falls
// back to the configured SID expiry.
func (e *Engine) CreateSessionSID(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = e.cfg.sidTTL()
	}
	return e.sessions.CreateSID(ctx, key, ttl)
}

// GetSessionObjectBySID dereferences a SID to its raw session object.
func (e *Engine) GetSessionObjectBySID(ctx context.Context, sid string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := e.sessions.GetObjectBySID(ctx, sid, &raw); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound("no session for sid")
		}
		return nil, err
	}
	return raw, nil
}

// DeleteSessionSID removes a single SID record.
func (e *Engine) DeleteSessionSID(ctx context.Context, sid string) error {
	return e.sessions.DeleteSID(ctx, sid)
}
