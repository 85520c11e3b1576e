package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures so callers can
// distinguish an unavailable store from a plain miss (redis.Nil).
var ErrRedisUnavailable = errors.New("redis unavailable")

// sidBytes is the entropy of a session identifier. SIDs are rendered as
// fixed-length hex, which keeps them free of the token codec's delimiter.
const sidBytes = 16

// Store is the Redis-backed session store. It holds two kinds of records
// with independent TTL clocks: session objects keyed by identity id, and SID
// records mapping an opaque SID to an identity key. The clocks are not
// coupled: a SID may outlive its session object (it then dereferences to a
// miss), and vice versa. Per-key Redis operations are
// atomic; no multi-key transaction is needed because a dangling SID degrades
// to "session not found", never to corruption.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore returns a Store namespaced under prefix.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "iam"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) objectKey(key string) string {
	return s.prefix + ":obj:" + key
}

func (s *Store) sidKey(sid string) string {
	return s.prefix + ":sid:" + sid
}

// SetObject upserts a session object under key and resets its TTL.
func (s *Store) SetObject(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.objectKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// GetObject loads the session object under key into dest. Returns redis.Nil
// when no object exists.
func (s *Store) GetObject(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, s.objectKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return json.Unmarshal(data, dest)
}

// HasObject reports whether a session object exists under key without
// fetching it. Used to keep RefreshSession a no-op for signed-out users.
func (s *Store) HasObject(ctx context.Context, key string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.objectKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// DeleteObject removes the session object under key. SID records pointing at
// it are left to expire on their own clock; they dereference to a miss from
// now on (lazy invalidation).
func (s *Store) DeleteObject(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.objectKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CreateSID allocates a fresh unguessable SID bound to key. Multiple SIDs
// may point at the same key (multi-device sign-in).
func (s *Store) CreateSID(ctx context.Context, key string, ttl time.Duration) (string, error) {
	for {
		sid, err := newSID()
		if err != nil {
			return "", err
		}

		ok, err := s.redis.SetNX(ctx, s.sidKey(sid), key, ttl).Result()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if ok {
			return sid, nil
		}
		// 128-bit collision; try again.
	}
}

// GetObjectBySID collapses the two-step dereference (SID to key to object)
// into one call. Returns redis.Nil when either record is absent.
func (s *Store) GetObjectBySID(ctx context.Context, sid string, dest any) error {
	key, err := s.redis.Get(ctx, s.sidKey(sid)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return s.GetObject(ctx, key, dest)
}

// DeleteSID removes a single SID record. The shared session object and any
// other SIDs for the same identity are untouched.
func (s *Store) DeleteSID(ctx context.Context, sid string) error {
	if err := s.redis.Del(ctx, s.sidKey(sid)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func newSID() (string, error) {
	buf := make([]byte, sidBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
