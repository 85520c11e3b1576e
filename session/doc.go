// Package session provides the Redis-backed session store: session objects
// keyed by identity id and ephemeral SID records keyed by opaque random
// identifiers, each with its own TTL.
//
// # Architecture boundaries
//
// This package owns persistence and SID allocation only. It does not sign
// tokens, read credential records, or decide what goes into a session
// object; those responsibilities belong to the engine.
//
// # Consistency model
//
// SID records and session objects are eventually consistent with each other.
// Deleting a session object does not enumerate or delete its SIDs; they
// expire naturally and dereference to redis.Nil in the meantime.
package session
