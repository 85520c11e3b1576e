// Package iam is an identity and access management core: credential
// sign-up/sign-in, Redis-backed sessions addressed by SIDs and HMAC-signed
// bearer tokens, and permission/role administration.
//
// The Engine is the entry point. It is backed by pluggable credential
// stores (see internal/memstore and internal/mongostore for the bundled
// implementations), a session.Store over Redis, and a TicketValidator for
// out-of-band email/SMS proof (see captcha).
//
// Sessions follow a two-tier model: one shared session object per user
// holding the authorization snapshot, and any number of SID records
// pointing at it, each on its own expiry clock. Revoking one SID signs out
// one client; deleting the session object signs out all of them at once.
//
// Failures carry an internal reason for server logs and a deliberately
// generic caller-facing message; see Error.
package iam
