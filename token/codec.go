// Package token implements the stateless bearer-token codec: an opaque
// base64url envelope binding a session identifier to an HMAC-SHA256
// signature derived from a shared secret. Signing is deterministic and both
// operations are pure; nothing is persisted.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrMalformed is returned when a token cannot be decoded or split
	// into its sid and signature parts.
	ErrMalformed = errors.New("invalid token: parse error")
	// ErrSignature is returned when the recomputed signature does not
	// match the one carried by the token.
	ErrSignature = errors.New("invalid token: signature mismatch")
)

// Codec signs session identifiers into bearer tokens and verifies them back.
// A Codec is immutable and safe for concurrent use.
type Codec struct {
	secret []byte
}

// NewCodec returns a Codec keyed with the shared secret.
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Sign encodes sid into a bearer token: base64url(sid + ":" + hex(sig)).
// SIDs are delimiter-free opaque identifiers, so the split stays unambiguous.
func (c *Codec) Sign(sid string) string {
	payload := sid + ":" + hex.EncodeToString(c.signature(sid))
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// Verify decodes and authenticates a bearer token, returning the embedded
// sid. The signature comparison is constant-time.
func (c *Codec) Verify(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrMalformed
	}

	payload := string(raw)
	i := strings.LastIndexByte(payload, ':')
	if i <= 0 || i == len(payload)-1 {
		return "", ErrMalformed
	}

	sid := payload[:i]
	sig, err := hex.DecodeString(payload[i+1:])
	if err != nil {
		return "", ErrMalformed
	}

	if !hmac.Equal(sig, c.signature(sid)) {
		return "", ErrSignature
	}

	return sid, nil
}

func (c *Codec) signature(sid string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(sid))
	return mac.Sum(nil)
}
