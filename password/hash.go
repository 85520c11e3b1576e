// Package password derives and verifies credential hashes. The identity
// record stores the hash and a per-user salt as separate fields; the hash is
// always argon2id(password, salt) and never a plaintext or unsalted digest.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
)

// Config holds argon2id cost parameters.
type Config struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns interactive-login argon2id parameters.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        1,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher derives hashes with fixed cost parameters. A Hasher is immutable
// and safe for concurrent use.
type Hasher struct {
	config Config
}

// NewHasher validates cfg and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	if cfg.Memory < minMemoryKB {
		return nil, errors.New("password memory must be >= 8192 KB")
	}
	if cfg.Time < minTimeCost {
		return nil, errors.New("password time must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return nil, errors.New("password parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return nil, errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return nil, errors.New("password key length must be >= 16")
	}
	return &Hasher{config: cfg}, nil
}

// NewSalt returns a fresh random salt, base64-encoded for storage alongside
// the hash on the identity record.
func (h *Hasher) NewSalt() (string, error) {
	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(salt), nil
}

// Hash derives the stored hash for password under the given salt.
func (h *Hasher) Hash(password, salt string) (string, error) {
	rawSalt, err := base64.RawStdEncoding.DecodeString(salt)
	if err != nil {
		return "", errors.New("invalid salt encoding")
	}
	if uint32(len(rawSalt)) < minSaltLength {
		return "", errors.New("invalid salt length")
	}

	key := argon2.IDKey(
		[]byte(password),
		rawSalt,
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)
	return base64.RawStdEncoding.EncodeToString(key), nil
}

// Verify recomputes the hash for password under salt and compares it to the
// stored hash in constant time.
func (h *Hasher) Verify(password, salt, storedHash string) bool {
	expected, err := base64.RawStdEncoding.DecodeString(storedHash)
	if err != nil || len(expected) == 0 {
		return false
	}

	computed, err := h.Hash(password, salt)
	if err != nil {
		return false
	}
	raw, err := base64.RawStdEncoding.DecodeString(computed)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(raw, expected) == 1
}
