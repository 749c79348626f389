package security

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id defaults.
const (
	DefaultSaltLength             = 16
	DefaultArgon2Time      uint32 = 2
	DefaultArgon2Memory           = 64 * 1024
	DefaultArgon2Threads          = 2
	DefaultArgon2KeyLength        = 32
)

type HasherOptions struct {
	SaltLength int
	Time       uint32
	MemoryKiB  uint32
	Threads    uint8
	KeyLength  uint32
}

// PasswordHasher derives password hashes with argon2id over an explicit per-user salt.
type PasswordHasher struct {
	opts HasherOptions
}

func NewPasswordHasher(opts HasherOptions) (*PasswordHasher, error) {
	if opts.SaltLength == 0 {
		opts.SaltLength = DefaultSaltLength
	}
	if opts.Time == 0 {
		opts.Time = DefaultArgon2Time
	}
	if opts.MemoryKiB == 0 {
		opts.MemoryKiB = DefaultArgon2Memory
	}
	if opts.Threads == 0 {
		opts.Threads = DefaultArgon2Threads
	}
	if opts.KeyLength == 0 {
		opts.KeyLength = DefaultArgon2KeyLength
	}

	if opts.SaltLength < 8 {
		return nil, fmt.Errorf("salt length must be at least 8 bytes, got %d", opts.SaltLength)
	}
	if opts.KeyLength < 16 {
		return nil, fmt.Errorf("key length must be at least 16 bytes, got %d", opts.KeyLength)
	}

	return &PasswordHasher{opts: opts}, nil
}

func (h *PasswordHasher) GenerateSalt() ([]byte, error) {
	salt := make([]byte, h.opts.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// Hash is deterministic for a given password, salt and parameter set.
func (h *PasswordHasher) Hash(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, h.opts.Time, h.opts.MemoryKiB, h.opts.Threads, h.opts.KeyLength)
}

func (h *PasswordHasher) Verify(password string, hash []byte, salt []byte) bool {
	if len(hash) == 0 || len(salt) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(h.Hash(password, salt), hash) == 1
}
