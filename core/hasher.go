package core

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrCorruptDigest is returned when a stored password digest is not a valid
// bcrypt string. This indicates store corruption and is never retried.
var ErrCorruptDigest = errors.New("corrupt password digest")

// PasswordHasher turns plaintext passwords into storable digests and checks
// plaintexts against them. Digests embed a random salt, so two hashes of the
// same plaintext differ; equality must always go through Verify.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	// Verify returns false for a wrong password. An error is returned only
	// when the digest itself is malformed (ErrCorruptDigest).
	Verify(plaintext, digest string) (bool, error)
}

// BcryptHasher implements PasswordHasher with bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher builds a hasher with the given cost factor. Costs outside
// bcrypt's accepted range fall back to the default of 12.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = 12
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	// bcrypt ignores everything past 72 bytes; reject rather than silently
	// truncate.
	if len(plaintext) > 72 {
		return "", errors.New("password exceeds 72 bytes")
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

func (h *BcryptHasher) Verify(plaintext, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		// Truncated hash, bad prefix, invalid cost: the stored digest is
		// unusable.
		return false, ErrCorruptDigest
	}
}
