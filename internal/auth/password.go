package auth

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 6
	DefaultCost       = 10
	// bcrypt only reads this many bytes of input
	MaxPasswordBytes = 72
)

// Hasher turns plaintext passwords into salted bcrypt secrets.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher with the given work factor. A cost outside the
// bcrypt range falls back to DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Hasher{cost: cost}
}

// Cost returns the configured work factor.
func (h *Hasher) Cost() int { return h.cost }

// Hash validates plaintext and returns its secret. Validation runs before any
// hashing so malformed passwords never reach storage.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if err := ValidatePassword(plaintext); err != nil {
		return "", err
	}
	if len(plaintext) > MaxPasswordBytes {
		return "", &ValidationError{Field: "password", Message: fmt.Sprintf("password must be at most %d bytes", MaxPasswordBytes)}
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", &ValidationError{Field: "password", Message: "password must be at most 72 bytes"}
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// Verify reports whether plaintext matches secret. bcrypt compares digests
// in constant time; any mismatch or malformed secret yields false. Input
// longer than MaxPasswordBytes can never match since Hash refuses it and
// bcrypt would silently compare only its prefix.
func (h *Hasher) Verify(plaintext, secret string) bool {
	if secret == "" || len(plaintext) > MaxPasswordBytes {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(secret), []byte(plaintext)) == nil
}

// ValidatePassword enforces the minimum length in characters.
func ValidatePassword(plaintext string) error {
	if plaintext == "" {
		return &ValidationError{Field: "password", Message: "password is required"}
	}
	if utf8.RuneCountInString(plaintext) < MinPasswordLength {
		return &ValidationError{Field: "password", Message: fmt.Sprintf("password must be at least %d characters", MinPasswordLength)}
	}
	return nil
}
