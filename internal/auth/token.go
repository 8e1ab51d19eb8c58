package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTokenLifetime = 7 * 24 * time.Hour

// Settings is the explicit configuration threaded into the hasher and the
// token issuer at construction time.
type Settings struct {
	Secret        []byte
	TokenLifetime time.Duration
	HashCost      int
}

// Tokens mints and verifies HS256 session tokens.
type Tokens struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// ErrEmptySecret is returned by NewTokens when no signing secret is configured.
var ErrEmptySecret = errors.New("empty token signing secret")

// NewTokens builds the issuer from s; a zero lifetime uses DefaultTokenLifetime.
func NewTokens(s Settings) (*Tokens, error) {
	if len(s.Secret) == 0 {
		return nil, ErrEmptySecret
	}
	lifetime := s.TokenLifetime
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	return &Tokens{secret: s.Secret, lifetime: lifetime, now: time.Now}, nil
}

// WithClock returns a copy of t that reads time from now.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	c := *t
	c.now = now
	return &c
}

// Lifetime returns the configured token lifetime.
func (t *Tokens) Lifetime() time.Duration { return t.lifetime }

// Issue signs a token whose subject is identityID, expiring after the
// configured lifetime.
func (t *Tokens) Issue(identityID string) (string, time.Time, error) {
	if identityID == "" {
		return "", time.Time{}, errors.New("issue token: empty identity id")
	}
	now := t.now().Truncate(time.Second)
	exp := now.Add(t.lifetime)
	claims := jwt.RegisteredClaims{
		Subject:   identityID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify returns the token subject. Failures are ErrTokenExpired for an
// otherwise valid token past its expiry and ErrInvalidToken for everything
// else (bad signature, wrong algorithm, malformed structure, no subject).
func (t *Tokens) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
