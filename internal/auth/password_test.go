package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testHasher() *Hasher { return NewHasher(bcrypt.MinCost) }

func TestHasher_HashAndVerify(t *testing.T) {
	h := testHasher()
	for _, p := range []string{"secret1", "abcdef", "pässwörd", strings.Repeat("x", 72)} {
		secret, err := h.Hash(p)
		require.NoError(t, err, p)
		assert.NotEqual(t, p, secret)
		assert.True(t, h.Verify(p, secret), p)
		assert.False(t, h.Verify(p+"!", secret), p)
	}
}

func TestHasher_Salted(t *testing.T) {
	h := testHasher()
	a, err := h.Hash("secret1")
	require.NoError(t, err)
	b, err := h.Hash("secret1")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, h.Verify("secret1", a))
	assert.True(t, h.Verify("secret1", b))
}

func TestHasher_RejectsShortPasswords(t *testing.T) {
	h := testHasher()
	for _, p := range []string{"", "a", "12345", "äöüäö"} {
		_, err := h.Hash(p)
		require.Error(t, err, p)
		assert.ErrorIs(t, err, ErrValidation)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "password", ve.Field)
	}
}

func TestHasher_RejectsOverlongPasswords(t *testing.T) {
	_, err := testHasher().Hash(strings.Repeat("x", 73))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestHasher_VerifyRejectsInputBeyondBcryptLimit(t *testing.T) {
	h := testHasher()
	stored := strings.Repeat("a", MaxPasswordBytes)
	secret, err := h.Hash(stored)
	require.NoError(t, err)

	assert.True(t, h.Verify(stored, secret))
	assert.False(t, h.Verify(stored+"different-suffix", secret))
	assert.False(t, h.Verify(stored+"a", secret))
}

func TestHasher_VerifyNeverPanicsOnGarbage(t *testing.T) {
	h := testHasher()
	assert.False(t, h.Verify("secret1", ""))
	assert.False(t, h.Verify("secret1", "not-a-bcrypt-hash"))
	assert.False(t, h.Verify("", "$2a$04$"))
}

func TestNewHasher_CostBounds(t *testing.T) {
	assert.Equal(t, DefaultCost, NewHasher(0).Cost())
	assert.Equal(t, DefaultCost, NewHasher(bcrypt.MaxCost+1).Cost())
	assert.Equal(t, 12, NewHasher(12).Cost())

	secret, err := NewHasher(bcrypt.MinCost).Hash("secret1")
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(secret))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)
}
