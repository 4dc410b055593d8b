package shamwari

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier := NewJWTVerifier("top-secret")
	token := signedToken(t, "top-secret", jwt.MapClaims{
		"sub":   "user-42",
		"email": "rudo@example.com",
	})

	id := verifier.Verify(context.Background(), token)

	assert.Equal(t, IdentityAuthenticated, id.Kind)
	assert.Equal(t, "user-42", id.UserID)
	assert.Equal(t, "rudo@example.com", id.Email)
	assert.True(t, id.Authenticated())
	assert.Equal(t, "user-42", id.Key())
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	verifier := NewJWTVerifier("top-secret")
	token := signedToken(t, "some-other-secret", jwt.MapClaims{"sub": "user-42"})

	id := verifier.Verify(context.Background(), token)

	assert.Equal(t, IdentityVerificationFailed, id.Kind)
	assert.NotEmpty(t, id.Reason)
	assert.False(t, id.Authenticated())
}

func TestJWTVerifier_Garbage(t *testing.T) {
	verifier := NewJWTVerifier("top-secret")

	id := verifier.Verify(context.Background(), "not-a-jwt")

	assert.Equal(t, IdentityVerificationFailed, id.Kind)
}

func TestJWTVerifier_MissingSubClaim(t *testing.T) {
	verifier := NewJWTVerifier("top-secret")
	token := signedToken(t, "top-secret", jwt.MapClaims{"email": "rudo@example.com"})

	id := verifier.Verify(context.Background(), token)

	assert.Equal(t, IdentityVerificationFailed, id.Kind)
	assert.Contains(t, id.Reason, "sub")
}
