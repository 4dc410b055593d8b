package shamwari

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityVerifier resolves a bearer token into an Identity. Verification
// failure is not an error: it yields an IdentityVerificationFailed identity,
// and the orchestrator's policy of demoting that to anonymous is applied
// explicitly downstream.
type IdentityVerifier interface {
	Verify(ctx context.Context, bearerToken string) Identity
}

// JWTVerifier verifies HMAC-signed JWTs issued by the identity provider.
// Claims: "sub" carries the user ID, "email" the user's email.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for tokens signed with the given secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify implements IdentityVerifier.
func (v *JWTVerifier) Verify(ctx context.Context, bearerToken string) Identity {
	token, err := jwt.Parse(bearerToken, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return FailedIdentity("", fmt.Sprintf("token verification failed: %v", err))
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return FailedIdentity("", "token carries no claims")
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return FailedIdentity("", "token missing sub claim")
	}
	email, _ := claims["email"].(string)

	return AuthenticatedIdentity(userID, email)
}
