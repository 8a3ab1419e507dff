package security

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// testSigningKey signs tokens for unit tests only. The dashboard never verifies signatures.
var testSigningKey = []byte("locateme-test-signing-key")

// NewTestToken returns an HS256 JWT for subject expiring at exp (no exp claim when exp is zero). For tests only.
func NewTestToken(subject string, exp time.Time) string {
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(time.Now().UTC()),
	}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if err != nil {
		panic(err)
	}
	return token
}
