package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// IdentityClaims is the minimal identity contract this service consumes from
// the external identity provider: a stable account id plus an email-class
// display identifier. Credentials are never validated here.
type IdentityClaims struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

// NewToken mints an identity token. Production tokens come from the identity
// provider; this is used by local tooling and the test suite.
func NewToken(accountID, email, secret string, duration time.Duration) (string, error) {
	if accountID == "" || secret == "" {
		return "", errors.New("not enough data for token generation")
	}

	claims := IdentityClaims{
		AccountID: accountID,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(duration)),
			ID:        uuid.New().String(),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies tokenString against secret and returns its claims.
func ParseToken(tokenString string, secret string) (*IdentityClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})

	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*IdentityClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	if claims.AccountID == "" {
		// Some providers only set the standard subject claim.
		claims.AccountID = claims.Subject
	}
	if claims.AccountID == "" {
		return nil, errors.New("token missing account id")
	}

	return claims, nil
}
