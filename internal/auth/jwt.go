// Package auth supplies the verified caller identity for the engine.
//
// Authentication itself is an external concern — the mobile client signs
// in elsewhere and holds a token. This package only validates that token
// and exposes the user ID it encodes; every engine operation that says
// "requires an authenticated caller" gets its identity from here and
// nowhere else.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService handles JWT creation and validation.
//
// HS256 with a shared secret: the same secret signs and verifies, so no
// DB lookup is needed to authenticate a request.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// claims embeds jwt.RegisteredClaims; the user ID lives in "sub".
type claims struct {
	jwt.RegisteredClaims
}

// Generate creates and signs a new access token for the given userID.
// Mobile sessions are long-lived, so the default lifetime is 24 hours.
func (s *TokenService) Generate(userID string) (string, error) {
	return s.GenerateWithDuration(userID, 24*time.Hour)
}

// GenerateWithDuration creates a token with a custom expiry duration.
func (s *TokenService) GenerateWithDuration(userID string, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    "stela-backend",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a token string. Returns the userID from
// the "sub" claim if the token is valid, an error if it is expired,
// tampered with, or signed with an unexpected method.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(t *jwt.Token) (interface{}, error) {
		// Reject any token not signed with HMAC — accepting the token's
		// self-declared algorithm is the classic JWT pitfall.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", errors.New("auth: invalid token claims")
	}
	if c.Subject == "" {
		return "", errors.New("auth: token has no subject")
	}

	return c.Subject, nil
}
