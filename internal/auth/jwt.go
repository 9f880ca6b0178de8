// Package auth owns sessions and credentials.
//
// SESSION FLOW:
//  1. POST /api/auth/signin resolves the identifier, verifies the password
//     with the configured AuthProvider and issues a JWT
//  2. The JWT lives in the HttpOnly "token" cookie
//  3. On every request LoadSession validates the cookie, loads the profile
//     from the store and attaches a *Session to the request context
//  4. Policies receive the profile from that Session, never from the client
//
// The token only carries the user id. Admin status is read from the profile
// store on every request, so demoting an admin takes effect immediately.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer            = "echoshock"
	DefaultSessionTTL = 24 * time.Hour
)

// ErrTokenExpired is returned by Validate for a well-formed token whose
// session has ended.
var ErrTokenExpired = errors.New("auth: token expired")

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService. ttl <= 0 selects DefaultSessionTTL.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// TTL is the lifetime of tokens issued by Generate. Handlers use it for the
// cookie's Max-Age.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

type claims struct {
	jwt.RegisteredClaims
}

// Generate signs a session token for userID with the configured lifetime.
func (s *TokenService) Generate(userID string) (string, error) {
	return s.GenerateWithDuration(userID, s.ttl)
}

// GenerateWithDuration signs a token with a custom lifetime. A negative d
// yields an already-expired token, which tests use to drive expiry.
func (s *TokenService) GenerateWithDuration(userID string, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies tokenStr and returns its subject.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	userID, _, err := s.ValidateWithExpiry(tokenStr)
	return userID, err
}

// ValidateWithExpiry is Validate plus the instant the token stops being
// accepted.
//
// Only HS256 tokens from this issuer with an expiry are accepted; restricting
// the method blocks "alg":"none" and key-confusion tricks.
func (s *TokenService) ValidateWithExpiry(tokenStr string) (string, time.Time, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", time.Time{}, ErrTokenExpired
		}
		return "", time.Time{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", time.Time{}, fmt.Errorf("auth: invalid token claims")
	}

	if c.Subject == "" {
		return "", time.Time{}, fmt.Errorf("auth: token has no subject")
	}

	return c.Subject, c.ExpiresAt.Time, nil
}
