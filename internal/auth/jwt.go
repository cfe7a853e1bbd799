// Package auth holds the credential primitives of the API: password
// hashing, session tokens, password-reset secrets, OAuth provider
// strategies and the HTTP authorization gate.
//
// SESSION TOKENS
//
// A session is an HS256 JWT carrying the user's id, name, email and role:
//
//	HEADER.PAYLOAD.SIGNATURE
//	{"alg":"HS256","typ":"JWT"}.{"id":"...","role":"user","exp":...}.HMAC
//
// There is no server-side session table. A token is valid until its exp
// claim; logging out only discards the cookie on the client.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/lms/internal/apperror"
	"github.com/sakif/lms/internal/model"
)

const (
	// TokenTTL is the lifetime of every session token.
	TokenTTL = 24 * time.Hour

	tokenIssuer = "lms-api"
)

// Claims is the JWT payload: the identity the Authorization Gate attaches
// to a request.
type Claims struct {
	UserID string     `json:"id"`
	Name   string     `json:"name"`
	Email  string     `json:"email"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies session tokens with one process-wide
// HMAC secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService with the given secret.
// Generate one with: openssl rand -hex 32
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    TokenTTL,
		now:    time.Now,
	}, nil
}

// TTL returns the token lifetime, used for the cookie Max-Age.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue creates and signs a session token for u, expiring TTL after now.
func (s *TokenService) Issue(u *model.User) (string, error) {
	if u == nil || u.ID == "" {
		return "", errors.New("auth: cannot issue token without a user id")
	}
	now := s.now()

	c := Claims{
		UserID: u.ID,
		Name:   u.Name,
		Email:  u.Email,
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Verify parses and checks a token string.
//
// Every failure (bad signature, malformed, expired, wrong issuer or
// algorithm) matches apperror.ErrUnauthenticated with the same client
// message. The underlying reason is only visible in err.Error(), for logs.
func (s *TokenService) Verify(tokenStr string) (*Claims, error) {
	c, cause := s.parse(tokenStr)
	if cause != nil {
		return nil, &verifyError{cause: cause}
	}
	return c, nil
}

func (s *TokenService) parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if c.UserID == "" {
		return nil, errors.New("token has no user id")
	}
	return c, nil
}

// invalidToken is the client-facing error for every verification failure.
var invalidToken = apperror.Unauthenticated("invalid or expired token")

// verifyError keeps the reason a token was rejected available to logs
// while matching apperror.ErrUnauthenticated for callers.
type verifyError struct {
	cause error
}

func (e *verifyError) Error() string {
	return "auth: " + e.cause.Error()
}

func (e *verifyError) Unwrap() []error {
	return []error{invalidToken, e.cause}
}
