// Package auth maps a bearer token to the caller's user id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"newsfeed/internal/core"
)

var (
	// ErrMissingToken means the request carried no bearer token
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken means the token failed verification
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Verifier validates a bearer token and returns the user it identifies.
type Verifier interface {
	Verify(ctx context.Context, bearer string) (string, error)
}

// JWTVerifier verifies HS256 tokens and uses the subject as the user id.
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// Option configures a JWTVerifier
type Option func(*JWTVerifier)

// WithIssuer requires the iss claim to equal issuer
func WithIssuer(issuer string) Option {
	return func(v *JWTVerifier) {
		v.issuer = issuer
	}
}

// WithAudience requires the aud claim to contain audience
func WithAudience(audience string) Option {
	return func(v *JWTVerifier) {
		v.audience = audience
	}
}

// WithClock replaces the wall clock, for tests
func WithClock(now func() time.Time) Option {
	return func(v *JWTVerifier) {
		v.now = now
	}
}

// NewJWTVerifier creates a verifier for tokens signed with secret
func NewJWTVerifier(secret string, opts ...Option) *JWTVerifier {
	v := &JWTVerifier{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks signature, expiry and the configured issuer and audience.
// Consistency tokens are refused even when they share the signing secret.
func (v *JWTVerifier) Verify(ctx context.Context, bearer string) (string, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return "", ErrMissingToken
	}
	if len(v.secret) == 0 {
		return "", fmt.Errorf("%w: verifier has no secret", ErrInvalidToken)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(bearer, &claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	for _, aud := range claims.Audience {
		if aud == core.ConsistencyAudience {
			return "", fmt.Errorf("%w: consistency token used as bearer", ErrInvalidToken)
		}
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}
	return subject, nil
}

// Sign mints a token for userID valid for ttl. Used by the CLI and tests.
func (v *JWTVerifier) Sign(userID string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("auth secret is required")
	}
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id is required")
	}

	now := v.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
