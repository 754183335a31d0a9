package preferences

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"newsfeed/internal/core"
)

const (
	// TokenAudience separates consistency tokens from identity tokens that
	// share the signing secret.
	TokenAudience = core.ConsistencyAudience
	// DefaultTokenWindow is how long a consistency token may stand in for a read
	DefaultTokenWindow = 60 * time.Second
)

var (
	// ErrTokenInvalid covers malformed tokens and bad signatures
	ErrTokenInvalid = errors.New("consistency token is invalid")
	// ErrTokenExpired means the token is past its window; callers fall back to a store read
	ErrTokenExpired = errors.New("consistency token is expired")
	// ErrTokenMismatch means the token was issued to another user
	ErrTokenMismatch = errors.New("consistency token does not belong to this user")
)

// consistencyClaims is the JWT body of a consistency token
type consistencyClaims struct {
	jwt.RegisteredClaims
	Preferences core.PreferenceRecord `json:"pref"`
}

// Bridge issues and verifies signed tokens that carry a just-written
// preference record to the next feed request. Nothing is stored server-side.
type Bridge struct {
	secret []byte
	window time.Duration
	now    func() time.Time
}

// BridgeOption configures a Bridge
type BridgeOption func(*Bridge)

// WithBridgeClock replaces the wall clock, for tests
func WithBridgeClock(now func() time.Time) BridgeOption {
	return func(b *Bridge) {
		b.now = now
	}
}

// NewBridge creates a bridge signing with secret (HS256)
func NewBridge(secret string, window time.Duration, opts ...BridgeOption) *Bridge {
	if window <= 0 {
		window = DefaultTokenWindow
	}
	b := &Bridge{secret: []byte(secret), window: window, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Window returns the validity window
func (b *Bridge) Window() time.Duration {
	return b.window
}

// Issue creates a token for record. IssuedAt has second precision, matching
// the JWT iat claim.
func (b *Bridge) Issue(userID string, record core.PreferenceRecord) core.ConsistencyToken {
	return core.ConsistencyToken{
		ID:       uuid.NewString(),
		UserID:   userID,
		Record:   record,
		IssuedAt: b.now().UTC().Truncate(time.Second),
	}
}

// Encode signs the token
func (b *Bridge) Encode(token core.ConsistencyToken) (string, error) {
	if len(b.secret) == 0 {
		return "", errors.New("consistency token secret is not configured")
	}
	claims := consistencyClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        token.ID,
			Subject:   token.UserID,
			Audience:  jwt.ClaimStrings{TokenAudience},
			IssuedAt:  jwt.NewNumericDate(token.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(token.IssuedAt.Add(b.window)),
		},
		Preferences: token.Record,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return "", fmt.Errorf("sign consistency token: %w", err)
	}
	return signed, nil
}

// Decode verifies raw and returns the token it carries. The token must have
// been issued to userID and still be inside its window.
func (b *Bridge) Decode(raw, userID string) (core.ConsistencyToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(b.secret) == 0 {
		return core.ConsistencyToken{}, ErrTokenInvalid
	}

	var parsed consistencyClaims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(token *jwt.Token) (any, error) {
		return b.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return core.ConsistencyToken{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if !audienceContains(parsed.Audience, TokenAudience) {
		return core.ConsistencyToken{}, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}
	if parsed.ID == "" || parsed.IssuedAt == nil {
		return core.ConsistencyToken{}, fmt.Errorf("%w: jti and iat are required", ErrTokenInvalid)
	}
	if parsed.Subject == "" || parsed.Subject != userID {
		return core.ConsistencyToken{}, ErrTokenMismatch
	}

	token := core.ConsistencyToken{
		ID:       parsed.ID,
		UserID:   parsed.Subject,
		Record:   parsed.Preferences,
		IssuedAt: parsed.IssuedAt.Time.UTC(),
	}
	if !b.Fresh(token) {
		return core.ConsistencyToken{}, ErrTokenExpired
	}
	return token, nil
}

// Fresh reports whether token is inside the window at the bridge's clock
func (b *Bridge) Fresh(token core.ConsistencyToken) bool {
	return token.Fresh(b.now(), b.window)
}

func audienceContains(audience jwt.ClaimStrings, expected string) bool {
	for _, value := range audience {
		if value == expected {
			return true
		}
	}
	return false
}
