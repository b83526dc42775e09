package subagent

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidResumeToken is returned for a resume id that fails signature
// verification or has expired.
var ErrInvalidResumeToken = errors.New("subagent: invalid or expired resume token")

// resumeClaims binds a signed resume token to the opaque snapshot key it
// authorizes loading.
type resumeClaims struct {
	SnapshotKey string `json:"snapshotKey"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies resume tokens: signed JWTs (HS256)
// binding an opaque snapshot key to an expiry, so a forged or stale
// resume id is rejected before the Store is even consulted. Repurposes
// the reference's user-session JWT pattern for sub-agent resume tokens.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

// NewTokenService builds a TokenService with the given HMAC secret and
// token lifetime.
func NewTokenService(secret string, expiry time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), expiry: expiry}
}

// Issue signs a resume token for the given snapshot key.
func (s *TokenService) Issue(snapshotKey string) (string, error) {
	if strings.TrimSpace(snapshotKey) == "" {
		return "", fmt.Errorf("subagent: snapshot key is required")
	}
	now := time.Now()
	claims := resumeClaims{
		SnapshotKey: snapshotKey,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks a resume token's signature and expiry and returns the
// snapshot key it authorizes.
func (s *TokenService) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &resumeClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", ErrInvalidResumeToken
	}
	claims, ok := parsed.Claims.(*resumeClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.SnapshotKey) == "" {
		return "", ErrInvalidResumeToken
	}
	return claims.SnapshotKey, nil
}
