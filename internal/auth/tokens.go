package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"sar/internal/apperr"
)

// Claims carried by an access token.
type Claims struct {
	jwt.RegisteredClaims
	Name      string `json:"name"`
	Role      string `json:"role"`
	SessionID string `json:"sid"`
}

// TokenManager issues and verifies HS256 access tokens and mints opaque
// refresh tokens.
type TokenManager struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	clock     clockwork.Clock
}

func NewTokenManager(secret, issuer string, accessTTL time.Duration, clock clockwork.Clock) *TokenManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenManager{secret: []byte(secret), issuer: issuer, accessTTL: accessTTL, clock: clock}
}

func (m *TokenManager) AccessTTL() time.Duration { return m.accessTTL }

// Issue signs an access token for username.
func (m *TokenManager) Issue(username, name, role, sessionID string) (string, time.Time, error) {
	now := m.clock.Now()
	expires := now.Add(m.accessTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Name:      name,
		Role:      role,
		SessionID: sessionID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth.Issue sign: %w", err)
	}
	return signed, expires, nil
}

// Verify parses token and checks signature, issuer and expiry. Every
// failure is reported as apperr.ErrSessionExpired or
// apperr.ErrUnauthenticated.
func (m *TokenManager) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, apperr.ErrUnauthenticated
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.clock.Now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err)
	}
	if !parsed.Valid {
		return nil, apperr.ErrUnauthenticated
	}
	return claims, nil
}

// NewRefreshToken returns a random token and the SHA-256 hash to store.
func NewRefreshToken() (raw, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("auth.NewRefreshToken: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, HashToken(raw), nil
}

func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
