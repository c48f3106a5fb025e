package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims carries the stable user identity inside a signed token.
type Claims struct {
	jwt.RegisteredClaims
	SID string `json:"sid"`
}

// Manager verifies bearer tokens issued by the account service. HMAC with a
// shared secret, so process restarts keep accepting outstanding tokens.
type Manager struct {
	secret []byte
	issuer string
}

// NewManager creates a token manager.
func NewManager(secret, issuer string) *Manager {
	return &Manager{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// Verify validates a token and returns the identity it carries.
func (m *Manager) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	if m.issuer != "" && claims.Issuer != m.issuer {
		return "", ErrInvalidToken
	}

	sid := claims.SID
	if sid == "" {
		sid = claims.Subject
	}
	if sid == "" {
		return "", ErrInvalidToken
	}
	return sid, nil
}

// Sign issues a token for an identity. Used by tests and local tooling; the
// account service owns token issuance in production.
func (m *Manager) Sign(sid string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   sid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		SID: sid,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}
