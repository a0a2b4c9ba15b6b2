package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload minted for an agent session.
type Claims struct {
	Role       string   `json:"role"`
	ProjectIDs []string `json:"project_ids"`
	jwt.RegisteredClaims
}

// Signer issues and validates HS256 JWTs against a self-issued secret, since
// this kernel has no external identity provider to delegate to.
type Signer struct {
	secret []byte
}

// NewSigner builds a Signer from a raw secret. The secret must be at least
// 32 bytes, enough entropy for HS256 to resist brute-force on the key.
func NewSigner(secret string) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt signing key must be at least 32 bytes, got %d", len(secret))
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign mints a token for the principal, valid for ttl.
func (s *Signer) Sign(p Principal, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Role:       string(p.Role),
		ProjectIDs: p.ProjectIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and verifies a token, returning its claims.
func (s *Signer) Validate(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
