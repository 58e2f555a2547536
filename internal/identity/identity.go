// Package identity resolves the authenticated user behind a session. The
// sync core consumes it as a read-only fact; it performs no authentication
// of its own.
package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/fathima-sithara/sync-service/pkg/errors"
)

type User struct {
	ID          string
	DisplayName string
}

type Provider interface {
	FromToken(token string) (*User, error)
}

// JWTProvider validates HS256 tokens issued by the auth service and pulls
// the user id and display name from the claims.
type JWTProvider struct {
	secret []byte
}

func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret)}
}

type claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

func (p *JWTProvider) FromToken(token string) (*User, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token", apperrors.ErrUnauthorized)
	}
	uid := c.UserID
	if uid == "" {
		uid = c.Subject
	}
	if uid == "" {
		return nil, fmt.Errorf("%w: token carries no user id", apperrors.ErrUnauthorized)
	}
	name := c.Name
	if name == "" {
		name = uid
	}
	return &User{ID: uid, DisplayName: name}, nil
}

// Static always resolves to one fixed user. Used by tests and local dev.
type Static struct {
	User User
}

func (s *Static) FromToken(string) (*User, error) {
	u := s.User
	return &u, nil
}
