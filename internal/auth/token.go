// Package auth issues and verifies the bearer tokens the hub accepts.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/fleetcall/internal/domain"
	"github.com/gorilla/securecookie"
)

const tokenName = "fleetcall-token"

var (
	ErrNoSecret     = errors.New("auth secret is empty")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

type claims struct {
	UserID      domain.UserID `json:"uid"`
	DisplayName string        `json:"name"`
	ExpiresAt   int64         `json:"exp"`
}

type Issuer struct {
	codec *securecookie.SecureCookie
	ttl   time.Duration
	now   func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	codec := securecookie.New([]byte(secret), nil).
		SetSerializer(securecookie.JSONEncoder{}).
		MaxAge(0)
	return &Issuer{codec: codec, ttl: ttl, now: time.Now}, nil
}

func (i *Issuer) Issue(id *domain.Identity) (string, error) {
	c := claims{
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		ExpiresAt:   i.now().Add(i.ttl).Unix(),
	}
	tok, err := i.codec.Encode(tokenName, c)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return tok, nil
}

// Verify returns the identity a token was issued for.
func (i *Issuer) Verify(token string) (*domain.Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	var c claims
	if err := i.codec.Decode(tokenName, token, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if i.now().Unix() >= c.ExpiresAt {
		return nil, ErrTokenExpired
	}
	id, err := domain.NewIdentity(c.UserID, c.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id.Token = token
	return id, nil
}
