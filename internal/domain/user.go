// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen      = 64
	MaxDisplayNameLen = 64
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrUserIDEmpty        = errors.New("user id empty")
	ErrUserIDTooLong      = errors.New("user id too long")
)

type UserID string

// Identity is the authenticated user a client acts as.
// Token is the bearer credential presented to the hub.
type Identity struct {
	UserID      UserID `json:"userId"`
	DisplayName string `json:"displayName"`
	Token       string `json:"-"`
}

// NewIdentity validates the fields the hub trusts from a token.
func NewIdentity(id UserID, displayName string) (*Identity, error) {
	if len(id) == 0 {
		return nil, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	displayName = strings.TrimSpace(displayName)
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	if displayName == "" {
		displayName = string(id)
	}
	return &Identity{UserID: id, DisplayName: displayName}, nil
}
