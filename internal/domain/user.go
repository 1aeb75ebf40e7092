// Package domain holds the identity and call entities exchanged over
// signaling. Types here carry data only; behavior lives in the app layer.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

// Identity fields are bounded so a misbehaving directory cannot blow up
// UI payloads or log lines. 36 is the length of a canonical UUID string.
const (
	MaxUserIDLen   = 36
	MaxUsernameLen = 36
)

var (
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUsernameTooLong = errors.New("username too long")
)

// UserID identifies a user in signaling payloads and directory lookups.
type UserID string

// UserProfile is the display identity of a user as the directory returns it.
type UserProfile struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// NewUserProfile mints a local identity with a fresh id. Profiles fetched
// from the directory keep their server-side id and go through SetUsername
// instead.
func NewUserProfile(username string) (*UserProfile, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	return &UserProfile{ID: UserID(uuid.NewString()), Username: username}, nil
}

// SetUsername replaces the display name, rejecting values the UI is not
// prepared to render.
func (u *UserProfile) SetUsername(username string) error {
	if err := validateUsername(username); err != nil {
		return err
	}
	u.Username = username
	return nil
}

func validateUsername(username string) error {
	if username == "" {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
