// Package domain contains entities and pure rules, no transport or lifecycle.
package domain

import "errors"

const (
	MaxUsernameLen  = 36
	DefaultUsername = "guest"
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

// UserID is the display identity bound to a browser or CLI cookie.
// It is never used by the call protocol itself.
type UserID string

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// UserFromToken restores the identity carried by a client token cookie.
func UserFromToken(token string) *User {
	return &User{ID: UserID(token), Username: DefaultUsername}
}

func (u *User) SetUsername(username string) error {
	switch {
	case username == "":
		return ErrUsernameEmpty
	case len(username) > MaxUsernameLen:
		return ErrUsernameTooLong
	}
	u.Username = username
	return nil
}
