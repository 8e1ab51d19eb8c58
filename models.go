package main

import (
	"time"

	"github.com/decodestudio/decodeauth/internal/auth"
)

// User is a registered identity. Email is always stored normalized.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         auth.Role
	CreatedAt    time.Time
}

// userView is the client-facing shape; it never carries the password secret.
type userView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      auth.Role `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u *User) view() userView {
	return userView{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, CreatedAt: u.CreatedAt}
}

// UserUpdate holds the fields an admin may change; nil means unchanged.
type UserUpdate struct {
	Name  *string
	Email *string
	Role  *auth.Role
}

func (u *User) apply(upd UserUpdate) {
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
}
