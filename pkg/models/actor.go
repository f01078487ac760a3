package models

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleOwner   Role = "owner"
	RoleLivreur Role = "livreur"
	RoleClient  Role = "client"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleOwner, RoleLivreur, RoleClient:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Actor is a registered user. PasswordHash is empty for accounts created through a
// third-party identity provider.
type Actor struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Phone        *string   `json:"phone"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

type ActorPatch struct {
	Role   *string `json:"role,omitempty"`
	Active *bool   `json:"active,omitempty"`
}
