package models

import "time"

// Role values stored in users.role and embedded in tokens.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
)

type User struct {
	ID           int32
	Username     string
	PasswordHash string
	DisplayName  string
	Role         string
	CreatedAt    time.Time
}

// Principal returns the identity that gets signed into tokens.
func (u *User) Principal() Principal {
	return Principal{UserID: u.ID, Username: u.Username, Role: u.Role}
}
