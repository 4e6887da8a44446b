package models

import "github.com/golang-jwt/jwt/v5"

// Principal is the authenticated actor carried by both token classes.
type Principal struct {
	UserID   int32  `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// TokenClaims is the signed payload of access and refresh tokens.
type TokenClaims struct {
	Principal
	jwt.RegisteredClaims
}
