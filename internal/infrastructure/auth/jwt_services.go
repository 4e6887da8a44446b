package auth

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/honeynil/adminauth/internal/models"
	pkgerrors "github.com/honeynil/adminauth/pkg/errors"
)

const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenCodec signs and verifies access and refresh tokens. The two classes
// use separate secrets, so neither secret can mint the other class.
type TokenCodec interface {
	SignAccess(p models.Principal) (string, error)
	SignRefresh(p models.Principal) (string, error)
	VerifyAccess(token string) (*models.Principal, bool)
	VerifyRefresh(token string) (*models.Principal, bool)
}

type JWTCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

type CodecOption func(*JWTCodec)

// WithClock replaces time.Now for both signing and verification.
func WithClock(now func() time.Time) CodecOption {
	return func(c *JWTCodec) {
		c.now = now
	}
}

func NewJWTCodec(accessSecret, refreshSecret string, opts ...CodecOption) (*JWTCodec, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, fmt.Errorf("%w: empty signing secret", pkgerrors.ErrSignerMisconfigured)
	}
	if accessSecret == refreshSecret {
		return nil, fmt.Errorf("%w: access and refresh secrets must differ", pkgerrors.ErrSignerMisconfigured)
	}

	c := &JWTCodec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     AccessTokenTTL,
		refreshTTL:    RefreshTokenTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *JWTCodec) SignAccess(p models.Principal) (string, error) {
	return c.sign(p, c.accessSecret, c.accessTTL)
}

func (c *JWTCodec) SignRefresh(p models.Principal) (string, error) {
	return c.sign(p, c.refreshSecret, c.refreshTTL)
}

func (c *JWTCodec) VerifyAccess(token string) (*models.Principal, bool) {
	return c.verify(token, c.accessSecret, "access")
}

func (c *JWTCodec) VerifyRefresh(token string) (*models.Principal, bool) {
	return c.verify(token, c.refreshSecret, "refresh")
}

func (c *JWTCodec) sign(p models.Principal, secret []byte, ttl time.Duration) (string, error) {
	now := c.now()
	claims := models.TokenClaims{
		Principal: p,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", pkgerrors.ErrSignerMisconfigured, err)
	}
	return signed, nil
}

func (c *JWTCodec) verify(tokenStr string, secret []byte, class string) (*models.Principal, bool) {
	if tokenStr == "" {
		return nil, false
	}

	claims := &models.TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
			}
			return secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !token.Valid {
		slog.Debug("token rejected", "class", class, "error", err)
		return nil, false
	}

	p := claims.Principal
	return &p, true
}
