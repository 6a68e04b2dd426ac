// Package auth issues and validates the bearer tokens accepted by the API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock"

	"seqkeeper/internal/core/apperror"
	appctx "seqkeeper/internal/core/context"
)

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret         string
	Issuer         string
	AccessTokenTTL time.Duration
	Clock          clock.Clock
}

// DefaultJWTConfig returns default JWT configuration.
func DefaultJWTConfig(secret string) JWTConfig {
	return JWTConfig{
		Secret:         secret,
		Issuer:         "seqkeeper",
		AccessTokenTTL: 15 * time.Minute,
	}
}

// Claims represents JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	UserID      string   `json:"uid"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"perms,omitempty"`
	IsAdmin     bool     `json:"adm,omitempty"`
}

// TokenRequest describes the identity a token is issued for.
type TokenRequest struct {
	UserID      string
	Email       string
	Roles       []string
	Permissions []string
	IsAdmin     bool
	TTL         time.Duration // zero uses AccessTokenTTL
}

// JWTService handles JWT operations.
type JWTService struct {
	config JWTConfig
}

// NewJWTService creates a new JWT service.
func NewJWTService(config JWTConfig) *JWTService {
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	return &JWTService{config: config}
}

// GenerateAccessToken signs a token for req.
func (s *JWTService) GenerateAccessToken(req TokenRequest) (string, time.Time, error) {
	if req.UserID == "" {
		return "", time.Time{}, apperror.NewInvalidInput("user", "user id is required")
	}
	if req.UserID == appctx.SystemUserID {
		return "", time.Time{}, apperror.NewInvalidInput("user", "reserved user id")
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.config.AccessTokenTTL
	}
	now := s.config.Clock.Now()
	expiresAt := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   req.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:      req.UserID,
		Email:       req.Email,
		Roles:       req.Roles,
		Permissions: req.Permissions,
		IsAdmin:     req.IsAdmin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken parses a token and returns the user it identifies.
// System identities are never accepted from a token.
func (s *JWTService) ValidateToken(tokenString string) (*appctx.UserContext, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(s.config.Secret), nil
		},
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithTimeFunc(s.config.Clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperror.NewUnauthorized("token expired").WithCause(err)
		}
		return nil, apperror.NewUnauthorized("invalid token").WithCause(err)
	}
	if !token.Valid || claims.UserID == "" || claims.UserID == appctx.SystemUserID {
		return nil, apperror.NewUnauthorized("invalid token claims")
	}

	return &appctx.UserContext{
		UserID:      claims.UserID,
		Email:       claims.Email,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		IsAdmin:     claims.IsAdmin,
	}, nil
}
