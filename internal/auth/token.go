// Package auth verifies bearer tokens and turns them into an actor.
package auth

import (
	"errors"
	"fmt"
	"time"

	"repair-shop-service/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by access tokens
type Claims struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Actor returns the authenticated caller described by the claims
func (c *Claims) Actor() models.Actor {
	return models.Actor{ID: c.UserID, Role: c.Role}
}

// TokenService signs and verifies HS256 tokens
type TokenService struct {
	secret []byte
	issuer string
}

// NewTokenService creates a new token service
func NewTokenService(secret, issuer string) *TokenService {
	return &TokenService{secret: []byte(secret), issuer: issuer}
}

// Generate issues a token for actor valid for ttl
func (s *TokenService) Generate(actor models.Actor, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		UserID: actor.ID,
		Role:   actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   actor.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and checks signature, expiry, issuer and role
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" || !claims.Role.Valid() {
		return nil, errors.New("token carries no valid user or role")
	}
	return claims, nil
}
