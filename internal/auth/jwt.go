package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lalith-99/dataroom/internal/tenant"
)

// Claims is the payload inside every JWT token.
//
// The session service that issues tokens owns identity; this service only
// reads it. CompanyIDs is the set of companies the caller may act on, which
// is what the tenant guard checks every room operation against.
type Claims struct {
	UserID     uuid.UUID   `json:"user_id"`
	TenantID   uuid.UUID   `json:"tenant_id"`
	Email      string      `json:"email"`
	Name       string      `json:"name,omitempty"`
	CompanyIDs []uuid.UUID `json:"company_ids"`
	jwt.RegisteredClaims
}

// TenantContext converts verified claims into the caller identity.
func (c *Claims) TenantContext() tenant.Context {
	return tenant.Context{
		UserID:               c.UserID,
		TenantID:             c.TenantID,
		Email:                c.Email,
		Name:                 c.Name,
		AuthorizedCompanyIDs: c.CompanyIDs,
	}
}

// GenerateToken creates a signed HS256 JWT for the given identity. Used by
// tests and local tooling; production tokens come from the session service.
func GenerateToken(tc tenant.Context, secret string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		UserID:     tc.UserID,
		TenantID:   tc.TenantID,
		Email:      tc.Email,
		Name:       tc.Name,
		CompanyIDs: tc.AuthorizedCompanyIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "dataroom",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// ParseToken validates a JWT string and extracts the claims.
//
// It verifies:
//  1. The signature matches our secret (not tampered with).
//  2. The token hasn't expired (ExpiresAt is in the future).
//  3. The signing method is HMAC (prevents algorithm-switching attacks).
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == uuid.Nil || claims.TenantID == uuid.Nil {
		return nil, fmt.Errorf("token missing identity")
	}

	return claims, nil
}
