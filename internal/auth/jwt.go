package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roomchat/roomchat-server/internal/core"
)

// Claims represents the JWT claims carried by a chat access token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// GenerateToken creates a signed token for the given username and role.
func GenerateToken(cfg *JWTConfig, username string, role core.Role) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.Secret)
}

// VerifyToken parses and validates a token, classifying failures into the
// core auth error taxonomy.
func VerifyToken(cfg *JWTConfig, tokenString string) (core.Identity, error) {
	if tokenString == "" {
		return core.Identity{}, &core.AuthError{Kind: core.AuthMissing, Reason: "missing token"}
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	})
	if err != nil {
		return core.Identity{}, classifyJWTError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return core.Identity{}, &core.AuthError{Kind: core.AuthMalformed, Reason: "invalid token claims"}
	}

	if claims.Subject == "" {
		return core.Identity{}, &core.AuthError{Kind: core.AuthMalformed, Reason: "token has no subject"}
	}
	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return core.Identity{}, &core.AuthError{Kind: core.AuthMalformed, Reason: "invalid issuer"}
	}
	if cfg.Audience != "" && !hasAudience(claims.Audience, cfg.Audience) {
		return core.Identity{}, &core.AuthError{Kind: core.AuthMalformed, Reason: "invalid audience"}
	}

	role := core.Role(claims.Role)
	if role != core.RoleAdmin {
		role = core.RoleUser
	}

	return core.Identity{Username: claims.Subject, Role: role}, nil
}

func classifyJWTError(err error) *core.AuthError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &core.AuthError{Kind: core.AuthExpired, Reason: "token expired"}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return &core.AuthError{Kind: core.AuthInvalidSignature, Reason: "invalid token signature"}
	default:
		return &core.AuthError{Kind: core.AuthMalformed, Reason: "malformed token"}
	}
}

func hasAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
