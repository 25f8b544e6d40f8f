package auth

import (
	"context"
	"fmt"
	"time"

	"chat-sync/contract"
	"chat-sync/domain/chat"
	"chat-sync/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
)

const (
	RoleUser      = "user"
	RoleModerator = "moderator"

	issuer = "chat-sync"
)

var _ contract.IdentityProvider = (*JWTIdentity)(nil)

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID      string   `json:"user_id" validate:"required,max=128"`
	DisplayName string   `json:"display_name" validate:"max=64"`
	Roles       []string `json:"roles" validate:"dive,oneof=user moderator"`
	jwt.RegisteredClaims
}

// JWTIdentity is the identity collaborator backed by HS256 tokens.
type JWTIdentity struct {
	secret        []byte
	tokenDuration time.Duration
}

func NewJWTIdentity(secret string, tokenDuration time.Duration) *JWTIdentity {
	return &JWTIdentity{secret: []byte(secret), tokenDuration: tokenDuration}
}

// GenerateToken creates a signed JWT for a specific user.
func (j *JWTIdentity) GenerateToken(userID, displayName string, roles []string) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID:      userID,
		DisplayName: displayName,
		Roles:       roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	if err := ValidateClaims(*claims); err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateToken parses and validates the signature, expiration and content of a JWT string.
func (j *JWTIdentity) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, errors.ErrInvalidToken
	}
	if err := ValidateClaims(*claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// ResolveActor turns a token into the uniform capability set used by the gate.
func (j *JWTIdentity) ResolveActor(_ context.Context, token string) (chat.Actor, error) {
	claims, err := j.ValidateToken(token)
	if err != nil {
		return chat.Actor{}, err
	}
	displayName := claims.DisplayName
	if displayName == "" {
		displayName = claims.UserID
	}
	return chat.Actor{
		UserID:      claims.UserID,
		DisplayName: displayName,
		IsModerator: lo.Contains(claims.Roles, RoleModerator),
	}, nil
}
