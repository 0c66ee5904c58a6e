package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

var _ ports.ActorVerifier = (*JWTVerifier)(nil)

// Claims is the token body issued by the identity collaborator.
type Claims struct {
	Privileges []string `json:"privileges,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 actor tokens.
type JWTVerifier struct {
	key    []byte
	parser *jwt.Parser
}

// NewJWTVerifier builds a verifier for the shared signing key.
func NewJWTVerifier(signingKey string) (*JWTVerifier, error) {
	if strings.TrimSpace(signingKey) == "" {
		return nil, errors.New("jwt signing key is required")
	}
	return &JWTVerifier{
		key:    []byte(signingKey),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}, nil
}

// Verify resolves a bearer token into an actor context.
func (v *JWTVerifier) Verify(_ context.Context, token string) (domain.ActorContext, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return domain.ActorContext{}, fmt.Errorf("%w: missing token", ports.ErrUnauthorized)
	}
	var claims Claims
	if _, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return v.key, nil }); err != nil {
		return domain.ActorContext{}, fmt.Errorf("%w: %v", ports.ErrUnauthorized, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return domain.ActorContext{}, fmt.Errorf("%w: token has no subject", ports.ErrUnauthorized)
	}
	actor := domain.ActorContext{Actor: claims.Subject}
	for _, p := range claims.Privileges {
		actor.Privileges = append(actor.Privileges, domain.Privilege(strings.ToUpper(p)))
	}
	return actor, nil
}

// Sign issues a token for actor. Used by tooling and tests.
func (v *JWTVerifier) Sign(actor domain.ActorContext, ttl time.Duration) (string, error) {
	privileges := make([]string, 0, len(actor.Privileges))
	for _, p := range actor.Privileges {
		privileges = append(privileges, string(p))
	}
	now := time.Now()
	claims := Claims{
		Privileges: privileges,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.Actor,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
}
