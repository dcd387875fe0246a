// Package auth is the identity gate: it validates bearer tokens against the
// platform's identity provider and places the caller's subject and granted
// scopes in the request context.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"github.com/psp-platform/solver-director/config"
)

// Scopes this service cares about.
const (
	ScopeProjectsRead  = "projects:read"
	ScopeProjectsWrite = "projects:write"
)

// Identity is what a verified token asserts about its caller.
type Identity struct {
	UserID string
	Scopes []string
}

// TokenVerifier validates a raw bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// JWKSVerifier validates JWTs against the identity provider's published key
// set, refreshing keys in the background.
type JWKSVerifier struct {
	jwks     *keyfunc.JWKS
	audience string
}

func NewJWKSVerifier(cfg config.AuthConfig) (*JWKSVerifier, error) {
	jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshTimeout:    10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	return &JWKSVerifier{jwks: jwks, audience: cfg.Audience}, nil
}

func (v *JWKSVerifier) Verify(_ context.Context, raw string) (*Identity, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, v.jwks.Keyfunc)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return nil, fmt.Errorf("wrong audience")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	// The provider issues scopes as one space-delimited claim.
	scopeClaim, _ := claims["scope"].(string)
	return &Identity{UserID: sub, Scopes: strings.Fields(scopeClaim)}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's identity for downstream handlers.
func Middleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "missing authorization token"})
			return
		}

		id, err := verifier.Verify(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid token"})
			return
		}

		c.Set(CtxUserID, id.UserID)
		c.Set(CtxScopes, id.Scopes)
		c.Next()
	}
}

// RequireScope gates a route group on one granted scope.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !HasScope(c, scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "insufficient scope"})
			return
		}
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	bearer := c.GetHeader("Authorization")
	if strings.HasPrefix(bearer, "Bearer ") {
		return bearer[7:]
	}
	return ""
}
