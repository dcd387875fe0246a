package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	CtxUserID = "user_id"
	CtxScopes = "scopes"
)

// UserID extracts the authenticated subject from the gin context. Set by
// Middleware.
func UserID(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(CtxUserID))
}

func scopes(c *gin.Context) []string {
	v, ok := c.Get(CtxScopes)
	if !ok {
		return nil
	}
	s, _ := v.([]string)
	return s
}

// HasScope reports whether the caller's token grants the named scope.
func HasScope(c *gin.Context, scope string) bool {
	for _, s := range scopes(c) {
		if s == scope {
			return true
		}
	}
	return false
}
