package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func limitedRouter(r float64, burst int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.Use(func(c *gin.Context) {
		c.Set("user_id", c.GetHeader("X-Test-User"))
	})
	e.Use(RateLimit(rate.Limit(r), burst))
	e.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return e
}

func ping(e *gin.Engine, user string) int {
	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("X-Test-User", user)
	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, req)
	return rr.Code
}

func TestRateLimitAllowsWithinBurst(t *testing.T) {
	e := limitedRouter(1, 3)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, ping(e, "alice"))
	}
}

func TestRateLimitRejectsBeyondBurst(t *testing.T) {
	e := limitedRouter(0.001, 2)

	assert.Equal(t, http.StatusOK, ping(e, "alice"))
	assert.Equal(t, http.StatusOK, ping(e, "alice"))
	assert.Equal(t, http.StatusTooManyRequests, ping(e, "alice"))
}

func TestRateLimitIsPerCaller(t *testing.T) {
	e := limitedRouter(0.001, 1)

	assert.Equal(t, http.StatusOK, ping(e, "alice"))
	assert.Equal(t, http.StatusTooManyRequests, ping(e, "alice"))
	assert.Equal(t, http.StatusOK, ping(e, "bob"), "one user's burst must not starve another")
}
