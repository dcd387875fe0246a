package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimit throttles requests per caller with an in-memory token bucket.
// The key is the authenticated user when available, the client IP otherwise.
// Stale buckets are evicted so the map does not grow without bound.
func RateLimit(r rate.Limit, burst int) gin.HandlerFunc {
	type bucket struct {
		limiter *rate.Limiter
		seen    time.Time
	}

	var mu sync.Mutex
	buckets := make(map[string]*bucket)

	evict := func(now time.Time) {
		for key, b := range buckets {
			if now.Sub(b.seen) > 10*time.Minute {
				delete(buckets, key)
			}
		}
	}

	return func(c *gin.Context) {
		key := c.GetString("user_id")
		if key == "" {
			key = c.ClientIP()
		}

		mu.Lock()
		b, ok := buckets[key]
		if !ok {
			b = &bucket{limiter: rate.NewLimiter(r, burst)}
			buckets[key] = b
			evict(time.Now())
		}
		b.seen = time.Now()
		allowed := b.limiter.Allow()
		mu.Unlock()

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"detail": "Too many requests",
			})
			return
		}

		c.Next()
	}
}
