package api

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// rateLimit — общий token bucket на весь сервер; /healthz не ограничивается.
func rateLimit(l *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Next()
			return
		}
		r := l.Reserve()
		if !r.OK() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		if d := r.Delay(); d > 0 {
			r.Cancel()
			retry := int(math.Ceil(d.Seconds()))
			c.Header("Retry-After", strconv.Itoa(max(retry, 1)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// newLimiter: rps <= 0 — без ограничения.
func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
