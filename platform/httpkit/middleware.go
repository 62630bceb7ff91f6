// Package httpkit provides HTTP middleware infrastructure.
// This is part of the platform layer and contains no business logic.
package httpkit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"lead_waterfall_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// ContextRequestIDKey is the gin context key for the request ID.
	ContextRequestIDKey = "requestID"

	headerRequestID = "X-Request-ID"
)

// RequestID assigns every request an ID, reusing an inbound X-Request-ID.
// The ID is stored on the gin context and on the request context so that
// logger.WithContext picks it up in services.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ContextRequestIDKey, id)
		c.Header(headerRequestID, id)
		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey, id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLogger logs HTTP requests with timing.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		clientIP := c.ClientIP()

		log.WithContext(c.Request.Context()).HTTPRequest(c.Request.Method, path, status, float64(latency.Milliseconds()), clientIP)
	}
}

// SecurityHeaders adds security headers to responses.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

// limiterIdleTTL is how long an IP may stay silent before its limiter is dropped.
const limiterIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter manages per-IP rate limiters. Idle entries are swept lazily
// so the map stays bounded by the recently active clients.
type IPRateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
	rate      rate.Limit
	burst     int
	log       *logger.Logger
	now       func() time.Time
}

// NewIPRateLimiter creates a new IP-based rate limiter.
func NewIPRateLimiter(r rate.Limit, burst int, log *logger.Logger) *IPRateLimiter {
	return &IPRateLimiter{
		visitors: make(map[string]*visitor),
		rate:     r,
		burst:    burst,
		log:      log,
		now:      time.Now,
	}
}

func (i *IPRateLimiter) allow(ip string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	if now.Sub(i.lastSweep) >= limiterIdleTTL {
		for key, v := range i.visitors {
			if now.Sub(v.lastSeen) >= limiterIdleTTL {
				delete(i.visitors, key)
			}
		}
		i.lastSweep = now
	}

	v, ok := i.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(i.rate, i.burst)}
		i.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// RateLimit returns a middleware that rate limits by IP.
func (i *IPRateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !i.allow(ip) {
			if i.log != nil {
				i.log.RateLimitExceeded(ip, c.Request.URL.Path)
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}

// NewFormRateLimiter creates the stricter limiter used by the public lead form
// (10 submissions per minute per IP, burst of 5).
func NewFormRateLimiter(log *logger.Logger) *IPRateLimiter {
	return NewIPRateLimiter(rate.Limit(10.0/60.0), 5, log)
}
