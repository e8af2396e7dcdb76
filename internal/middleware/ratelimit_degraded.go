package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"callcoord-backend/internal/database"
	"callcoord-backend/pkg/logger"
)

// RateLimiterConfig holds configuration for rate limiting with degraded mode
// support
type RateLimiterConfig struct {
	RedisClient            *database.RedisClient
	RequestsPerMin         int
	Window                 time.Duration
	EnableInMemoryFallback bool
}

// InMemoryRateLimiter provides in-memory rate limiting as fallback when Redis
// is degraded. Counts are per process, so the limit is approximate across
// replicas; that is acceptable for a fallback.
type InMemoryRateLimiter struct {
	mu     sync.Mutex
	limits map[string]*userRateLimit
}

type userRateLimit struct {
	count       int
	windowStart int64
}

// NewInMemoryRateLimiter creates a new in-memory rate limiter
func NewInMemoryRateLimiter() *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		limits: make(map[string]*userRateLimit),
	}
}

// Check reports whether a request is within rate limits using in-memory
// tracking
func (im *InMemoryRateLimiter) Check(identifier string, requests int, window time.Duration) (bool, int, int64) {
	im.mu.Lock()
	defer im.mu.Unlock()

	now := time.Now().Unix()
	windowStart := now - int64(window.Seconds())

	limiter, exists := im.limits[identifier]
	if !exists {
		im.limits[identifier] = &userRateLimit{count: 1, windowStart: now}
		return true, requests - 1, now + int64(window.Seconds())
	}

	if limiter.windowStart < windowStart {
		limiter.count = 1
		limiter.windowStart = now
	} else {
		limiter.count++
	}

	remaining := requests - limiter.count
	if remaining < 0 {
		remaining = 0
	}
	return limiter.count <= requests, remaining, limiter.windowStart + int64(window.Seconds())
}

// RateLimiterWithFallback wraps the Redis-based rate limiter with an in-memory
// fallback for Redis degraded mode
type RateLimiterWithFallback struct {
	redisLimiter    *RateLimiter
	inMemoryLimiter *InMemoryRateLimiter
	config          RateLimiterConfig
}

// NewRateLimiterWithFallback creates a rate limiter with degraded mode support
func NewRateLimiterWithFallback(config RateLimiterConfig) *RateLimiterWithFallback {
	return &RateLimiterWithFallback{
		redisLimiter:    NewRateLimiter(config.RedisClient.Client, config.RequestsPerMin, config.Window),
		inMemoryLimiter: NewInMemoryRateLimiter(),
		config:          config,
	}
}

// Middleware returns a Gin middleware for rate limiting with degraded mode
// support
func (rl *RateLimiterWithFallback) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if clientIP == "" {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Unable to determine client IP"})
			c.Abort()
			return
		}

		// Per-user when authenticated, per-IP otherwise
		var identifier string
		if userID, exists := c.Get("user_id"); exists {
			identifier = fmt.Sprintf("user:%v", userID)
		} else {
			identifier = fmt.Sprintf("ip:%s", clientIP)
		}

		var allowed bool
		var remaining int
		var resetTime int64

		if rl.config.RedisClient.IsDegraded() && rl.config.EnableInMemoryFallback {
			allowed, remaining, resetTime = rl.inMemoryLimiter.Check(
				identifier, rl.config.RequestsPerMin, rl.config.Window)
		} else {
			var err error
			allowed, remaining, resetTime, err = rl.redisLimiter.checkRateLimit(
				c.Request.Context(), identifier)
			if err != nil {
				logger.Warn("Redis rate limit check failed, allowing request",
					zap.Error(err),
					zap.String("identifier", identifier))
				allowed = true
				remaining = rl.config.RequestsPerMin
				resetTime = time.Now().Unix() + int64(rl.config.Window.Seconds())
			}
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.config.RequestsPerMin))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))

		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":     "Rate limit exceeded",
				"limit":     rl.config.RequestsPerMin,
				"remaining": remaining,
				"reset_at":  resetTime,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
