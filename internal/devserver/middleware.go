// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jeranaias/agrochat/internal/logger"
)

// userIDKey is the gin context key set by requireAuth.
const userIDKey = "user_id"

// ============================================================================
// Auth Middleware
// ============================================================================

// requireAuth rejects requests without a valid bearer token with 401.
func requireAuth(tokens *issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, raw, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
			unauthorized(c, "Not authenticated")
			return
		}
		id, err := tokens.verify(strings.TrimSpace(raw))
		if err != nil {
			logger.Debug("token rejected", "ip", c.ClientIP(), "err", err)
			unauthorized(c, "Could not validate credentials")
			return
		}
		c.Set(userIDKey, id)
		c.Next()
	}
}

func unauthorized(c *gin.Context, detail string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": detail})
}

// ============================================================================
// Rate Limiter
// ============================================================================

// RateLimiter implements a sliding window rate limiter per IP address.
type RateLimiter struct {
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	mu       sync.Mutex
}

// NewRateLimiter creates a RateLimiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow records a request from ip and reports whether it is within the limit.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.allowAt(ip, time.Now())
}

func (rl *RateLimiter) allowAt(ip string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	valid := rl.prune(rl.requests[ip], now)
	if len(valid) >= rl.limit {
		rl.requests[ip] = valid
		return false
	}
	rl.requests[ip] = append(valid, now)

	// Drop idle clients once the map gets large.
	if len(rl.requests) > 1024 {
		for k, ts := range rl.requests {
			if v := rl.prune(ts, now); len(v) == 0 {
				delete(rl.requests, k)
			}
		}
	}
	return true
}

func (rl *RateLimiter) prune(timestamps []time.Time, now time.Time) []time.Time {
	windowStart := now.Add(-rl.window)
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}
	return valid
}

// Remaining returns the requests left in the current window for ip.
func (rl *RateLimiter) Remaining(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	remaining := rl.limit - len(rl.prune(rl.requests[ip], time.Now()))
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// rateLimit returns 429 once a client exceeds the limiter.
func rateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.limit))
		if !limiter.Allow(ip) {
			c.Header("Retry-After", strconv.Itoa(int(limiter.window.Seconds())))
			logger.Warn("rate limit exceeded", "ip", ip, "limit", limiter.limit)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"detail": "Too Many Requests"})
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(ip)))
		c.Next()
	}
}

// ============================================================================
// Logging, Headers and Recovery
// ============================================================================

// requestLogger logs one line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Millisecond),
			"ip", c.ClientIP(),
		)
	}
}

// securityHeaders sets conservative response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Cache-Control", "no-store")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

// recovery turns handler panics into 500 responses.
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"err", err,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "Internal Server Error"})
			}
		}()
		c.Next()
	}
}
