package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"battlecards-backend/pkg/utils"
)

// IPRateLimiter manages rate limiters per IP
type IPRateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
	lastSeen map[string]time.Time
}

// NewIPRateLimiter creates a new IP-based rate limiter
func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		rate:     r,
		burst:    b,
	}
}

// GetLimiter returns the rate limiter for an IP
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.lastSeen[ip] = time.Now()
	limiter, exists := i.limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(i.rate, i.burst)
		i.limiters[ip] = limiter
	}

	return limiter
}

func (i *IPRateLimiter) cleanup(cutoff time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for ip, seen := range i.lastSeen {
		if seen.Before(cutoff) {
			delete(i.lastSeen, ip)
			delete(i.limiters, ip)
		}
	}
}

// tieredLimiter holds the per-surface limiters.
type tieredLimiter struct {
	login    *IPRateLimiter
	register *IPRateLimiter
	license  *IPRateLimiter
	handoff  *IPRateLimiter
	inquiry  *IPRateLimiter
	general  *IPRateLimiter
}

var limiters = &tieredLimiter{
	login:    NewIPRateLimiter(rate.Every(time.Minute), 5),
	register: NewIPRateLimiter(rate.Every(5*time.Minute), 3),
	license:  NewIPRateLimiter(rate.Every(time.Second), 10),
	handoff:  NewIPRateLimiter(rate.Every(time.Minute), 10),
	inquiry:  NewIPRateLimiter(rate.Every(10*time.Minute), 2),
	general:  NewIPRateLimiter(rate.Every(time.Second), 30),
}

func limit(l *IPRateLimiter, message, retryAfter string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := utils.GetClientIP(c)
		if !l.GetLimiter(ip).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       message,
				"retry_after": retryAfter,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func LoginRateLimit() gin.HandlerFunc {
	return limit(limiters.login, "Too many login attempts. Please try again later.", "60 seconds")
}

func RegisterRateLimit() gin.HandlerFunc {
	return limit(limiters.register, "Too many registration attempts. Please try again later.", "5 minutes")
}

// LicenseRateLimit covers the unauthenticated desktop surface. The
// desktop client retries politely, so a tight per-IP budget is enough to
// stop key scanning without ever bouncing a real activation.
func LicenseRateLimit() gin.HandlerFunc {
	return limit(limiters.license, "Too many license requests. Please slow down.", "1 second")
}

func HandoffRateLimit() gin.HandlerFunc {
	return limit(limiters.handoff, "Too many handoff attempts. Please try again later.", "60 seconds")
}

func InquiryRateLimit() gin.HandlerFunc {
	return limit(limiters.inquiry, "Too many submissions. Please try again later.", "10 minutes")
}

func GeneralRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		// Webhooks are never rate limited; the provider retries with
		// backoff and a dropped event means drift until the next one.
		if path == "/health" || path == "/api/v1/health" ||
			strings.HasPrefix(path, "/api/v1/billing/webhook") {
			c.Next()
			return
		}

		ip := utils.GetClientIP(c)
		if !limiters.general.GetLimiter(ip).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests. Please slow down.",
				"retry_after": "1 second",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// StartCleanup starts the cleanup routine for idle limiter entries
func StartCleanup() {
	ticker := time.NewTicker(1 * time.Hour)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				utils.CaptureSentryPanic("middleware.StartCleanup", r)
			}
		}()
		for range ticker.C {
			cutoff := time.Now().Add(-24 * time.Hour)
			for _, l := range []*IPRateLimiter{
				limiters.login, limiters.register, limiters.license,
				limiters.handoff, limiters.inquiry, limiters.general,
			} {
				l.cleanup(cutoff)
			}
		}
	}()
}
