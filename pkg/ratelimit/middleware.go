package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/config"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/metrics"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

func FromSettings(cfg config.RateLimitConfig) RateLimitConfig {
	out := DefaultConfig()
	out.RPS = cfg.RPS
	if cfg.Burst > 0 {
		out.Burst = cfg.Burst
	}
	return out
}

// Limiters keeps one token bucket per client IP.
type Limiters struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

func New(cfg RateLimitConfig) *Limiters {
	return &Limiters{
		cfg:     cfg,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

// Run evicts clients idle for longer than MaxAge until ctx is done.
func (l *Limiters) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

func (l *Limiters) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) > l.cfg.MaxAge {
			delete(l.clients, ip)
		}
	}
}

func (l *Limiters) allow(ip string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now

	if !c.limiter.AllowN(now, 1) {
		return false, 0
	}
	remaining := int(c.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining
}

func (l *Limiters) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if clientIP == "" {
			clientIP = c.RemoteIP()
		}

		allowed, remaining := l.allow(clientIP)
		c.Header("X-RateLimit-Limit", formatRate(l.cfg.RPS))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			metrics.IncRateLimitRequest("limited")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			return
		}

		metrics.IncRateLimitRequest("allowed")
		c.Next()
	}
}

func formatRate(rps float64) string {
	return strconv.FormatFloat(rps, 'f', -1, 64)
}
