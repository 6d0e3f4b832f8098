package handler

import (
	"sync"
	"time"

	"photorevive/internal/config"
	"photorevive/pkg/response"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter 按客户端 IP 的令牌桶，长时间不活跃的条目会被清理
type ipRateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func newIPRateLimiter(cfg config.RateLimitConfig) *ipRateLimiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &ipRateLimiter{
		clients:   make(map[string]*clientLimiter),
		limit:     rate.Limit(cfg.RequestsPerMinute / 60),
		burst:     burst,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (l *ipRateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > limiterIdleTTL {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// RateLimitMiddleware RequestsPerMinute <= 0 时不限流
func RateLimitMiddleware(cfg config.RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	limiter := newIPRateLimiter(cfg)
	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			response.TooManyRequests(c, "Too many requests, please try again later")
			return
		}
		c.Next()
	}
}
