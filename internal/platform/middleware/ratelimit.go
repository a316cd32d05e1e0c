package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig caps request throughput per caller.
type RateLimitConfig struct {
	PerSecond float64
	Burst     int
}

// DefaultRateLimitConfig allows 100 rps with a burst of 200, enough for
// a busy clinic dashboard without letting a runaway agent hammer the API.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{PerSecond: 100, Burst: 200}
}

// callerIdleTTL is how long an idle caller keeps its bucket before the
// limiter forgets it.
const callerIdleTTL = 10 * time.Minute

type caller struct {
	tokens   float64
	lastSeen time.Time
}

// limiter tracks a token budget per caller under one lock. Buckets for
// callers not seen within callerIdleTTL are dropped during sweeps.
type limiter struct {
	mu      sync.Mutex
	callers map[string]*caller
	cfg     RateLimitConfig
	nextGC  time.Time
}

func newLimiter(cfg RateLimitConfig) *limiter {
	return &limiter{
		callers: make(map[string]*caller),
		cfg:     cfg,
		nextGC:  time.Now().Add(callerIdleTTL),
	}
}

// take spends one token for key. It reports whether the request may
// proceed and, when it may not, how many seconds to wait.
func (l *limiter) take(key string, now time.Time) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextGC) {
		for k, c := range l.callers {
			if now.Sub(c.lastSeen) > callerIdleTTL {
				delete(l.callers, k)
			}
		}
		l.nextGC = now.Add(callerIdleTTL)
	}

	c, ok := l.callers[key]
	if !ok {
		c = &caller{tokens: float64(l.cfg.Burst)}
		l.callers[key] = c
	} else {
		c.tokens += now.Sub(c.lastSeen).Seconds() * l.cfg.PerSecond
		if c.tokens > float64(l.cfg.Burst) {
			c.tokens = float64(l.cfg.Burst)
		}
	}
	c.lastSeen = now

	if c.tokens < 1 {
		wait := 1
		if l.cfg.PerSecond > 0 {
			wait = int((1-c.tokens)/l.cfg.PerSecond) + 1
		}
		return false, wait
	}
	c.tokens--
	return true, 0
}

// RateLimit rejects callers that exceed their token budget with a 429.
// Callers are keyed by tenant and source IP so one busy tenant cannot
// starve the rest.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	lim := newLimiter(cfg)
	limitHeader := strconv.FormatFloat(cfg.PerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if tenantID, ok := c.Get("jwt_tenant_id").(string); ok && tenantID != "" {
				key = tenantID + ":" + key
			}

			ok, wait := lim.take(key, time.Now())
			c.Response().Header().Set("X-RateLimit-Limit", limitHeader)
			if !ok {
				c.Response().Header().Set("Retry-After", strconv.Itoa(wait))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
