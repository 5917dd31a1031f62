package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// IdleTTL evicts limiters for clients that have gone quiet.
	IdleTTL time.Duration
	// KeyFunc picks the bucket; defaults to verified tenant + client IP.
	KeyFunc func(c echo.Context) string
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 50, Burst: 100, IdleTTL: 10 * time.Minute}
}

// defaultKey buckets by the tenant claim of a verified token and the client
// IP. Client-supplied tenant headers are not trusted here; run RateLimit
// after authentication.
func defaultKey(c echo.Context) string {
	tid, _ := c.Get("jwt_tenant_id").(string)
	return tid + "|" + c.RealIP()
}

// RateLimit keeps a token bucket per key. A zero or negative rate disables it.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.RequestsPerSecond <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(math.Ceil(cfg.RequestsPerSecond))
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = defaultKey
	}
	limiters := cache.New(cfg.IdleTTL, cfg.IdleTTL)

	get := func(key string) *rate.Limiter {
		if v, ok := limiters.Get(key); ok {
			limiters.SetDefault(key, v)
			return v.(*rate.Limiter)
		}
		l := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
		// Add fails when a concurrent request won the race; use theirs.
		if err := limiters.Add(key, l, cache.DefaultExpiration); err != nil {
			if v, ok := limiters.Get(key); ok {
				return v.(*rate.Limiter)
			}
		}
		return l
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			l := get(cfg.KeyFunc(c))
			res := l.Reserve()
			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				secs := int(math.Ceil(delay.Seconds()))
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
