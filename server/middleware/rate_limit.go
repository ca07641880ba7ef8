package middleware

import (
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	apperrors "github.com/dx-tooling/sitebuilder-webapp-sub000/server/internal/errors"
)

// RateLimiter provides per-key rate limiting.
type RateLimiter struct {
	mu     sync.Mutex
	limits map[string]*rate.Limiter
	rate   rate.Limit
	burst  int
}

// NewRateLimiter creates a limiter allowing perSecond sustained requests per
// key with a burst of twice that.
func NewRateLimiter(perSecond float64) *RateLimiter {
	burst := int(perSecond * 2)
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limits: make(map[string]*rate.Limiter),
		rate:   rate.Limit(perSecond),
		burst:  burst,
	}
}

// getLimiter gets or creates a limiter for the given key.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.limits[key]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(rl.rate, rl.burst)
	rl.limits[key] = limiter
	return limiter
}

// Allow checks if a request is allowed for the given key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Middleware limits requests per authenticated user. It must run after Identity.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, ok := UserIDFrom(c)
			if !ok {
				return apperrors.Unauthenticated("missing user identity")
			}
			if !rl.Allow(strconv.FormatInt(int64(userID), 10)) {
				return apperrors.RateLimitExceeded("rate limit exceeded")
			}
			return next(c)
		}
	}
}
