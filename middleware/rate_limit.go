package middleware

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 5 * time.Minute

type limiterEntry struct {
	limiter *rate.Limiter
	expires time.Time
}

// RateLimiter is a token bucket per caller key (account id when authenticated, else IP).
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
}

func NewRateLimiter(perMinute int) *RateLimiter {
	perMinute = max(perMinute, 1)
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    max(perMinute/2, 1),
	}
}

// Handler rejects requests over the budget with 429.
func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := AccountID(c)
		if key == "" {
			key = c.IP()
		}
		if !rl.get(key).Allow() {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for k, e := range rl.limiters {
		if now.After(e.expires) {
			delete(rl.limiters, k)
		}
	}
	if e, ok := rl.limiters[key]; ok {
		e.expires = now.Add(limiterIdleTTL)
		return e.limiter
	}
	e := &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst), expires: now.Add(limiterIdleTTL)}
	rl.limiters[key] = e
	return e.limiter
}
