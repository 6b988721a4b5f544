package middleware

import (
	"context"
	"errors"
	"sync"

	"github.com/kroma-labs/manifold/httpclient"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned by RateLimit when WaitOnLimit is false and no
// token is available.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig configures client-side throttling.
//
// Example:
//
//	// 50 calls per second, fail fast instead of waiting
//	cfg := middleware.RateLimitConfig{RequestsPerSecond: 50, Burst: 5}
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. Zero or less disables
	// limiting.
	RequestsPerSecond float64

	// Burst is the number of calls allowed at once above the sustained rate.
	// Default: 1
	Burst int

	// WaitOnLimit blocks until a token is available. When false the call is
	// aborted with ErrRateLimited.
	WaitOnLimit bool

	// PerResource keeps a separate budget for every resource/method pair
	// instead of one for the whole client.
	PerResource bool
}

// DefaultRateLimitConfig returns 100 calls per second with a burst of 10,
// waiting for a token when the budget is spent.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             10,
		WaitOnLimit:       true,
	}
}

// limiterSet lazily creates one limiter per key.
type limiterSet struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.RLock()
	if l, ok := s.limiters[key]; ok {
		s.mu.RUnlock()
		return l
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(s.limit, s.burst)
	s.limiters[key] = l
	return l
}

// RateLimit throttles calls in the request phase, before any middleware
// registered ahead of it produces the Request. Calls rejected by the limiter
// never reach the gateway.
func RateLimit(cfg RateLimitConfig) httpclient.Middleware {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	set := &limiterSet{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    burst,
	}

	return httpclient.NewMiddleware("RateLimit", func(p httpclient.MiddlewareParams) httpclient.Hooks {
		if cfg.RequestsPerSecond <= 0 {
			return httpclient.Hooks{}
		}
		key := p.ClientID
		if cfg.PerResource {
			key += "/" + p.ResourceName + "." + p.ResourceMethod
		}
		limiter := set.get(key)

		return httpclient.Hooks{
			PrepareRequest: func(
				ctx context.Context,
				next httpclient.NextRequest,
				abort httpclient.AbortFunc,
			) (*httpclient.Request, error) {
				if !cfg.WaitOnLimit {
					if !limiter.Allow() {
						return nil, abort(ErrRateLimited)
					}
					return next(ctx)
				}

				if err := limiter.Wait(ctx); err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return nil, abort(err)
					}
					// Wait fails fast when the deadline cannot be met.
					return nil, abort(ErrRateLimited)
				}
				return next(ctx)
			},
		}
	})
}
