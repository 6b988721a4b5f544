package middleware

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/kroma-labs/manifold/httpclient"
)

// ErrChaosInjected is recorded on responses failed by Chaos.
var ErrChaosInjected = errors.New("chaos: injected failure")

// ChaosConfig configures fault injection.
//
// Example:
//
//	middleware.Chaos(middleware.ChaosConfig{
//	    Latency:   200 * time.Millisecond,
//	    ErrorRate: 0.1,
//	})
type ChaosConfig struct {
	// Latency delays every call before it reaches the gateway.
	Latency time.Duration

	// LatencyJitter adds a random delay in [0, LatencyJitter) on top of
	// Latency.
	LatencyJitter time.Duration

	// ErrorRate is the probability in [0, 1] of failing a call with a
	// rejected 400 response carrying ErrChaosInjected.
	ErrorRate float64

	// TimeoutRate is the probability in [0, 1] of blocking a call until its
	// context is done.
	TimeoutRate float64

	// Float returns a number in [0, 1). Default: math/rand/v2.Float64
	Float func() float64
}

// delay returns the latency to apply, including jitter.
func (c ChaosConfig) delay() time.Duration {
	d := c.Latency
	if c.LatencyJitter > 0 {
		d += rand.N(c.LatencyJitter) //nolint:gosec
	}
	return d
}

func (c ChaosConfig) roll(rate float64) bool {
	if rate <= 0 {
		return false
	}
	float := c.Float
	if float == nil {
		float = rand.Float64 //nolint:gosec
	}
	return float() < rate
}

// Chaos simulates a misbehaving upstream between the middleware registered
// before it and the gateway. Register it first so that Retry, CircuitBreaker
// and friends see its failures like real ones. Mocked calls are affected too.
func Chaos(cfg ChaosConfig) httpclient.Middleware {
	return httpclient.NewMiddleware("Chaos", func(httpclient.MiddlewareParams) httpclient.Hooks {
		var req *httpclient.Request
		return httpclient.Hooks{
			Request: func(_ context.Context, r *httpclient.Request) (*httpclient.Request, error) {
				req = r
				return r, nil
			},
			Response: func(
				ctx context.Context,
				next httpclient.NextResponse,
				_ httpclient.RenewFunc,
			) (*httpclient.Response, error) {
				if d := cfg.delay(); d > 0 {
					timer := time.NewTimer(d)
					select {
					case <-ctx.Done():
						timer.Stop()
						return nil, ctx.Err()
					case <-timer.C:
					}
				}

				if cfg.roll(cfg.TimeoutRate) {
					<-ctx.Done()
					return nil, ctx.Err()
				}
				if cfg.roll(cfg.ErrorRate) {
					resp := httpclient.NewResponse(req, http.StatusBadRequest, "", nil, ErrChaosInjected)
					return resp, httpclient.Reject(resp)
				}
				return next(ctx)
			},
		}
	})
}
