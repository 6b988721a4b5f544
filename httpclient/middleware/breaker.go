package middleware

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/kroma-labs/manifold/httpclient"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

// NewRedisStore creates a SharedDataStore backed by Redis, so that every
// process using the same breaker name shares one circuit.
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	cfg := middleware.DistributedBreakerConfig(middleware.NewRedisStore(rdb))
func NewRedisStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// BreakerClassifier reports whether a failed call counts against the
// circuit.
type BreakerClassifier func(resp *httpclient.Response, err error) bool

// BreakerConfig configures CircuitBreaker.
//
// The circuit is closed while calls succeed, opens once ReadyToTrip rules
// fire and rejects calls for Timeout, then lets MaxRequests probe calls
// through while half-open.
type BreakerConfig struct {
	// Name identifies the circuit in gobreaker and in the shared store.
	// Default: the client ID.
	Name string

	// MaxRequests is the number of probe calls allowed while half-open.
	MaxRequests uint32

	// Interval clears the closed-state counts periodically. Zero never
	// clears them.
	Interval time.Duration

	// Timeout is how long the circuit stays open.
	Timeout time.Duration

	// FailureThreshold is the minimum number of calls before FailureRatio
	// applies.
	FailureThreshold uint32

	// FailureRatio trips the circuit once failures/calls reaches it.
	FailureRatio float64

	// ConsecutiveFailures trips the circuit after this many failures in a
	// row. Zero disables the rule.
	ConsecutiveFailures uint32

	// Store shares circuit state between processes. Nil keeps it in memory.
	Store gobreaker.SharedDataStore

	// Classifier decides which failures count.
	// Default: DefaultBreakerClassifier
	Classifier BreakerClassifier

	// OnStateChange is called on every state transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns an in-memory breaker that opens after five
// consecutive failures, or a 50% failure ratio over at least twenty calls,
// and probes again after ten seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// DistributedBreakerConfig returns DefaultBreakerConfig sharing its state
// through store.
func DistributedBreakerConfig(store gobreaker.SharedDataStore) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.Store = store
	return cfg
}

// DefaultBreakerClassifier counts 5xx responses and transport failures.
// 429 is left to Retry and RateLimit.
func DefaultBreakerClassifier(resp *httpclient.Response, err error) bool {
	if err == nil || resp == nil {
		return false
	}
	if resp.Status() >= http.StatusInternalServerError {
		return true
	}
	return resp.Status() == http.StatusBadRequest && resp.Error() != nil
}

// errCountedFailure tells gobreaker that a call failed while the middleware
// still returns the original rejection to its caller.
var errCountedFailure = errors.New("counted failure")

type breakerResult struct {
	resp *httpclient.Response
	err  error
}

// breaker is the subset of gobreaker shared by the local and distributed
// implementations.
type breaker interface {
	execute(ctx context.Context, fn func() (breakerResult, error)) (breakerResult, error)
}

type localBreaker struct {
	cb *gobreaker.CircuitBreaker[breakerResult]
}

func (b localBreaker) execute(_ context.Context, fn func() (breakerResult, error)) (breakerResult, error) {
	return b.cb.Execute(fn)
}

type distributedBreaker struct {
	cb *gobreaker.DistributedCircuitBreaker[breakerResult]
}

func (b distributedBreaker) execute(_ context.Context, fn func() (breakerResult, error)) (breakerResult, error) {
	return b.cb.Execute(fn)
}

// CircuitBreaker wraps the inner chain in a gobreaker circuit. While the
// circuit is open calls fail with gobreaker.ErrOpenState, or
// gobreaker.ErrTooManyRequests while half-open probes are exhausted,
// without reaching the gateway.
//
// One circuit is shared by every call made through the returned
// middleware. When Store cannot be reached the failure is logged through
// MiddlewareParams.Logger and calls use a process-local circuit until a
// later call attaches to the shared one.
func CircuitBreaker(cfg BreakerConfig) httpclient.Middleware {
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = DefaultBreakerClassifier
	}

	var (
		mu       sync.Mutex
		cb       breaker
		fallback breaker
	)
	// newBreaker keeps retrying the shared store until it answers, serving
	// calls from a process-local circuit meanwhile.
	newBreaker := func(name string, logger zerolog.Logger) breaker {
		mu.Lock()
		defer mu.Unlock()
		if cb != nil {
			return cb
		}
		st := breakerSettings(name, cfg)
		if cfg.Store == nil {
			cb = localBreaker{cb: gobreaker.NewCircuitBreaker[breakerResult](st)}
			return cb
		}

		dcb, err := gobreaker.NewDistributedCircuitBreaker[breakerResult](cfg.Store, st)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("breaker", name).
				Msg("shared circuit unavailable, using a process-local circuit")
			if fallback == nil {
				fallback = localBreaker{cb: gobreaker.NewCircuitBreaker[breakerResult](st)}
			}
			return fallback
		}
		cb = distributedBreaker{cb: dcb}
		return cb
	}

	return httpclient.NewMiddleware("CircuitBreaker", func(p httpclient.MiddlewareParams) httpclient.Hooks {
		name := cfg.Name
		if name == "" {
			name = p.ClientID
		}
		b := newBreaker(name, p.Logger)

		return httpclient.Hooks{
			Response: func(
				ctx context.Context,
				next httpclient.NextResponse,
				_ httpclient.RenewFunc,
			) (*httpclient.Response, error) {
				res, err := b.execute(ctx, func() (breakerResult, error) {
					resp, err := next(ctx)
					res := breakerResult{resp: resp, err: err}
					if err != nil && classifier(responseOf(resp, err), err) {
						return res, errCountedFailure
					}
					return res, nil
				})
				if err != nil && !errors.Is(err, errCountedFailure) {
					return nil, err
				}
				return res.resp, res.err
			},
		}
	})
}

func breakerSettings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureThreshold > 0 && counts.Requests < cfg.FailureThreshold {
				return false
			}
			if cfg.FailureRatio > 0 && counts.Requests > 0 {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= cfg.FailureRatio
			}
			return false
		},
		OnStateChange: cfg.OnStateChange,
	}
}

func responseOf(resp *httpclient.Response, err error) *httpclient.Response {
	if resp != nil {
		return resp
	}
	resp, _ = httpclient.AsResponse(err)
	return resp
}
