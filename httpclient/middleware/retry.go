package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/kroma-labs/manifold/httpclient"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Headers stamped by Retry on the final response.
const (
	HeaderRetryCount = "x-retry-count"
	HeaderRetryTime  = "x-retry-time"
)

// RetryClassifier decides whether a failed attempt should be retried. resp
// is the rejected Response when the failure carried one.
type RetryClassifier func(resp *httpclient.Response, err error) bool

// RetryConfig configures the Retry middleware.
//
// Example:
//
//	cfg := middleware.DefaultRetryConfig()
//	cfg.MaxRetries = 5
//	cfg.NewBackOff = func() backoff.BackOff { return middleware.NewLinearBackOff() }
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one. Zero
	// disables retries.
	// Default: 3
	MaxRetries uint

	// InitialInterval, MaxInterval and Multiplier shape the default
	// exponential backoff.
	// Default: 500ms, 30s, 2.0
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	// MaxElapsedTime bounds the whole retry sequence. Zero leaves the
	// backoff library default in place.
	// Default: 2m
	MaxElapsedTime time.Duration

	// JitterFactor randomizes each interval by ±JitterFactor.
	// Default: 0.5
	JitterFactor float64

	// NewBackOff replaces the exponential strategy. It is called once per
	// call so strategies can keep per-call state.
	NewBackOff func() backoff.BackOff

	// Classifier decides which failures are retried.
	// Default: DefaultRetryClassifier
	Classifier RetryClassifier

	// Methods lists the lowercase HTTP methods that may be retried.
	// Default: get, head, options
	Methods []string
}

// Default values for RetryConfig.
const (
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 30 * time.Second
	DefaultMaxElapsedTime  = 2 * time.Minute
	DefaultMultiplier      = 2.0
	DefaultJitterFactor    = 0.5
)

var defaultRetryMethods = []string{"get", "head", "options"}

// DefaultRetryConfig returns three exponential retries (500ms, 1s, 2s) with
// ±50% jitter within a two minute budget.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		MaxElapsedTime:  DefaultMaxElapsedTime,
		Multiplier:      DefaultMultiplier,
		JitterFactor:    DefaultJitterFactor,
	}
}

// AggressiveRetryConfig returns five faster retries within five minutes,
// for idempotent calls that must go through.
func AggressiveRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     60 * time.Second,
		MaxElapsedTime:  5 * time.Minute,
		Multiplier:      2.0,
		JitterFactor:    0.5,
	}
}

// ConservativeRetryConfig returns two slow retries within thirty seconds,
// for rate-limited or expensive services.
func ConservativeRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      2,
		InitialInterval: 1 * time.Second,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  30 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.5,
	}
}

// NoRetryConfig disables retries.
func NoRetryConfig() RetryConfig {
	return RetryConfig{}
}

// IsEnabled returns true if retries are enabled.
func (c RetryConfig) IsEnabled() bool {
	return c.MaxRetries > 0
}

func (c RetryConfig) newBackOff() backoff.BackOff {
	if c.NewBackOff != nil {
		b := c.NewBackOff()
		b.Reset()
		return b
	}
	return ExponentialBackOff(c)
}

func (c RetryConfig) allows(method string) bool {
	methods := c.Methods
	if len(methods) == 0 {
		methods = defaultRetryMethods
	}
	return slices.Contains(methods, strings.ToLower(method))
}

// DefaultRetryClassifier retries rejected responses with a 5xx or 429
// status, and transport failures (the synthesized status 400 carrying an
// error). Middleware failures, unresolvable paths, aborts and caller
// cancellation are final.
func DefaultRetryClassifier(resp *httpclient.Response, err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var mwErr *httpclient.MiddlewareError
	if errors.As(err, &mwErr) {
		return false
	}
	var missing *httpclient.MissingParameterError
	if errors.As(err, &missing) {
		return false
	}
	if resp == nil {
		return false
	}

	status := resp.Status()
	switch {
	case status >= http.StatusInternalServerError:
		return true
	case status == http.StatusTooManyRequests:
		return true
	case status == http.StatusBadRequest && resp.Error() != nil:
		return true
	default:
		return false
	}
}

// Retry re-runs the inner chain while the classifier accepts the failure
// and the backoff budget allows. The final response, successful or not,
// carries x-retry-count and x-retry-time (milliseconds). Retries are
// recorded as events on the span found in the context.
func Retry(cfg RetryConfig) httpclient.Middleware {
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = DefaultRetryClassifier
	}

	return httpclient.ResponseMiddleware("Retry", func(
		ctx context.Context,
		next httpclient.NextResponse,
		_ httpclient.RenewFunc,
	) (*httpclient.Response, error) {
		if !cfg.IsEnabled() {
			return next(ctx)
		}

		span := trace.SpanFromContext(ctx)
		start := time.Now()
		retries := 0
		var last *httpclient.Response

		operation := func() (*httpclient.Response, error) {
			resp, err := next(ctx)
			if resp == nil {
				resp, _ = httpclient.AsResponse(err)
			}
			last = resp
			if err == nil {
				return resp, nil
			}
			if resp == nil || !cfg.allows(resp.Request().Method()) || !classifier(resp, err) {
				return resp, backoff.Permanent(err)
			}
			return resp, err
		}

		opts := []backoff.RetryOption{
			backoff.WithBackOff(cfg.newBackOff()),
			backoff.WithMaxTries(cfg.MaxRetries + 1),
			backoff.WithNotify(func(err error, delay time.Duration) {
				retries++
				recordRetryEvent(span, retries, err, delay)
			}),
		}
		if cfg.MaxElapsedTime > 0 {
			opts = append(opts, backoff.WithMaxElapsedTime(cfg.MaxElapsedTime))
		}

		_, err := backoff.Retry(ctx, operation, opts...)
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		if last == nil {
			return nil, err
		}

		stamped := last.Enhance(httpclient.ResponseEnhancement{
			Headers: map[string]string{
				HeaderRetryCount: strconv.Itoa(retries),
				HeaderRetryTime:  strconv.FormatInt(time.Since(start).Milliseconds(), 10),
			},
		})
		return rejectAgain(stamped, err)
	})
}

// recordRetryEvent adds a span event for the retry attempt.
func recordRetryEvent(span trace.Span, attempt int, err error, delay time.Duration) {
	if !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Int("retry.attempt", attempt),
		attribute.Int64("retry.delay_ms", delay.Milliseconds()),
	}
	if resp, ok := httpclient.AsResponse(err); ok {
		attrs = append(attrs, attribute.Int("http.response.status_code", resp.Status()))
	}
	if err != nil {
		reason := err.Error()
		if len(reason) > 50 {
			reason = reason[:50] + "..."
		}
		attrs = append(attrs, attribute.String("retry.reason", reason))
	}

	span.AddEvent("manifold.retry", trace.WithAttributes(attrs...))
}
