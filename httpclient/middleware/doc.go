// Package middleware provides ready-made httpclient middleware.
//
// Register them on the manifest, with httpclient.WithMiddleware, or on a
// single method:
//
//	client, err := httpclient.New(manifest,
//	    httpclient.WithMiddleware(
//	        middleware.EncodeJSON(),
//	        middleware.RequestID(),
//	        middleware.Retry(middleware.DefaultRetryConfig()),
//	        middleware.Tracing(middleware.TracingConfig{}),
//	    ),
//	)
//
// Middleware are folded in registration order, so the last one registered
// is the outermost: its request hook runs last and its response hook sees
// the final result. Register Tracing and Log late to observe retries and
// renewals as a single call; register CircuitBreaker before Retry so that
// every attempt is counted by the breaker.
//
// # Resilience
//
//   - Retry re-runs the inner chain with cenkalti/backoff strategies
//   - CircuitBreaker guards the inner chain with sony/gobreaker, optionally
//     sharing state through Redis
//   - RateLimit throttles calls with golang.org/x/time/rate
//   - Coalesce shares one in-flight GET among identical concurrent calls
//   - Timeout sets a default per-call timeout
//   - Chaos injects latency and failures to exercise the above in tests
//
// # Request shaping
//
//   - EncodeJSON, BasicAuth, CSRF, RequestID, SetHeader, UserAgent, Secure
//   - TokenRefresh stamps a bearer token and renews the call on 401
//
// # Observability
//
//   - Log writes zerolog events for requests and responses
//   - Tracing starts an OpenTelemetry span and injects propagation headers
//   - Prometheus exports call counts and latencies
//   - Duration stamps timing headers on the response
package middleware
