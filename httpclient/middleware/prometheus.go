package middleware

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/kroma-labs/manifold/httpclient"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusConfig configures Prometheus.
type PrometheusConfig struct {
	// Registerer receives the collectors.
	// Default: prometheus.DefaultRegisterer
	Registerer prometheus.Registerer

	// Namespace prefixes metric names.
	// Default: "manifold"
	Namespace string

	// Buckets are the duration histogram buckets in seconds.
	// Default: prometheus.DefBuckets
	Buckets []float64
}

// Prometheus counts calls and observes their duration, labeled by client,
// resource, method and final status. Calls that failed before a Response
// existed are labeled with status "0".
//
// Collectors already registered under the same names are reused, so several
// clients may share one registry.
func Prometheus(cfg PrometheusConfig) (httpclient.Middleware, error) {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "manifold"
	}
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	labels := []string{"client_id", "resource", "method", "status"}
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "client_calls_total",
		Help:      "Number of client calls by final status.",
	}, labels)
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "client_call_duration_seconds",
		Help:      "Duration of client calls including middleware.",
		Buckets:   buckets,
	}, labels)

	var err error
	if calls, err = register(reg, calls); err != nil {
		return httpclient.Middleware{}, err
	}
	if duration, err = register(reg, duration); err != nil {
		return httpclient.Middleware{}, err
	}

	return httpclient.NewMiddleware("Prometheus", func(p httpclient.MiddlewareParams) httpclient.Hooks {
		return httpclient.Hooks{
			Response: func(
				ctx context.Context,
				next httpclient.NextResponse,
				_ httpclient.RenewFunc,
			) (*httpclient.Response, error) {
				start := time.Now()
				resp, err := next(ctx)

				status := "0"
				if r := responseOf(resp, err); r != nil {
					status = strconv.Itoa(r.Status())
				}
				values := []string{p.ClientID, p.ResourceName, p.ResourceMethod, status}
				calls.WithLabelValues(values...).Inc()
				duration.WithLabelValues(values...).Observe(time.Since(start).Seconds())
				return resp, err
			},
		}
	}), nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
