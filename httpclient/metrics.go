package httpclient

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the metric instruments for client calls and the middleware
// pipeline. A nil *metrics records nothing.
type metrics struct {
	// === Call Metrics ===

	// callDuration measures a whole call including middleware and renewals.
	callDuration metric.Float64Histogram

	// activeCalls tracks calls currently inside the pipeline.
	activeCalls metric.Int64UpDownCounter

	// gatewayDuration measures individual gateway calls.
	gatewayDuration metric.Float64Histogram

	// === Pipeline Metrics ===

	// stackInvocations counts completed request phases, one per call plus
	// one per renew.
	stackInvocations metric.Int64Counter

	// renewals counts renew calls made by response hooks.
	renewals metric.Int64Counter

	// loopsDetected counts calls rejected by the renew limit.
	loopsDetected metric.Int64Counter

	// aborts counts calls stopped by a middleware abort.
	aborts metric.Int64Counter

	// middlewareFailures counts hook failures by middleware and phase.
	middlewareFailures metric.Int64Counter
}

var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
}

// newMetrics creates and registers metric instruments.
func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	m.callDuration, err = meter.Float64Histogram(
		"manifold.client.call.duration",
		metric.WithDescription("Duration of client calls including middleware, in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if err != nil {
		return nil, err
	}

	m.activeCalls, err = meter.Int64UpDownCounter(
		"manifold.client.active_calls",
		metric.WithDescription("Number of calls currently in the middleware pipeline"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.gatewayDuration, err = meter.Float64Histogram(
		"manifold.gateway.duration",
		metric.WithDescription("Duration of gateway calls in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if err != nil {
		return nil, err
	}

	m.stackInvocations, err = meter.Int64Counter(
		"manifold.middleware.stack_invocations",
		metric.WithDescription("Number of times the middleware stack ran"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, err
	}

	m.renewals, err = meter.Int64Counter(
		"manifold.middleware.renewals",
		metric.WithDescription("Number of renew calls issued by response hooks"),
		metric.WithUnit("{renewal}"),
	)
	if err != nil {
		return nil, err
	}

	m.loopsDetected, err = meter.Int64Counter(
		"manifold.middleware.loops_detected",
		metric.WithDescription("Number of calls rejected for renewing too often"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.aborts, err = meter.Int64Counter(
		"manifold.middleware.aborts",
		metric.WithDescription("Number of calls aborted in the request phase"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.middlewareFailures, err = meter.Int64Counter(
		"manifold.middleware.failures",
		metric.WithDescription("Number of middleware hook failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metrics) callStarted(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.activeCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) callFinished(
	ctx context.Context,
	attrs []attribute.KeyValue,
	duration time.Duration,
	resp *Response,
	err error,
) {
	if m == nil {
		return
	}
	m.activeCalls.Add(ctx, -1, metric.WithAttributes(attrs...))

	outcome := append(attrs[:len(attrs):len(attrs)], attribute.String("manifold.outcome", outcomeOf(resp, err)))
	if resp != nil {
		outcome = append(outcome, attribute.String("http.response.status_code", strconv.Itoa(resp.Status())))
	}
	m.callDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(outcome...))
}

func (m *metrics) gatewayCalled(ctx context.Context, attrs []attribute.KeyValue, duration time.Duration, resp *Response) {
	if m == nil {
		return
	}
	recorded := attrs
	if resp != nil {
		recorded = append(recorded[:len(recorded):len(recorded)],
			attribute.String("http.response.status_code", strconv.Itoa(resp.Status())))
	}
	m.gatewayDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(recorded...))
}

func (m *metrics) stackInvoked(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.stackInvocations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) renewed(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.renewals.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) loopDetected(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.loopsDetected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) aborted(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.aborts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) middlewareFailed(ctx context.Context, attrs []attribute.KeyValue, name string, phase Phase) {
	if m == nil {
		return
	}
	recorded := append(attrs[:len(attrs):len(attrs)],
		attribute.String("manifold.middleware", name),
		attribute.String("manifold.phase", string(phase)),
	)
	m.middlewareFailures.Add(ctx, 1, metric.WithAttributes(recorded...))
}

// outcomeOf classifies a finished call for the outcome attribute.
func outcomeOf(resp *Response, err error) string {
	var loopErr *RenewLoopError
	var mwErr *MiddlewareError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &loopErr):
		return "renew_loop"
	case errors.As(err, &mwErr):
		return "middleware_error"
	case resp != nil:
		return "response_error"
	default:
		return "error"
	}
}
