package middleware

import (
	"context"
	"strconv"
	"strings"

	"github.com/kroma-labs/manifold/httpclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/kroma-labs/manifold/httpclient"

// TracingConfig configures Tracing.
type TracingConfig struct {
	// TracerProvider creates the tracer.
	// Default: otel.GetTracerProvider()
	TracerProvider trace.TracerProvider

	// Propagator injects the span context into request headers.
	// Default: otel.GetTextMapPropagator()
	Propagator propagation.TextMapPropagator

	// SpanName overrides the "<resource>.<method>" span name.
	SpanName func(p httpclient.MiddlewareParams) string
}

// headerCarrier lets a propagator write into a header map.
type headerCarrier map[string]string

func (c headerCarrier) Get(key string) string { return c[strings.ToLower(key)] }

func (c headerCarrier) Set(key, value string) { c[strings.ToLower(key)] = value }

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Tracing starts a client span per call and injects its context into the
// request headers. The span is passed inward through the context, so retries
// recorded by Retry and the connection timings recorded by the HTTP gateway
// land on it. A renewed call keeps the same span.
//
// Register Tracing after every middleware that may abort, so that the span
// is ended on every path.
func Tracing(cfg TracingConfig) httpclient.Middleware {
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	propagator := cfg.Propagator
	if propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}
	tracer := tp.Tracer(tracerName)

	return httpclient.NewMiddleware("Tracing", func(p httpclient.MiddlewareParams) httpclient.Hooks {
		name := p.ResourceName + "." + p.ResourceMethod
		if cfg.SpanName != nil {
			name = cfg.SpanName(p)
		}
		var (
			span      trace.Span
			responded bool
		)

		return httpclient.Hooks{
			PrepareRequest: func(
				ctx context.Context,
				next httpclient.NextRequest,
				_ httpclient.AbortFunc,
			) (*httpclient.Request, error) {
				if span == nil {
					_, span = tracer.Start(ctx, name,
						trace.WithSpanKind(trace.SpanKindClient),
						trace.WithAttributes(
							attribute.String("manifold.client_id", p.ClientID),
							attribute.String("manifold.resource", p.ResourceName),
							attribute.String("manifold.method", p.ResourceMethod),
							attribute.Bool("manifold.mock", p.MockRequest),
						),
					)
				}

				req, err := next(trace.ContextWithSpan(ctx, span))
				if err != nil {
					if !responded {
						endSpan(span, nil, err)
					}
					return nil, err
				}

				carrier := headerCarrier{}
				propagator.Inject(trace.ContextWithSpan(ctx, span), carrier)
				span.SetAttributes(
					attribute.String("http.request.method", strings.ToUpper(req.Method())),
					attribute.String("url.template", req.PathTemplate()),
					attribute.String("server.address", req.Host()),
				)
				return req.Enhance(httpclient.RequestEnhancement{Headers: carrier}), nil
			},
			Response: func(
				ctx context.Context,
				next httpclient.NextResponse,
				_ httpclient.RenewFunc,
			) (*httpclient.Response, error) {
				ctx = trace.ContextWithSpan(ctx, span)
				// A renew issued by an inner middleware re-enters this hook
				// while the outer invocation still owns the span.
				if responded {
					return next(ctx)
				}
				responded = true

				resp, err := next(ctx)
				endSpan(span, resp, err)
				return resp, err
			},
		}
	})
}

func endSpan(span trace.Span, resp *httpclient.Response, err error) {
	defer span.End()

	if resp == nil {
		resp, _ = httpclient.AsResponse(err)
	}
	if resp != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.Status()))
	}
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	errType := httpclient.ClassifyError(err)
	if resp != nil && resp.Error() == nil {
		errType = strconv.Itoa(resp.Status())
	}
	span.SetAttributes(attribute.String("error.type", errType))
}
