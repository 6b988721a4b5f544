package httpclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultMaxStackInvocations is how many times the middleware stack may run
// for a single call. The default permits one renew.
const DefaultMaxStackInvocations = 2

// Pipeline runs a middleware chain around a Gateway.
//
// Middleware are folded in registration order: middleware[0] is the
// innermost layer in both phases and each later one wraps the chain built so
// far. Its request hook transforms the original Request first and its
// response hook sees the gateway result first; the last registered
// middleware is outermost and returns the final value.
type Pipeline struct {
	gateway        Gateway
	middleware     []Middleware
	maxInvocations int
	logger         zerolog.Logger
	debug          bool
	generateCurl   bool
	metrics        *metrics
}

// NewPipeline creates a pipeline for gateway. Only the logging, metrics and
// renew limit options apply.
func NewPipeline(gateway Gateway, middleware []Middleware, opts ...Option) *Pipeline {
	return newConfig(opts...).newPipeline(gateway, middleware)
}

func (cfg *internalConfig) newPipeline(gateway Gateway, middleware []Middleware) *Pipeline {
	maxInvocations := cfg.MaxStackInvocations
	if maxInvocations <= 0 {
		maxInvocations = DefaultMaxStackInvocations
	}
	return &Pipeline{
		gateway:        gateway,
		middleware:     append([]Middleware(nil), middleware...),
		maxInvocations: maxInvocations,
		logger:         cfg.Logger,
		debug:          cfg.Debug,
		generateCurl:   cfg.GenerateCurl,
		metrics:        cfg.Metrics,
	}
}

// stage is one middleware instance with its hooks normalized.
type stage struct {
	name    string
	prepare func(ctx context.Context, next NextRequest, abort AbortFunc) (*Request, error)
	respond func(ctx context.Context, next NextResponse, renew RenewFunc) (*Response, error)
}

// execution holds the state of a single call through the pipeline.
type execution struct {
	pipeline    *Pipeline
	params      MiddlewareParams
	stages      []stage
	initial     *Request
	invocations int
	attrs       []attribute.KeyValue
}

// Execute runs req through the middleware and the gateway.
//
// Middleware factories are invoked once; renew reuses the same instances.
// When the call fails with a rejected Response, that Response is returned
// alongside the error.
func (p *Pipeline) Execute(ctx context.Context, params MiddlewareParams, req *Request) (*Response, error) {
	attrs := []attribute.KeyValue{
		attribute.String("manifold.resource", params.ResourceName),
		attribute.String("manifold.method", params.ResourceMethod),
	}
	if params.ClientID != "" {
		attrs = append(attrs, attribute.String("manifold.client_id", params.ClientID))
	}

	start := time.Now()
	p.metrics.callStarted(ctx, attrs)

	stages, err := p.instantiate(params)
	var resp *Response
	if err == nil {
		exec := &execution{
			pipeline: p,
			params:   params,
			stages:   stages,
			initial:  req,
			attrs:    attrs,
		}
		resp, err = exec.run(ctx)
	}
	if resp == nil && err != nil {
		resp, _ = AsResponse(err)
	}

	p.metrics.callFinished(ctx, attrs, time.Since(start), resp, err)
	return resp, err
}

func (p *Pipeline) instantiate(params MiddlewareParams) ([]stage, error) {
	stages := make([]stage, 0, len(p.middleware))
	for _, m := range p.middleware {
		hooks, err := newHooks(m, params)
		if err != nil {
			return nil, err
		}
		s := stage{name: m.Name, respond: hooks.Response}
		switch {
		case hooks.PrepareRequest != nil:
			s.prepare = hooks.PrepareRequest
		case hooks.Request != nil:
			s.prepare = transformOnly(hooks.Request)
		}
		stages = append(stages, s)
	}
	return stages, nil
}

func newHooks(m Middleware, params MiddlewareParams) (hooks Hooks, err error) {
	if m.New == nil {
		return Hooks{}, nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = &MiddlewareError{Middleware: m.Name, Phase: PhaseRequest, Err: &PanicError{Value: rec}}
		}
	}()
	return m.New(params), nil
}

// transformOnly adapts a Request hook to the PrepareRequest shape.
func transformOnly(fn func(ctx context.Context, req *Request) (*Request, error)) func(
	context.Context, NextRequest, AbortFunc,
) (*Request, error) {
	return func(ctx context.Context, next NextRequest, _ AbortFunc) (*Request, error) {
		req, err := next(ctx)
		if err != nil {
			return nil, err
		}
		return fn(ctx, req)
	}
}

// run executes the request phase, checks the renew limit and then executes
// the response phase. renew calls back into run.
func (e *execution) run(ctx context.Context) (*Response, error) {
	req, err := e.prepare(ctx)
	if err != nil {
		return nil, err
	}

	e.invocations++
	e.pipeline.metrics.stackInvoked(ctx, e.attrs)
	if e.invocations > e.pipeline.maxInvocations {
		e.pipeline.metrics.loopDetected(ctx, e.attrs)
		return nil, &RenewLoopError{Invocations: e.invocations}
	}

	return e.respond(ctx, req)
}

// abortState records the first abort of a request phase.
type abortState struct {
	mu     sync.Mutex
	cause  error
	cancel context.CancelCauseFunc
}

func (a *abortState) abort(err error) error {
	if err == nil {
		err = ErrAborted
	}
	a.mu.Lock()
	if a.cause == nil {
		a.cause = err
	}
	cause := a.cause
	a.mu.Unlock()
	a.cancel(cause)
	return cause
}

func (a *abortState) err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cause
}

func (e *execution) prepare(ctx context.Context) (*Request, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	aborted := &abortState{cancel: cancel}

	next := NextRequest(func(context.Context) (*Request, error) {
		return e.initial, nil
	})
	for _, s := range e.stages {
		if s.prepare == nil {
			continue
		}
		next = e.wrapRequestPhase(next, s, aborted)
	}

	req, err := next(ctx)
	if cause := aborted.err(); cause != nil {
		e.pipeline.metrics.aborted(ctx, e.attrs)
		return nil, cause
	}
	return req, err
}

func (e *execution) wrapRequestPhase(next NextRequest, s stage, aborted *abortState) NextRequest {
	return func(ctx context.Context) (req *Request, err error) {
		if cause := aborted.err(); cause != nil {
			return nil, cause
		}
		defer func() {
			if rec := recover(); rec != nil {
				req, err = nil, e.requestPhaseError(ctx, s.name, &PanicError{Value: rec})
				if cause := aborted.err(); cause != nil {
					err = cause
				}
			}
		}()

		req, err = s.prepare(ctx, next, aborted.abort)
		if cause := aborted.err(); cause != nil {
			return nil, cause
		}
		if err != nil {
			return nil, e.requestPhaseError(ctx, s.name, err)
		}
		if req == nil {
			e.pipeline.metrics.middlewareFailed(ctx, e.attrs, s.name, PhaseRequest)
			return nil, &MiddlewareError{Middleware: s.name, Phase: PhaseRequest, Invalid: true}
		}
		return req, nil
	}
}

func (e *execution) requestPhaseError(ctx context.Context, name string, err error) error {
	if isWrapped(err) {
		return err
	}
	e.pipeline.metrics.middlewareFailed(ctx, e.attrs, name, PhaseRequest)
	return &MiddlewareError{Middleware: name, Phase: PhaseRequest, Err: err}
}

func (e *execution) respond(ctx context.Context, req *Request) (*Response, error) {
	renew := RenewFunc(func(ctx context.Context) (*Response, error) {
		e.pipeline.metrics.renewed(ctx, e.attrs)
		return e.run(ctx)
	})

	next := NextResponse(func(ctx context.Context) (*Response, error) {
		return e.callGateway(ctx, req)
	})
	for _, s := range e.stages {
		if s.respond == nil {
			continue
		}
		next = e.wrapResponsePhase(next, s, renew)
	}
	return next(ctx)
}

func (e *execution) wrapResponsePhase(next NextResponse, s stage, renew RenewFunc) NextResponse {
	return func(ctx context.Context) (resp *Response, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				e.pipeline.metrics.middlewareFailed(ctx, e.attrs, s.name, PhaseResponse)
				resp, err = nil, &MiddlewareError{Middleware: s.name, Phase: PhaseResponse, Err: &PanicError{Value: rec}}
			}
		}()

		resp, err = s.respond(ctx, next, renew)
		if resp == nil && err == nil {
			e.pipeline.metrics.middlewareFailed(ctx, e.attrs, s.name, PhaseResponse)
			return nil, &MiddlewareError{Middleware: s.name, Phase: PhaseResponse, Invalid: true}
		}
		return resp, err
	}
}

func (e *execution) callGateway(ctx context.Context, req *Request) (resp *Response, err error) {
	p := e.pipeline
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			resp, err = nil, &PanicError{Value: rec}
		}
		p.metrics.gatewayCalled(ctx, e.attrs, time.Since(start), resp)
		if p.debug {
			logResponse(p.logger, resp, err, time.Since(start))
		}
	}()

	if p.debug {
		logRequest(p.logger, req, p.generateCurl)
	}

	resp, err = p.gateway.Call(ctx, req)
	if resp == nil && err == nil {
		err = errNilResponse
	}
	if resp == nil {
		var respErr *ResponseError
		if errors.As(err, &respErr) {
			resp = respErr.Response
		}
	}
	return resp, err
}
