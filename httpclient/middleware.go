package httpclient

import (
	"context"

	"github.com/rs/zerolog"
)

// MiddlewareParams is handed to every middleware factory once per call.
type MiddlewareParams struct {
	ClientID       string
	Context        map[string]any
	ResourceName   string
	ResourceMethod string
	MockRequest    bool
	Logger         zerolog.Logger
}

// NextRequest runs the rest of the request phase and returns the Request it
// produced.
type NextRequest func(ctx context.Context) (*Request, error)

// AbortFunc stops the call before the gateway is reached. The returned error
// is what the caller of the client receives; hooks should return it.
type AbortFunc func(err error) error

// NextResponse runs the inner middleware and the gateway.
type NextResponse func(ctx context.Context) (*Response, error)

// RenewFunc restarts the whole call from the original Request, including the
// request phase of every middleware.
type RenewFunc func(ctx context.Context) (*Response, error)

// Hooks are the per-call callbacks a middleware contributes. Any of them may
// be nil. When both PrepareRequest and Request are set, Request is ignored.
type Hooks struct {
	// PrepareRequest receives the Request produced by the middleware
	// registered before it through next.
	PrepareRequest func(ctx context.Context, next NextRequest, abort AbortFunc) (*Request, error)

	// Request is the simple form of PrepareRequest that only transforms the
	// incoming Request.
	Request func(ctx context.Context, req *Request) (*Request, error)

	// Response wraps the inner middleware and the gateway. Calling next runs
	// them; calling renew restarts the call.
	Response func(ctx context.Context, next NextResponse, renew RenewFunc) (*Response, error)
}

// MiddlewareFactory builds the hooks for a single call.
type MiddlewareFactory func(MiddlewareParams) Hooks

// Middleware is a named factory. The name only appears in errors, logs and
// metrics.
type Middleware struct {
	Name string
	New  MiddlewareFactory
}

// NewMiddleware pairs a name with a factory.
func NewMiddleware(name string, factory MiddlewareFactory) Middleware {
	return Middleware{Name: name, New: factory}
}

// RequestMiddleware builds a middleware whose only hook transforms the
// Request.
func RequestMiddleware(name string, fn func(ctx context.Context, req *Request) (*Request, error)) Middleware {
	return NewMiddleware(name, func(MiddlewareParams) Hooks {
		return Hooks{Request: fn}
	})
}

// ResponseMiddleware builds a middleware whose only hook wraps the response
// phase.
func ResponseMiddleware(
	name string,
	fn func(ctx context.Context, next NextResponse, renew RenewFunc) (*Response, error),
) Middleware {
	return NewMiddleware(name, func(MiddlewareParams) Hooks {
		return Hooks{Response: fn}
	})
}
