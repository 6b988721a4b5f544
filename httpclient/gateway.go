package httpclient

import (
	"context"
	"crypto/tls"
	"net/url"

	"github.com/rs/zerolog"
)

// Gateway performs the actual I/O for a Request.
//
// Implementations resolve with a successful Response, or return a
// *ResponseError (see Reject) for non-success statuses and for transport
// failures, so that callers still receive a Response describing the failure.
type Gateway interface {
	Call(ctx context.Context, req *Request) (*Response, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, req *Request) (*Response, error)

// Call implements Gateway.
func (f GatewayFunc) Call(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// GatewayConfig carries the client settings a gateway may need.
type GatewayConfig struct {
	// Transport tunes the HTTP connection pool and timeouts.
	Transport Config

	// EmulateHTTP sends methods other than GET and POST as POST with the
	// real method in the X-HTTP-Method-Override header and a _method field.
	EmulateHTTP bool

	TLSConfig            *tls.Config
	ProxyURL             *url.URL
	ProxyFromEnvironment bool

	Logger zerolog.Logger
}

// GatewayFactory returns the gateway used for a call. It is invoked once per
// call, so factories that hold connection pools should return a shared
// instance.
type GatewayFactory func(GatewayConfig) Gateway
