// Package httpclient builds HTTP clients from a declarative manifest and runs
// every call through a two-phase middleware pipeline.
//
// # Features
//
//   - Resources and methods declared in code, JSON or YAML
//   - Path templates with required {id} and optional {id?} placeholders
//   - Immutable Request and Response values with copy-on-write Enhance
//   - Middleware with request, prepare and response hooks, abort and renew
//   - Pluggable gateways: net/http by default, MockGateway for tests
//   - OpenTelemetry metrics for calls, renewals and middleware failures
//   - zerolog debug logging with optional cURL rendering
//
// # Quick Start
//
//	client, err := httpclient.New(httpclient.Manifest{
//	    Host: "https://api.example.com",
//	    Resources: map[string]map[string]httpclient.MethodDefinition{
//	        "User": {
//	            "all":  {Path: httpclient.Path("/users")},
//	            "byId": {Path: httpclient.Path("/users/{id}")},
//	            "create": {
//	                Method: "post",
//	                Path:   httpclient.Path("/users"),
//	            },
//	        },
//	    },
//	})
//
//	resp, err := client.Resource("User").Call(ctx, "byId", httpclient.Params{"id": 42})
//	fmt.Println(resp.Status(), resp.Data())
//
// Parameters not consumed by the path template become the query string, in
// sorted key order. The reserved keys body, headers, auth, timeout and host
// feed the corresponding parts of the request instead.
//
// # Middleware
//
// A middleware is a named factory that returns Hooks for one call:
//
//	stamp := httpclient.NewMiddleware("Stamp", func(p httpclient.MiddlewareParams) httpclient.Hooks {
//	    return httpclient.Hooks{
//	        Request: func(ctx context.Context, req *httpclient.Request) (*httpclient.Request, error) {
//	            return req.Enhance(httpclient.RequestEnhancement{
//	                Headers: map[string]string{"x-client": p.ClientID},
//	            }), nil
//	        },
//	    }
//	})
//
// Middleware are registered in order: manifest middleware first, then those
// passed with WithMiddleware, then method middleware. The fold makes
// middleware[0] the innermost layer in both phases:
//
//   - request phase: middleware[0]'s PrepareRequest (or Request) hook
//     receives the original Request first, and each later middleware
//     transforms the result of the one registered before it
//   - response phase: middleware[0]'s Response hook sees the gateway result
//     first, and each later middleware receives the outcome of the one
//     registered before it
//
// The last registered middleware is therefore the outermost layer: it
// prepares the Request that reaches the gateway and returns the final
// Response to the caller.
//
// A response hook may call renew to restart the call from the original
// Request, for example after refreshing a token. The stack may run at most
// DefaultMaxStackInvocations times per call (see WithMaxStackInvocations).
//
// Ready-made middleware live in the middleware subpackage.
//
// # Errors
//
// Rejected calls return the failing Response and a *ResponseError wrapping
// it, so status, headers and body stay available:
//
//	resp, err := client.Call(ctx, "User", "byId", httpclient.Params{"id": 42})
//	if err != nil {
//	    if resp != nil {
//	        log.Printf("status %d: %v", resp.Status(), resp.Data())
//	    }
//	}
//
// Hook failures surface as *MiddlewareError, runaway renewals as
// *RenewLoopError and unresolved placeholders as *MissingParameterError.
//
// # Configuration Presets
//
// The default gateway's transport can be tuned with presets:
//
//	client, err := httpclient.New(manifest,
//	    httpclient.WithConfig(httpclient.HighThroughputConfig()),
//	)
//
// # Testing
//
// MockGateway replaces the network and records calls:
//
//	mock := httpclient.NewMockGateway().
//	    StubPath("/users/42", http.StatusOK, `{"id":42}`)
//	client, _ := httpclient.New(manifest, httpclient.WithMockGateway(mock))
package httpclient
