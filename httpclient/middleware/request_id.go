package middleware

import (
	"context"

	"github.com/google/uuid"
	"github.com/kroma-labs/manifold/httpclient"
)

// HeaderRequestID is the header stamped by RequestID.
const HeaderRequestID = "x-request-id"

// RequestID stamps a random UUID into x-request-id unless the request
// already has one. Renewed calls keep the same identifier.
func RequestID() httpclient.Middleware {
	return httpclient.NewMiddleware("RequestID", func(httpclient.MiddlewareParams) httpclient.Hooks {
		id := uuid.NewString()
		return httpclient.Hooks{
			Request: func(_ context.Context, req *httpclient.Request) (*httpclient.Request, error) {
				if req.Header(HeaderRequestID) != "" {
					return req, nil
				}
				return req.Enhance(httpclient.RequestEnhancement{
					Headers: map[string]string{HeaderRequestID: id},
				}), nil
			},
		}
	})
}
