package middleware

import (
	"context"

	"github.com/kroma-labs/manifold/httpclient"
)

// BasicAuth applies auth to every request that does not already carry
// credentials.
func BasicAuth(auth httpclient.Auth) httpclient.Middleware {
	return httpclient.RequestMiddleware("BasicAuth", func(_ context.Context, req *httpclient.Request) (*httpclient.Request, error) {
		if req.Auth() != nil {
			return req, nil
		}
		return req.Enhance(httpclient.RequestEnhancement{Auth: &auth}), nil
	})
}
