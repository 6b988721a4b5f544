package middleware

import (
	"context"
	"time"

	"github.com/kroma-labs/manifold/httpclient"
)

// Timeout sets d as the request timeout unless the method definition or the
// caller already set one. Non-positive durations leave requests untouched.
func Timeout(d time.Duration) httpclient.Middleware {
	return httpclient.RequestMiddleware("Timeout", func(_ context.Context, req *httpclient.Request) (*httpclient.Request, error) {
		if d <= 0 || req.Timeout() > 0 {
			return req, nil
		}
		return req.Enhance(httpclient.RequestEnhancement{Timeout: d}), nil
	})
}
