package middleware

import (
	"context"
	"errors"

	"github.com/kroma-labs/manifold/httpclient"
)

// ErrHandled replaces a rejection that an ErrorHandler callback claimed.
var ErrHandled = errors.New("error handled")

// ErrorHandler passes every rejected Response to handle. When handle returns
// true the rejection is replaced by ErrHandled, so callers can tell a
// failure that was already dealt with (for example by showing a login
// screen) from one they still need to handle. Errors that carry no Response
// are passed through.
func ErrorHandler(handle func(*httpclient.Response) bool) httpclient.Middleware {
	return httpclient.ResponseMiddleware("ErrorHandler", func(
		ctx context.Context,
		next httpclient.NextResponse,
		_ httpclient.RenewFunc,
	) (*httpclient.Response, error) {
		resp, err := next(ctx)
		if err == nil || handle == nil {
			return resp, err
		}
		rejected, ok := httpclient.AsResponse(err)
		if !ok {
			return resp, err
		}
		if handle(rejected) {
			return rejected, ErrHandled
		}
		return resp, err
	})
}
