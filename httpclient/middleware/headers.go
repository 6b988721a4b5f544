package middleware

import (
	"context"
	"errors"
	"net/url"

	"github.com/kroma-labs/manifold/httpclient"
)

// ErrInsecureScheme is the abort cause used by Secure.
var ErrInsecureScheme = errors.New("insecure scheme")

// SetHeader sets name to value on every request. Headers supplied by the
// caller take precedence.
func SetHeader(name, value string) httpclient.Middleware {
	return httpclient.RequestMiddleware("SetHeader", func(_ context.Context, req *httpclient.Request) (*httpclient.Request, error) {
		if req.Header(name) != "" {
			return req, nil
		}
		return req.Enhance(httpclient.RequestEnhancement{
			Headers: map[string]string{name: value},
		}), nil
	})
}

// UserAgent sets the User-Agent header.
func UserAgent(v string) httpclient.Middleware {
	return SetHeader("user-agent", v)
}

// Secure aborts calls whose host is not an https URL.
func Secure() httpclient.Middleware {
	return httpclient.NewMiddleware("Secure", func(httpclient.MiddlewareParams) httpclient.Hooks {
		return httpclient.Hooks{
			PrepareRequest: func(
				ctx context.Context,
				next httpclient.NextRequest,
				abort httpclient.AbortFunc,
			) (*httpclient.Request, error) {
				req, err := next(ctx)
				if err != nil {
					return nil, err
				}
				u, err := url.Parse(req.Host())
				if err != nil || u.Scheme != "https" {
					return nil, abort(ErrInsecureScheme)
				}
				return req, nil
			},
		}
	})
}
