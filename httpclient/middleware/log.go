package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/kroma-labs/manifold/httpclient"
	"github.com/rs/zerolog"
)

// Log writes one zerolog event before the call and one after it. Requests
// are logged from the final Request the gateway receives; passwords never
// appear since responses keep a masked copy of the request.
func Log(logger zerolog.Logger) httpclient.Middleware {
	return httpclient.NewMiddleware("Log", func(p httpclient.MiddlewareParams) httpclient.Hooks {
		logger := logger.With().
			Str("client_id", p.ClientID).
			Str("resource", p.ResourceName).
			Str("method", p.ResourceMethod).
			Logger()

		return httpclient.Hooks{
			Request: func(_ context.Context, req *httpclient.Request) (*httpclient.Request, error) {
				logger.Info().
					Str("http_method", strings.ToUpper(req.Method())).
					Str("url", req.String()).
					Bool("mock", p.MockRequest).
					Msg("request")
				return req, nil
			},
			Response: func(
				ctx context.Context,
				next httpclient.NextResponse,
				_ httpclient.RenewFunc,
			) (*httpclient.Response, error) {
				start := time.Now()
				resp, err := next(ctx)

				var event *zerolog.Event
				if err != nil {
					event = logger.Error().Err(err)
				} else {
					event = logger.Info()
				}
				if resp != nil {
					event = event.
						Int("status", resp.Status()).
						Str("url", resp.Request().String())
					if elapsed, ok := resp.TimeElapsed(); ok {
						event = event.Dur("gateway_ms", elapsed)
					}
				}
				event.Dur("duration_ms", time.Since(start)).Msg("response")
				return resp, err
			},
		}
	})
}
