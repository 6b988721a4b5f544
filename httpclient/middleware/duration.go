package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/kroma-labs/manifold/httpclient"
)

// Timing header names stamped by Duration.
const (
	HeaderStartedAt = "x-started-at"
	HeaderEndedAt   = "x-ended-at"
	HeaderDuration  = "x-duration"
)

// Duration stamps x-started-at on the request and x-started-at, x-ended-at
// and x-duration on the response, all in milliseconds. Mocked calls skip the
// request stamp.
func Duration() httpclient.Middleware {
	return httpclient.NewMiddleware("Duration", func(p httpclient.MiddlewareParams) httpclient.Hooks {
		return httpclient.Hooks{
			PrepareRequest: func(
				ctx context.Context,
				next httpclient.NextRequest,
				_ httpclient.AbortFunc,
			) (*httpclient.Request, error) {
				req, err := next(ctx)
				if err != nil || p.MockRequest {
					return req, err
				}
				return req.Enhance(httpclient.RequestEnhancement{
					Headers: map[string]string{HeaderStartedAt: millis(time.Now())},
				}), nil
			},
			Response: func(
				ctx context.Context,
				next httpclient.NextResponse,
				_ httpclient.RenewFunc,
			) (*httpclient.Response, error) {
				resp, err := next(ctx)
				if resp == nil {
					return resp, err
				}

				started, parseErr := strconv.ParseInt(resp.Request().Header(HeaderStartedAt), 10, 64)
				if parseErr != nil {
					started = time.Now().UnixMilli()
				}
				ended := time.Now().UnixMilli()

				stamped := resp.Enhance(httpclient.ResponseEnhancement{
					Headers: map[string]string{
						HeaderStartedAt: strconv.FormatInt(started, 10),
						HeaderEndedAt:   strconv.FormatInt(ended, 10),
						HeaderDuration:  strconv.FormatInt(ended-started, 10),
					},
				})
				return rejectAgain(stamped, err)
			},
		}
	})
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// rejectAgain keeps a rejection pointing at the enhanced response. Errors
// that did not carry a response are returned unchanged.
func rejectAgain(resp *httpclient.Response, err error) (*httpclient.Response, error) {
	if err == nil {
		return resp, nil
	}
	if _, ok := httpclient.AsResponse(err); ok {
		return resp, httpclient.Reject(resp)
	}
	return resp, err
}
