package middleware

import (
	"context"
	"net/http"
	"net/url"

	"github.com/kroma-labs/manifold/httpclient"
)

// Default cookie and header names used by CSRF.
const (
	DefaultCSRFCookieName = "csrfToken"
	DefaultCSRFHeaderName = "x-csrf-token"
)

// CSRF copies the value of cookieName, as stored in jar for the request URL,
// into headerName. Requests are left untouched when the cookie is absent or
// the header is already set. Empty names fall back to the defaults.
func CSRF(jar http.CookieJar, cookieName, headerName string) httpclient.Middleware {
	if cookieName == "" {
		cookieName = DefaultCSRFCookieName
	}
	if headerName == "" {
		headerName = DefaultCSRFHeaderName
	}

	return httpclient.RequestMiddleware("CSRF", func(_ context.Context, req *httpclient.Request) (*httpclient.Request, error) {
		if jar == nil || req.Header(headerName) != "" {
			return req, nil
		}

		target, err := req.URL()
		if err != nil {
			return nil, err
		}
		u, err := url.Parse(target)
		if err != nil {
			return nil, err
		}

		for _, cookie := range jar.Cookies(u) {
			if cookie.Name == cookieName && cookie.Value != "" {
				return req.Enhance(httpclient.RequestEnhancement{
					Headers: map[string]string{headerName: cookie.Value},
				}), nil
			}
		}
		return req, nil
	})
}
