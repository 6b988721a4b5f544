package middleware

import (
	"context"
	"strings"

	"github.com/goccy/go-json"
	"github.com/kroma-labs/manifold/httpclient"
)

// ContentTypeJSON is the content type set by EncodeJSON.
const ContentTypeJSON = "application/json;charset=utf-8"

// EncodeJSON serializes non-string bodies as JSON and sets the content type
// unless the request already declares one. String and []byte bodies are
// assumed to be encoded already.
func EncodeJSON() httpclient.Middleware {
	return httpclient.RequestMiddleware("EncodeJSON", func(_ context.Context, req *httpclient.Request) (*httpclient.Request, error) {
		body := req.Body()
		switch body.(type) {
		case nil, string, []byte:
			return req, nil
		}

		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}

		enhancement := httpclient.RequestEnhancement{Body: string(raw)}
		if strings.TrimSpace(req.Header("content-type")) == "" {
			enhancement.Headers = map[string]string{"content-type": ContentTypeJSON}
		}
		return req.Enhance(enhancement), nil
	})
}
