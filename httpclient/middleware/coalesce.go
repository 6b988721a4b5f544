package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/kroma-labs/manifold/httpclient"
	"golang.org/x/sync/singleflight"
)

// HeaderCoalesced is set to "true" on responses shared with another call.
const HeaderCoalesced = "x-coalesced"

// CoalesceConfig configures Coalesce.
type CoalesceConfig struct {
	// Methods lists the lowercase HTTP methods that may be coalesced.
	// Default: get, head
	Methods []string

	// IgnoreHeaders excludes headers from the key, e.g. per-call request
	// IDs. Names are case-insensitive.
	IgnoreHeaders []string
}

// DefaultCoalesceConfig coalesces GET and HEAD calls and ignores the
// headers stamped per call by RequestID and Duration.
func DefaultCoalesceConfig() CoalesceConfig {
	return CoalesceConfig{
		Methods:       []string{"get", "head"},
		IgnoreHeaders: []string{HeaderRequestID, HeaderStartedAt},
	}
}

type coalesced struct {
	resp *httpclient.Response
	err  error
}

// Coalesce lets identical concurrent calls share a single gateway call. The
// first call runs the inner chain; the others wait for it and receive the
// same Response, marked with x-coalesced. Since the shared call runs with
// the first caller's context, its cancellation fails every waiting call.
func Coalesce(cfg CoalesceConfig) httpclient.Middleware {
	if len(cfg.Methods) == 0 {
		cfg.Methods = []string{"get", "head"}
	}
	ignored := make(map[string]struct{}, len(cfg.IgnoreHeaders))
	for _, h := range cfg.IgnoreHeaders {
		ignored[strings.ToLower(h)] = struct{}{}
	}
	group := &singleflight.Group{}

	return httpclient.NewMiddleware("Coalesce", func(httpclient.MiddlewareParams) httpclient.Hooks {
		var key string

		return httpclient.Hooks{
			PrepareRequest: func(
				ctx context.Context,
				next httpclient.NextRequest,
				_ httpclient.AbortFunc,
			) (*httpclient.Request, error) {
				req, err := next(ctx)
				if err != nil {
					return nil, err
				}
				key = ""
				if slices.Contains(cfg.Methods, req.Method()) {
					key = coalesceKey(req, ignored)
				}
				return req, nil
			},
			Response: func(
				ctx context.Context,
				next httpclient.NextResponse,
				_ httpclient.RenewFunc,
			) (*httpclient.Response, error) {
				if key == "" {
					return next(ctx)
				}

				v, _, shared := group.Do(key, func() (any, error) {
					resp, err := next(ctx)
					return coalesced{resp: resp, err: err}, nil
				})
				res := v.(coalesced)
				if !shared || res.resp == nil {
					return res.resp, res.err
				}

				marked := res.resp.Enhance(httpclient.ResponseEnhancement{
					Headers: map[string]string{HeaderCoalesced: "true"},
				})
				return rejectAgain(marked, res.err)
			},
		}
	})
}

// coalesceKey hashes the method, URL, credentials, timeout, headers and body
// of req. The query string is already sorted by Request.Path.
func coalesceKey(req *httpclient.Request, ignored map[string]struct{}) string {
	url, err := req.URL()
	if err != nil {
		return ""
	}

	parts := []string{req.Method(), url, "timeout=" + req.Timeout().String()}
	if auth := req.Auth(); auth != nil {
		secret := sha256.Sum256([]byte(auth.Password))
		parts = append(parts, "auth="+auth.Username+":"+hex.EncodeToString(secret[:]))
	}
	headers := req.Headers()
	for _, name := range slices.Sorted(maps.Keys(headers)) {
		if _, skip := ignored[name]; skip {
			continue
		}
		parts = append(parts, name+"="+headers[name])
	}
	if body := req.Body(); body != nil {
		if b, err := json.Marshal(body); err == nil {
			sum := sha256.Sum256(b)
			parts = append(parts, hex.EncodeToString(sum[:]))
		}
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
