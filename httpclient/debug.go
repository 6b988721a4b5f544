package httpclient

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// debugLogger is the package-level zerolog logger for debug output.
var debugLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// generateCurlCommand creates a cURL command equivalent for the given request.
//
// Example output:
//
//	curl -X POST 'https://api.example.com/users' \
//	  -H 'content-type: application/json' \
//	  -d '{"name":"John"}'
func generateCurlCommand(req *Request) string {
	parts := []string{"curl"}

	method := strings.ToUpper(req.Method())
	if method != "GET" {
		parts = append(parts, "-X", method)
	}

	url, err := req.URL()
	if err != nil {
		url = req.Host() + req.PathTemplate()
	}
	parts = append(parts, fmt.Sprintf("'%s'", url))

	headers := req.Headers()
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, "-H", fmt.Sprintf("'%s: %s'", k, maskHeader(k, headers[k])))
	}

	if auth := req.Auth(); auth != nil {
		parts = append(parts, "-u", fmt.Sprintf("'%s:%s'", auth.Username, MaskedPassword))
	}

	if body := curlBody(req.Body()); body != "" {
		body = strings.ReplaceAll(body, "'", "'\\''")
		parts = append(parts, "-d", fmt.Sprintf("'%s'", body))
	}

	return strings.Join(parts, " ")
}

// credentialHeaders are rendered with their secret replaced by MaskedPassword.
var credentialHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
}

// maskHeader keeps the auth scheme of a credential header and hides the rest,
// so "Bearer abc" becomes "Bearer ***".
func maskHeader(name, value string) string {
	if _, ok := credentialHeaders[strings.ToLower(name)]; !ok {
		return value
	}
	if scheme, _, found := strings.Cut(value, " "); found {
		return scheme + " " + MaskedPassword
	}
	return MaskedPassword
}

func curlBody(body any) string {
	switch v := body.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	}
	if form, ok := formParams(body); ok {
		return toQueryString(form, EncodeURIComponent)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Sprint(body)
	}
	return string(raw)
}

// logRequest logs the request details using zerolog.
func logRequest(logger zerolog.Logger, req *Request, withCurl bool) {
	event := logger.Debug().
		Str("method", strings.ToUpper(req.Method())).
		Str("url", req.String())
	if withCurl {
		event = event.Str("curl", generateCurlCommand(req))
	}
	event.Msg("gateway request")
}

// logResponse logs the response details using zerolog.
func logResponse(logger zerolog.Logger, resp *Response, err error, duration time.Duration) {
	event := logger.Debug().Dur("duration_ms", duration)
	if resp != nil {
		event = event.Int("status", resp.Status()).Bool("success", resp.Success())
	}
	if err != nil {
		event = event.Err(err)
	}
	event.Msg("gateway response")
}
