package httpclient

import (
	"maps"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// MaskedPassword replaces basic auth passwords in the request a Response
// keeps, so that responses can be logged safely.
const MaskedPassword = "***"

// statusIENoContent is the status some user agents report for 204.
const statusIENoContent = 1223

// Response is an immutable gateway result bound to the Request that
// produced it. Enhance returns a modified copy.
type Response struct {
	request     *Request
	status      int
	rawData     any
	headers     map[string]string
	errors      []error
	timeElapsed *time.Duration
}

// NewResponse creates a Response. The request's password, if any, is masked
// on a copy; the caller's Request is left untouched. Status 1223 is
// normalized to 204.
func NewResponse(req *Request, status int, rawData any, headers map[string]string, errs ...error) *Response {
	if status == statusIENoContent {
		status = http.StatusNoContent
	}
	resp := &Response{
		request: req.withMaskedAuth(),
		status:  status,
		rawData: rawData,
		headers: maps.Clone(headers),
	}
	for _, err := range errs {
		if err != nil {
			resp.errors = append(resp.errors, err)
		}
	}
	return resp
}

// Request returns the originating request with its password masked.
func (r *Response) Request() *Request {
	return r.request
}

// Status returns the HTTP status code.
func (r *Response) Status() int {
	return r.status
}

// Success reports whether the status is in [200, 400).
func (r *Response) Success() bool {
	return r.status >= http.StatusOK && r.status < http.StatusBadRequest
}

// Headers returns a copy of the response headers with lowercase names.
func (r *Response) Headers() map[string]string {
	out := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		out[strings.ToLower(k)] = v
	}
	return out
}

// Header returns a single header value, matched case-insensitively.
func (r *Response) Header(name string) string {
	name = strings.ToLower(name)
	for k, v := range r.headers {
		if strings.ToLower(k) == name {
			return v
		}
	}
	return ""
}

// RawData returns the body as received.
func (r *Response) RawData() any {
	return r.rawData
}

// Data returns the decoded body when the content type is JSON and the raw
// body parses; otherwise it returns the raw body unchanged.
func (r *Response) Data() any {
	if !IsJSONContentType(r.Header("content-type")) {
		return r.rawData
	}
	raw, ok := rawBytes(r.rawData)
	if !ok {
		return r.rawData
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return r.rawData
	}
	return out
}

// DecodeJSON unmarshals the raw body into v.
func (r *Response) DecodeJSON(v any) error {
	raw, ok := rawBytes(r.rawData)
	if !ok {
		// Already decoded values are round-tripped so v gets typed fields.
		var err error
		if raw, err = json.Marshal(r.rawData); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, v)
}

// Error returns the most recently recorded error, or nil.
func (r *Response) Error() error {
	if len(r.errors) == 0 {
		return nil
	}
	return r.errors[len(r.errors)-1]
}

// Errors returns every recorded error in order.
func (r *Response) Errors() []error {
	return append([]error(nil), r.errors...)
}

// TimeElapsed returns the gateway duration and whether it was recorded.
func (r *Response) TimeElapsed() (time.Duration, bool) {
	if r.timeElapsed == nil {
		return 0, false
	}
	return *r.timeElapsed, true
}

// WithTimeElapsed returns a copy with the gateway duration recorded. Gateways
// call it once; an already recorded duration is kept.
func (r *Response) WithTimeElapsed(d time.Duration) *Response {
	if r.timeElapsed != nil {
		return r
	}
	out := r.clone()
	out.timeElapsed = &d
	return out
}

// ResponseEnhancement lists the fields Enhance can override. Zero values are
// left untouched; Error is appended to the error history.
type ResponseEnhancement struct {
	Status  int
	RawData any
	Headers map[string]string
	Error   error
}

// Enhance returns a new Response with the overrides applied. Headers are
// merged over the existing ones and the elapsed time is carried over.
func (r *Response) Enhance(e ResponseEnhancement) *Response {
	out := r.clone()
	if e.Status != 0 {
		out.status = e.Status
		if out.status == statusIENoContent {
			out.status = http.StatusNoContent
		}
	}
	if e.RawData != nil {
		out.rawData = e.RawData
	}
	if len(e.Headers) > 0 {
		merged := make(map[string]string, len(r.headers)+len(e.Headers))
		for k, v := range r.headers {
			merged[strings.ToLower(k)] = v
		}
		for k, v := range e.Headers {
			merged[strings.ToLower(k)] = v
		}
		out.headers = merged
	}
	if e.Error != nil {
		out.errors = append(out.errors, e.Error)
	}
	return out
}

func (r *Response) clone() *Response {
	out := *r
	out.headers = maps.Clone(r.headers)
	out.errors = append([]error(nil), r.errors...)
	return &out
}

// IsJSONContentType reports whether contentType is application/json or an
// application/*+json variant. Parameters such as charset are ignored.
func IsJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	if mediaType == "application/json" {
		return true
	}
	return strings.HasPrefix(mediaType, "application/") && strings.HasSuffix(mediaType, "+json")
}

func rawBytes(data any) ([]byte, bool) {
	switch v := data.(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}
