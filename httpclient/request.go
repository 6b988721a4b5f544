package httpclient

import (
	"fmt"
	"maps"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	requiredPlaceholder = regexp.MustCompile(`\{([^{}?]+)\}`)
	optionalPlaceholder = regexp.MustCompile(`/?\{[^{}?]+\?\}`)
)

// Request is an immutable call: a method descriptor plus the parameters
// supplied at call time. Every accessor derives its value on demand, and
// Enhance returns a new Request instead of mutating the receiver.
type Request struct {
	descriptor *MethodDescriptor
	params     Params
}

// NewRequest binds params to md. The params map is copied.
func NewRequest(md *MethodDescriptor, params Params) *Request {
	return &Request{descriptor: md, params: maps.Clone(params)}
}

// Descriptor returns the method descriptor the request was built from.
func (r *Request) Descriptor() *MethodDescriptor {
	return r.descriptor
}

// Method returns the lowercase HTTP method.
func (r *Request) Method() string {
	return r.descriptor.method
}

// Params returns the merged parameters: descriptor defaults overlaid with
// call-time values, with reserved keys and nil values removed.
func (r *Request) Params() Params {
	out := make(Params, len(r.descriptor.params)+len(r.params))
	maps.Copy(out, r.descriptor.params)
	maps.Copy(out, r.params)
	for _, attr := range r.descriptor.reservedAttrs() {
		delete(out, attr)
	}
	for k, v := range out {
		if v == nil {
			delete(out, k)
		}
	}
	return out
}

// Host returns the request host without a trailing slash. A call-time host
// parameter only applies when the manifest allows resource host overrides.
func (r *Request) Host() string {
	host := r.descriptor.host
	if r.descriptor.allowHostOverride {
		if h, ok := r.params[r.descriptor.hostAttr].(string); ok && h != "" {
			host = h
		}
	}
	return strings.TrimSuffix(host, "/")
}

// PathTemplate returns the template in effect for this request, evaluating
// the descriptor's path function when one is configured.
func (r *Request) PathTemplate() string {
	if r.descriptor.pathFunc != nil {
		return r.descriptor.pathFunc(r.Params())
	}
	return r.descriptor.path
}

// Path interpolates the template and appends the query string.
//
// Parameters consumed by {name} or {name?} placeholders are encoded into the
// path; unused optional placeholders are removed together with their leading
// slash. Remaining parameters become the query string in sorted key order.
// A required placeholder without a value yields *MissingParameterError.
func (r *Request) Path() (string, error) {
	md := r.descriptor
	params := r.Params()

	template := r.PathTemplate()
	path := template
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	for _, key := range sortedKeys(params) {
		value := md.encode(stringify(params[key]))
		consumed := false
		for _, placeholder := range []string{"{" + key + "}", "{" + key + "?}"} {
			if strings.Contains(path, placeholder) {
				path = strings.ReplaceAll(path, placeholder, value)
				consumed = true
			}
		}
		if consumed {
			delete(params, key)
		}
	}

	path = optionalPlaceholder.ReplaceAllString(path, "")
	if m := requiredPlaceholder.FindStringSubmatch(path); m != nil {
		return "", &MissingParameterError{Param: m[1], Template: template}
	}

	query := make(Params, len(params))
	for k, v := range params {
		if alias, ok := md.queryParamAlias[k]; ok {
			k = alias
		}
		query[k] = v
	}
	if qs := toQueryString(query, md.encoder); qs != "" {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		path += sep + qs
	}
	return path, nil
}

// URL returns Host() followed by Path().
func (r *Request) URL() (string, error) {
	path, err := r.Path()
	if err != nil {
		return "", err
	}
	return r.Host() + path, nil
}

// Headers returns descriptor headers overlaid with call-time headers. All
// names are lowercase.
func (r *Request) Headers() map[string]string {
	out := make(map[string]string, len(r.descriptor.headers))
	for k, v := range r.descriptor.headers {
		out[strings.ToLower(k)] = v
	}
	for k, v := range headerMap(r.params[r.descriptor.headersAttr]) {
		out[strings.ToLower(k)] = v
	}
	return out
}

// Header returns a single header value, matched case-insensitively.
func (r *Request) Header(name string) string {
	return r.Headers()[strings.ToLower(name)]
}

// Body returns the call-time body, or the descriptor body when none was
// given.
func (r *Request) Body() any {
	if body, ok := r.params[r.descriptor.bodyAttr]; ok && body != nil {
		return body
	}
	return r.descriptor.body
}

// Auth returns a copy of the credentials in effect, or nil.
func (r *Request) Auth() *Auth {
	if auth := toAuth(r.params[r.descriptor.authAttr]); auth != nil {
		return auth
	}
	if r.descriptor.auth != nil {
		auth := *r.descriptor.auth
		return &auth
	}
	return nil
}

// Timeout returns the call-time timeout, or the descriptor timeout. Plain
// numbers are read as milliseconds.
func (r *Request) Timeout() time.Duration {
	if timeout := toDuration(r.params[r.descriptor.timeoutAttr]); timeout > 0 {
		return timeout
	}
	return r.descriptor.timeout
}

// IsBinary reports whether the response body must be kept as raw bytes.
func (r *Request) IsBinary() bool {
	return r.descriptor.binary
}

// RequestEnhancement lists the fields Enhance can override. Zero values are
// left untouched.
type RequestEnhancement struct {
	Headers map[string]string
	Params  Params
	Auth    *Auth
	Body    any
	Host    string
	Timeout time.Duration
}

// Enhance returns a new Request with the given overrides applied. Headers
// are merged with the existing call-time headers and take precedence; Params
// are merged into the top-level parameter bag. The receiver is not modified.
func (r *Request) Enhance(e RequestEnhancement) *Request {
	md := r.descriptor
	params := maps.Clone(r.params)
	if params == nil {
		params = make(Params)
	}

	if len(e.Headers) > 0 {
		headers := make(map[string]string)
		for k, v := range headerMap(r.params[md.headersAttr]) {
			headers[strings.ToLower(k)] = v
		}
		for k, v := range e.Headers {
			headers[strings.ToLower(k)] = v
		}
		params[md.headersAttr] = headers
	}
	if e.Auth != nil {
		auth := *e.Auth
		params[md.authAttr] = &auth
	}
	if e.Body != nil {
		params[md.bodyAttr] = e.Body
	}
	if e.Host != "" {
		params[md.hostAttr] = e.Host
	}
	if e.Timeout > 0 {
		params[md.timeoutAttr] = e.Timeout
	}
	maps.Copy(params, e.Params)

	return &Request{descriptor: md, params: params}
}

// String renders the request as "GET https://host/path" for logs and errors.
func (r *Request) String() string {
	if r == nil || r.descriptor == nil {
		return "<nil request>"
	}
	url, err := r.URL()
	if err != nil {
		url = r.Host() + r.PathTemplate()
	}
	return strings.ToUpper(r.Method()) + " " + url
}

// withMaskedAuth returns a copy whose password is replaced by MaskedPassword.
// The receiver is returned as is when it carries no password.
func (r *Request) withMaskedAuth() *Request {
	if r == nil {
		return nil
	}
	auth := r.Auth()
	if auth == nil || auth.Password == "" {
		return r
	}
	params := maps.Clone(r.params)
	if params == nil {
		params = make(Params)
	}
	params[r.descriptor.authAttr] = &Auth{Username: auth.Username, Password: MaskedPassword}
	return &Request{descriptor: r.descriptor, params: params}
}

func headerMap(value any) map[string]string {
	switch v := value.(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, val := range v {
			if val != nil {
				out[k] = fmt.Sprint(val)
			}
		}
		return out
	case http.Header:
		out := make(map[string]string, len(v))
		for k, vals := range v {
			out[k] = strings.Join(vals, ", ")
		}
		return out
	default:
		return nil
	}
}

func toAuth(value any) *Auth {
	switch v := value.(type) {
	case *Auth:
		if v == nil {
			return nil
		}
		auth := *v
		return &auth
	case Auth:
		return &v
	case map[string]string:
		return &Auth{Username: v["username"], Password: v["password"]}
	case map[string]any:
		username, _ := v["username"].(string)
		password, _ := v["password"].(string)
		return &Auth{Username: username, Password: password}
	default:
		return nil
	}
}

func toDuration(value any) time.Duration {
	switch v := value.(type) {
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return 0
}
