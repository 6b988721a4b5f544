package httpclient

import (
	"maps"
	"net/url"
	"strings"
	"time"
)

// Default names of the reserved call parameters. A method definition may
// rename any of them; the renamed key then carries the value and the default
// name becomes an ordinary parameter.
const (
	DefaultBodyAttr    = "body"
	DefaultHeadersAttr = "headers"
	DefaultAuthAttr    = "auth"
	DefaultTimeoutAttr = "timeout"
	DefaultHostAttr    = "host"
)

// DefaultMethod is the HTTP method used when a definition omits one.
const DefaultMethod = "get"

// Params is the bag of values supplied to a call. Reserved keys feed the
// body, headers, auth, timeout and host of the request; every other key is a
// path or query parameter.
type Params map[string]any

// Auth holds basic authentication credentials.
type Auth struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// ParameterEncoder escapes a single path or query component.
type ParameterEncoder func(string) string

// EncodeURIComponent escapes s for use in a path segment or query string.
// Spaces become %20.
func EncodeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Path returns a pointer to p, for use in MethodDefinition literals.
func Path(p string) *string {
	return &p
}

// MethodDefinition describes one callable endpoint as written in a manifest.
type MethodDefinition struct {
	// Host overrides the manifest host for this method.
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	// Path is a template such as "/users/{id}" or "/users/{group?}".
	// Either Path or PathFunc must be set; an empty template is allowed.
	Path     *string             `json:"path,omitempty" yaml:"path,omitempty"`
	PathFunc func(Params) string `json:"-" yaml:"-"`

	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// Params holds default parameter values merged under call-time params.
	Params  Params            `json:"params,omitempty" yaml:"params,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    any               `json:"body,omitempty" yaml:"body,omitempty"`
	Auth    *Auth             `json:"auth,omitempty" yaml:"auth,omitempty"`

	// Timeout takes precedence over TimeoutMillis, which exists for manifests
	// loaded from JSON or YAML.
	Timeout       time.Duration `json:"-" yaml:"-"`
	TimeoutMillis int64         `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Binary marks responses that must be kept as raw bytes.
	Binary bool `json:"binary,omitempty" yaml:"binary,omitempty"`

	// QueryParamAlias renames parameters when they are written into the
	// query string.
	QueryParamAlias map[string]string `json:"queryParamAlias,omitempty" yaml:"queryParamAlias,omitempty"`

	BodyAttr    string `json:"bodyAttr,omitempty" yaml:"bodyAttr,omitempty"`
	HeadersAttr string `json:"headersAttr,omitempty" yaml:"headersAttr,omitempty"`
	AuthAttr    string `json:"authAttr,omitempty" yaml:"authAttr,omitempty"`
	TimeoutAttr string `json:"timeoutAttr,omitempty" yaml:"timeoutAttr,omitempty"`
	HostAttr    string `json:"hostAttr,omitempty" yaml:"hostAttr,omitempty"`

	// Middleware runs after the manifest and client level middleware.
	Middleware []Middleware `json:"-" yaml:"-"`
}

// MethodDescriptor is the resolved, read-only form of a MethodDefinition.
// Requests keep a pointer to their descriptor and never modify it.
type MethodDescriptor struct {
	host              string
	path              string
	pathFunc          func(Params) string
	method            string
	params            Params
	headers           map[string]string
	body              any
	auth              *Auth
	timeout           time.Duration
	binary            bool
	allowHostOverride bool
	queryParamAlias   map[string]string
	bodyAttr          string
	headersAttr       string
	authAttr          string
	timeoutAttr       string
	hostAttr          string
	encoder           ParameterEncoder
	middleware        []Middleware
}

// DescriptorOptions carries manifest level settings applied to every method.
type DescriptorOptions struct {
	Host                      string
	AllowResourceHostOverride bool
	ParameterEncoder          ParameterEncoder
}

// NewMethodDescriptor resolves def against the manifest level settings.
// It fails with ErrMissingPath when def has neither Path nor PathFunc.
func NewMethodDescriptor(def MethodDefinition, opts DescriptorOptions) (*MethodDescriptor, error) {
	if def.Path == nil && def.PathFunc == nil {
		return nil, ErrMissingPath
	}

	md := &MethodDescriptor{
		host:              def.Host,
		pathFunc:          def.PathFunc,
		method:            strings.ToLower(def.Method),
		params:            maps.Clone(def.Params),
		headers:           maps.Clone(def.Headers),
		body:              def.Body,
		timeout:           def.Timeout,
		binary:            def.Binary,
		allowHostOverride: opts.AllowResourceHostOverride,
		queryParamAlias:   maps.Clone(def.QueryParamAlias),
		bodyAttr:          orDefault(def.BodyAttr, DefaultBodyAttr),
		headersAttr:       orDefault(def.HeadersAttr, DefaultHeadersAttr),
		authAttr:          orDefault(def.AuthAttr, DefaultAuthAttr),
		timeoutAttr:       orDefault(def.TimeoutAttr, DefaultTimeoutAttr),
		hostAttr:          orDefault(def.HostAttr, DefaultHostAttr),
		encoder:           opts.ParameterEncoder,
		middleware:        append([]Middleware(nil), def.Middleware...),
	}
	if def.Path != nil {
		md.path = *def.Path
	}
	if md.host == "" {
		md.host = opts.Host
	}
	if md.method == "" {
		md.method = DefaultMethod
	}
	if md.timeout == 0 && def.TimeoutMillis > 0 {
		md.timeout = time.Duration(def.TimeoutMillis) * time.Millisecond
	}
	if md.encoder == nil {
		md.encoder = EncodeURIComponent
	}
	if def.Auth != nil {
		auth := *def.Auth
		md.auth = &auth
	}
	return md, nil
}

// Method returns the lowercase HTTP method.
func (md *MethodDescriptor) Method() string { return md.method }

// Host returns the configured host, before any call-time override.
func (md *MethodDescriptor) Host() string { return md.host }

// PathTemplate returns the static path template. It is empty when the
// descriptor uses a path function.
func (md *MethodDescriptor) PathTemplate() string { return md.path }

// Binary reports whether responses should be kept as raw bytes.
func (md *MethodDescriptor) Binary() bool { return md.binary }

// Middleware returns the method level middleware.
func (md *MethodDescriptor) Middleware() []Middleware {
	return append([]Middleware(nil), md.middleware...)
}

// reservedAttrs lists the parameter keys that never reach the path or query.
func (md *MethodDescriptor) reservedAttrs() []string {
	return []string{md.bodyAttr, md.headersAttr, md.authAttr, md.timeoutAttr, md.hostAttr}
}

func (md *MethodDescriptor) encode(s string) string {
	return md.encoder(s)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
