package httpclient

import (
	"crypto/tls"
	"maps"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/manifold/httpclient"
)

// =============================================================================
// Config - HTTP Transport Configuration
// =============================================================================

// Config tunes the http.Transport behind the default HTTPGateway.
// Start from one of the presets and adjust individual fields:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.MaxIdleConnsPerHost = 50
//
//	client, err := httpclient.New(manifest, httpclient.WithConfig(cfg))
type Config struct {
	// Timeout bounds a single gateway call end to end. Zero disables it;
	// per-method timeouts still apply.
	//
	// Default: 15s
	Timeout time.Duration

	// MaxIdleConns caps keep-alive connections across all hosts.
	//
	// Default: 100
	MaxIdleConns int

	// MaxIdleConnsPerHost caps keep-alive connections per host. Manifests
	// usually target one host, so this is the setting that matters most.
	//
	// Default: 20
	MaxIdleConnsPerHost int

	// MaxConnsPerHost caps idle plus active connections per host. Zero means
	// unlimited.
	//
	// Default: 100
	MaxConnsPerHost int

	// IdleConnTimeout closes pooled connections after this much inactivity.
	// Keep it below the server's own idle timeout.
	//
	// Default: 90s
	IdleConnTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake.
	//
	// Default: 10s
	TLSHandshakeTimeout time.Duration

	// ExpectContinueTimeout bounds the wait for "100 Continue".
	//
	// Default: 1s
	ExpectContinueTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers once the
	// request is written. Zero defers to Timeout.
	//
	// Default: 0
	ResponseHeaderTimeout time.Duration

	// DialTimeout bounds TCP connection establishment.
	//
	// Default: 5s
	DialTimeout time.Duration

	// KeepAlive is the TCP keep-alive probe interval.
	//
	// Default: 30s
	KeepAlive time.Duration

	// FallbackDelay is the Happy Eyeballs delay before trying IPv4.
	//
	// Default: 300ms
	FallbackDelay time.Duration

	// WriteBufferSize and ReadBufferSize size the per-connection buffers.
	//
	// Default: 64KB each
	WriteBufferSize int
	ReadBufferSize  int

	// MaxResponseHeaderBytes limits response header size. Zero uses the
	// net/http default.
	MaxResponseHeaderBytes int64

	DisableKeepAlives  bool
	DisableCompression bool
	ForceHTTP2         bool
}

// DefaultConfig returns balanced settings for general-purpose use.
func DefaultConfig() Config {
	return Config{
		Timeout: 15 * time.Second,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DialTimeout:   5 * time.Second,
		KeepAlive:     30 * time.Second,
		FallbackDelay: 300 * time.Millisecond,

		WriteBufferSize: 64 * 1024,
		ReadBufferSize:  64 * 1024,

		DisableCompression: true,
	}
}

// HighThroughputConfig raises pool limits and buffers for clients that keep
// many concurrent calls in flight against the same services.
func HighThroughputConfig() Config {
	return Config{
		Timeout: 30 * time.Second,

		MaxIdleConns:        500,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     0,
		IdleConnTimeout:     120 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DialTimeout:   5 * time.Second,
		KeepAlive:     30 * time.Second,
		FallbackDelay: 300 * time.Millisecond,

		WriteBufferSize: 128 * 1024,
		ReadBufferSize:  128 * 1024,

		DisableCompression: true,
	}
}

// LowLatencyConfig fails fast: short dial, handshake and header timeouts,
// with HTTP/2 preferred.
func LowLatencyConfig() Config {
	return Config{
		Timeout: 5 * time.Second,

		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 25,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     60 * time.Second,

		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 500 * time.Millisecond,
		ResponseHeaderTimeout: 3 * time.Second,

		DialTimeout:   2 * time.Second,
		KeepAlive:     15 * time.Second,
		FallbackDelay: 150 * time.Millisecond,

		WriteBufferSize: 32 * 1024,
		ReadBufferSize:  32 * 1024,

		DisableCompression: true,
		ForceHTTP2:         true,
	}
}

// ConservativeConfig keeps pools and buffers small, for processes that hold
// many clients or run under tight memory limits.
func ConservativeConfig() Config {
	return Config{
		Timeout: 10 * time.Second,

		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 5,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DialTimeout:   5 * time.Second,
		KeepAlive:     30 * time.Second,
		FallbackDelay: 300 * time.Millisecond,

		WriteBufferSize: 4 * 1024,
		ReadBufferSize:  4 * 1024,

		DisableCompression: true,
	}
}

// =============================================================================
// Internal Configuration
// =============================================================================

// internalConfig holds every client level setting.
type internalConfig struct {
	httpConfig Config

	// === OpenTelemetry ===

	MeterProvider metric.MeterProvider
	Meter         metric.Meter
	Metrics       *metrics

	// === Logging ===

	// Logger is handed to middleware and used for debug output.
	Logger zerolog.Logger

	// Debug logs every gateway request and response at debug level.
	Debug bool

	// GenerateCurl adds an equivalent cURL command to debug request logs.
	GenerateCurl bool

	// === Gateway ===

	TLSConfig            *tls.Config
	ProxyURL             *url.URL
	ProxyFromEnvironment bool
	EmulateHTTP          bool
	HTTPClient           *http.Client
	GatewayFactory       GatewayFactory
	MockGateway          *MockGateway

	// === Pipeline ===

	ClientID            string
	Middleware          []Middleware
	Context             map[string]any
	MaxStackInvocations int
}

// newConfig creates a new internal config with defaults and applies options.
func newConfig(opts ...Option) *internalConfig {
	cfg := &internalConfig{
		httpConfig:           DefaultConfig(),
		MeterProvider:        otel.GetMeterProvider(),
		Logger:               debugLogger,
		ProxyFromEnvironment: true,
		MaxStackInvocations:  DefaultMaxStackInvocations,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	cfg.Meter = cfg.MeterProvider.Meter(scope)

	// Metrics stay nil on failure and record nothing.
	cfg.Metrics, _ = newMetrics(cfg.Meter)

	return cfg
}

// gatewayConfig is the view of the configuration passed to gateway factories.
func (cfg *internalConfig) gatewayConfig() GatewayConfig {
	return GatewayConfig{
		Transport:            cfg.httpConfig,
		EmulateHTTP:          cfg.EmulateHTTP,
		TLSConfig:            cfg.TLSConfig,
		ProxyURL:             cfg.ProxyURL,
		ProxyFromEnvironment: cfg.ProxyFromEnvironment,
		Logger:               cfg.Logger,
	}
}

// gatewayFactory resolves the factory in effect. The default factory shares
// one HTTPGateway, and so one connection pool, across calls.
func (cfg *internalConfig) gatewayFactory() GatewayFactory {
	switch {
	case cfg.MockGateway != nil:
		mock := cfg.MockGateway
		return func(GatewayConfig) Gateway { return mock }
	case cfg.GatewayFactory != nil:
		return cfg.GatewayFactory
	}

	var (
		once   sync.Once
		shared *HTTPGateway
	)
	httpClient := cfg.HTTPClient
	return func(gc GatewayConfig) Gateway {
		once.Do(func() {
			if httpClient != nil {
				shared = NewHTTPGatewayWithClient(httpClient, gc)
				return
			}
			shared = NewHTTPGateway(gc)
		})
		return shared
	}
}

// =============================================================================
// Options - Functional Options for Client Configuration
// =============================================================================

// Option configures a Client.
type Option func(*internalConfig)

// WithConfig sets the HTTP transport configuration used by the default
// gateway.
//
// Example:
//
//	client, err := httpclient.New(manifest,
//	    httpclient.WithConfig(httpclient.HighThroughputConfig()),
//	)
func WithConfig(c Config) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig = c
	}
}

// WithMeterProvider sets the meter provider for pipeline metrics.
// Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *internalConfig) {
		if mp != nil {
			cfg.MeterProvider = mp
		}
	}
}

// WithLogger sets the logger handed to middleware and used for debug output.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *internalConfig) {
		cfg.Logger = logger
	}
}

// WithDebug logs every gateway request and response at debug level.
func WithDebug() Option {
	return func(cfg *internalConfig) {
		cfg.Debug = true
	}
}

// WithGenerateCurl enables debug logging and adds a cURL command to each
// logged request. Passwords are masked.
func WithGenerateCurl() Option {
	return func(cfg *internalConfig) {
		cfg.Debug = true
		cfg.GenerateCurl = true
	}
}

// WithTLSConfig sets the TLS configuration of the default gateway.
func WithTLSConfig(tlsCfg *tls.Config) Option {
	return func(cfg *internalConfig) {
		cfg.TLSConfig = tlsCfg
	}
}

// WithProxyURL routes the default gateway through proxyURL.
func WithProxyURL(proxyURL *url.URL) Option {
	return func(cfg *internalConfig) {
		cfg.ProxyURL = proxyURL
	}
}

// WithProxyFromEnvironment toggles HTTP_PROXY, HTTPS_PROXY and NO_PROXY
// support. Enabled by default.
func WithProxyFromEnvironment(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.ProxyFromEnvironment = enabled
	}
}

// WithEmulateHTTP sends PUT, PATCH and DELETE as POST with the real method in
// X-HTTP-Method-Override and a _method form field.
func WithEmulateHTTP(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.EmulateHTTP = enabled
	}
}

// WithHTTPClient makes the default gateway use client instead of building
// its own transport.
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *internalConfig) {
		cfg.HTTPClient = client
	}
}

// WithGatewayFactory replaces the default HTTP gateway.
func WithGatewayFactory(factory GatewayFactory) Option {
	return func(cfg *internalConfig) {
		cfg.GatewayFactory = factory
	}
}

// WithGateway uses gw for every call.
func WithGateway(gw Gateway) Option {
	return WithGatewayFactory(func(GatewayConfig) Gateway { return gw })
}

// WithMockGateway routes every call to mock and marks calls as mocked in
// MiddlewareParams.
func WithMockGateway(mock *MockGateway) Option {
	return func(cfg *internalConfig) {
		cfg.MockGateway = mock
	}
}

// WithMiddleware appends client level middleware. They run after the
// manifest middleware and before method middleware.
func WithMiddleware(middleware ...Middleware) Option {
	return func(cfg *internalConfig) {
		cfg.Middleware = append(cfg.Middleware, middleware...)
	}
}

// WithContext sets values shared with every middleware through
// MiddlewareParams.Context. Later calls merge over earlier ones.
func WithContext(values map[string]any) Option {
	return func(cfg *internalConfig) {
		if cfg.Context == nil {
			cfg.Context = make(map[string]any, len(values))
		}
		maps.Copy(cfg.Context, values)
	}
}

// WithClientID overrides the client identifier passed to middleware.
func WithClientID(id string) Option {
	return func(cfg *internalConfig) {
		cfg.ClientID = id
	}
}

// WithMaxStackInvocations sets how many times the middleware stack may run
// for a single call before the call fails with *RenewLoopError.
//
// Default: 2, which permits one renew.
func WithMaxStackInvocations(n int) Option {
	return func(cfg *internalConfig) {
		if n > 0 {
			cfg.MaxStackInvocations = n
		}
	}
}
