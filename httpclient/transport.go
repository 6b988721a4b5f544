package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	headerContentType    = "content-type"
	headerMethodOverride = "x-http-method-override"
	formContentType      = "application/x-www-form-urlencoded;charset=utf-8"
	emulatedMethodField  = "_method"
)

// HTTPGateway is the net/http based Gateway.
//
// Object bodies are form-encoded unless a middleware already serialized them
// (see middleware.EncodeJSON). Responses are read fully; binary methods keep
// the body as []byte and all others as string. Transport failures become a
// rejected Response with status 400 carrying the underlying error.
type HTTPGateway struct {
	client      *http.Client
	emulateHTTP bool
}

// NewHTTPGateway builds a gateway with its own tuned http.Transport.
func NewHTTPGateway(cfg GatewayConfig) *HTTPGateway {
	return &HTTPGateway{
		client: &http.Client{
			Transport: cfg.buildTransport(),
			Timeout:   cfg.Transport.Timeout,
		},
		emulateHTTP: cfg.EmulateHTTP,
	}
}

// NewHTTPGatewayWithClient uses an existing *http.Client as is.
func NewHTTPGatewayWithClient(client *http.Client, cfg GatewayConfig) *HTTPGateway {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPGateway{client: client, emulateHTTP: cfg.EmulateHTTP}
}

// buildTransport creates an http.Transport from the configuration.
func (cfg GatewayConfig) buildTransport() *http.Transport {
	hc := cfg.Transport

	dialer := &net.Dialer{
		Timeout:       hc.DialTimeout,
		KeepAlive:     hc.KeepAlive,
		FallbackDelay: hc.FallbackDelay,
	}

	transport := &http.Transport{
		DialContext:            dialer.DialContext,
		MaxIdleConns:           hc.MaxIdleConns,
		MaxIdleConnsPerHost:    hc.MaxIdleConnsPerHost,
		MaxConnsPerHost:        hc.MaxConnsPerHost,
		IdleConnTimeout:        hc.IdleConnTimeout,
		TLSHandshakeTimeout:    hc.TLSHandshakeTimeout,
		ResponseHeaderTimeout:  hc.ResponseHeaderTimeout,
		ExpectContinueTimeout:  hc.ExpectContinueTimeout,
		DisableKeepAlives:      hc.DisableKeepAlives,
		DisableCompression:     hc.DisableCompression,
		WriteBufferSize:        hc.WriteBufferSize,
		ReadBufferSize:         hc.ReadBufferSize,
		MaxResponseHeaderBytes: hc.MaxResponseHeaderBytes,
		TLSClientConfig:        cfg.TLSConfig,
		ForceAttemptHTTP2:      hc.ForceHTTP2,
	}

	if cfg.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(cfg.ProxyURL)
	} else if cfg.ProxyFromEnvironment {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return transport
}

// Call implements Gateway.
func (g *HTTPGateway) Call(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	timeout := req.Timeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctx, annotate := withConnTrace(ctx)
	defer annotate()

	httpReq, err := g.newHTTPRequest(ctx, req)
	if err != nil {
		// An unresolvable path is the caller's mistake, not a failed exchange.
		var missing *MissingParameterError
		if errors.As(err, &missing) {
			return nil, err
		}
		return failedResponse(req, err, start)
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		if timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timeout (%dms): %w", timeout.Milliseconds(), err)
		}
		return failedResponse(req, err, start)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return failedResponse(req, err, start)
	}

	var raw any = string(body)
	if req.IsBinary() {
		raw = body
	}

	resp := NewResponse(req, httpResp.StatusCode, raw, flattenHeader(httpResp.Header)).
		WithTimeElapsed(time.Since(start))
	if !resp.Success() {
		return resp, Reject(resp)
	}
	return resp, nil
}

func (g *HTTPGateway) newHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	target, err := req.URL()
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(req.Method())
	headers := req.Headers()
	body := req.Body()

	if g.emulateHTTP && method != http.MethodGet && method != http.MethodPost {
		headers[headerMethodOverride] = method
		form, ok := formParams(body)
		if body == nil {
			form, ok = Params{}, true
		}
		if ok {
			form = maps.Clone(form)
			form[emulatedMethodField] = req.Method()
			body = form
		}
		method = http.MethodPost
	}

	payload, contentType := encodeBody(body)
	var reader io.Reader
	if payload != nil {
		reader = payload
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}

	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" && httpReq.Header.Get(headerContentType) == "" {
		httpReq.Header.Set(headerContentType, contentType)
	}
	if auth := req.Auth(); auth != nil {
		httpReq.SetBasicAuth(auth.Username, auth.Password)
	}
	return httpReq, nil
}

// encodeBody turns a request body into a reader. Strings and bytes are sent
// verbatim; maps and structs are form-encoded.
func encodeBody(body any) (*bytes.Reader, string) {
	switch v := body.(type) {
	case nil:
		return nil, ""
	case string:
		return bytes.NewReader([]byte(v)), ""
	case []byte:
		return bytes.NewReader(v), ""
	case io.Reader:
		data, err := io.ReadAll(v)
		if err != nil {
			return nil, ""
		}
		return bytes.NewReader(data), ""
	case url.Values:
		return bytes.NewReader([]byte(v.Encode())), formContentType
	}
	if form, ok := formParams(body); ok {
		return bytes.NewReader([]byte(toQueryString(form, EncodeURIComponent))), formContentType
	}
	return bytes.NewReader([]byte(fmt.Sprint(body))), ""
}

// formParams views maps and structs as form fields. Structs go through their
// JSON representation so field tags are honored.
func formParams(body any) (Params, bool) {
	switch v := body.(type) {
	case Params:
		return v, true
	case map[string]any:
		return v, true
	case map[string]string:
		out := make(Params, len(v))
		for k, val := range v {
			out[k] = val
		}
		return out, true
	}

	rv := reflect.Indirect(reflect.ValueOf(body))
	if rv.Kind() != reflect.Struct && rv.Kind() != reflect.Map {
		return nil, false
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, false
	}
	var out Params
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

// failedResponse synthesizes the 400 Response used for transport failures.
func failedResponse(req *Request, err error, start time.Time) (*Response, error) {
	resp := NewResponse(req, http.StatusBadRequest, "", nil, err).WithTimeElapsed(time.Since(start))
	return resp, Reject(resp)
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vals := range h {
		out[strings.ToLower(k)] = strings.Join(vals, ", ")
	}
	return out
}
