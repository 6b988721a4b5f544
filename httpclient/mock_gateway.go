package httpclient

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// MockGateway is a Gateway for tests. It answers calls from stubs and records
// every Request it receives.
type MockGateway struct {
	mu          sync.RWMutex
	stubs       []stub
	defaultStub *stub
	calls       []*Request
	callHook    func(*Request)
}

// StubHandler computes a response for a matched request.
type StubHandler func(req *Request) (status int, body any, headers map[string]string)

type stub struct {
	matcher func(*Request) bool
	handler StubHandler
	err     error
}

// NewMockGateway creates a new MockGateway for testing.
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

// StubResponse answers every unmatched call with status and body.
func (m *MockGateway) StubResponse(status int, body any) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultStub = &stub{handler: staticHandler(status, body, nil)}
	return m
}

// StubError fails every unmatched call with err.
func (m *MockGateway) StubError(err error) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultStub = &stub{err: err}
	return m
}

// StubPath answers calls whose path, without query string, equals path.
func (m *MockGateway) StubPath(path string, status int, body any) *MockGateway {
	return m.StubFunc(func(req *Request) bool {
		return requestPath(req) == path
	}, status, body)
}

// StubPathRegex answers calls whose path matches pattern.
func (m *MockGateway) StubPathRegex(pattern string, status int, body any) *MockGateway {
	re := regexp.MustCompile(pattern)
	return m.StubFunc(func(req *Request) bool {
		return re.MatchString(requestPath(req))
	}, status, body)
}

// StubMethod answers calls with the given HTTP method, in any case.
func (m *MockGateway) StubMethod(method string, status int, body any) *MockGateway {
	method = strings.ToLower(method)
	return m.StubFunc(func(req *Request) bool {
		return req.Method() == method
	}, status, body)
}

// StubJSON answers calls matching the predicate with v encoded as JSON and
// a JSON content type.
func (m *MockGateway) StubJSON(matcher func(*Request) bool, status int, v any) *MockGateway {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("httpclient: StubJSON: %v", err))
	}
	return m.StubHandler(matcher, staticHandler(status, string(raw), map[string]string{
		"content-type": "application/json",
	}))
}

// StubFunc answers calls matching the predicate with status and body.
func (m *MockGateway) StubFunc(matcher func(*Request) bool, status int, body any) *MockGateway {
	return m.StubHandler(matcher, staticHandler(status, body, nil))
}

// StubHandler answers calls matching the predicate with whatever handler
// computes from the request.
func (m *MockGateway) StubHandler(matcher func(*Request) bool, handler StubHandler) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, stub{matcher: matcher, handler: handler})
	return m
}

// StubFuncError fails calls matching the predicate with err.
func (m *MockGateway) StubFuncError(matcher func(*Request) bool, err error) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, stub{matcher: matcher, err: err})
	return m
}

// OnCall sets a hook that is called for each request.
func (m *MockGateway) OnCall(fn func(*Request)) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callHook = fn
	return m
}

// Call implements Gateway. Stubs are tried in registration order. Errors and
// non-success statuses are rejected like HTTPGateway does; a call matching
// no stub is rejected with status 404 and ErrNoStub.
func (m *MockGateway) Call(_ context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	hook := m.callHook
	m.mu.Unlock()

	if hook != nil {
		hook(req)
	}

	m.mu.RLock()
	matched := m.defaultStub
	for i := range m.stubs {
		if m.stubs[i].matcher(req) {
			matched = &m.stubs[i]
			break
		}
	}
	m.mu.RUnlock()

	if matched == nil {
		resp := NewResponse(req, http.StatusNotFound, "", nil, fmt.Errorf("%w: %s", ErrNoStub, req))
		return resp, Reject(resp)
	}
	if matched.err != nil {
		resp := NewResponse(req, http.StatusBadRequest, "", nil, matched.err)
		return resp, Reject(resp)
	}

	status, body, headers := matched.handler(req)
	resp := NewResponse(req, status, body, headers).WithTimeElapsed(0)
	if !resp.Success() {
		return resp, Reject(resp)
	}
	return resp, nil
}

// Calls returns all requests received so far.
func (m *MockGateway) Calls() []*Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Request{}, m.calls...)
}

// CallCount returns the number of requests received.
func (m *MockGateway) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// LastCall returns the most recent request, or nil if none.
func (m *MockGateway) LastCall() *Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

// Reset clears all recorded requests and stubs.
func (m *MockGateway) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.stubs = nil
	m.defaultStub = nil
	m.callHook = nil
}

func staticHandler(status int, body any, headers map[string]string) StubHandler {
	return func(*Request) (int, any, map[string]string) {
		return status, body, maps.Clone(headers)
	}
}

func requestPath(req *Request) string {
	path, err := req.Path()
	if err != nil {
		return ""
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}
