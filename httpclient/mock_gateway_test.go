package httpclient

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGateway_Call(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name       string
		setup      func(m *MockGateway)
		def        MethodDefinition
		params     Params
		wantStatus int
		wantData   any
		wantErr    error
	}{
		{
			name:       "given path stub, then matches without query string",
			setup:      func(m *MockGateway) { m.StubPath("/users", http.StatusOK, "list") },
			params:     Params{"page": 2},
			wantStatus: http.StatusOK,
			wantData:   "list",
		},
		{
			name:       "given regex stub, then matches the path",
			setup:      func(m *MockGateway) { m.StubPathRegex(`^/users/\d+$`, http.StatusOK, "one") },
			def:        MethodDefinition{Path: Path("/users/{id}")},
			params:     Params{"id": 42},
			wantStatus: http.StatusOK,
			wantData:   "one",
		},
		{
			name:       "given method stub, then matches in any case",
			setup:      func(m *MockGateway) { m.StubMethod("POST", http.StatusCreated, "") },
			def:        MethodDefinition{Method: "post"},
			wantStatus: http.StatusCreated,
			wantData:   "",
		},
		{
			name: "given json stub, then sets the content type",
			setup: func(m *MockGateway) {
				m.StubJSON(func(*Request) bool { return true }, http.StatusOK, map[string]int{"n": 1})
			},
			wantStatus: http.StatusOK,
			wantData:   map[string]any{"n": float64(1)},
		},
		{
			name:       "given failing status, then rejects with the response",
			setup:      func(m *MockGateway) { m.StubResponse(http.StatusServiceUnavailable, "down") },
			wantStatus: http.StatusServiceUnavailable,
			wantData:   "down",
			wantErr:    &ResponseError{},
		},
		{
			name:       "given error stub, then rejects with status 400",
			setup:      func(m *MockGateway) { m.StubError(errBoom) },
			wantStatus: http.StatusBadRequest,
			wantData:   "",
			wantErr:    errBoom,
		},
		{
			name:       "given no stub, then rejects with 404",
			setup:      func(*MockGateway) {},
			wantStatus: http.StatusNotFound,
			wantData:   "",
			wantErr:    ErrNoStub,
		},
		{
			name: "given several stubs, then the first match wins over the default",
			setup: func(m *MockGateway) {
				m.StubResponse(http.StatusOK, "default").
					StubPath("/users", http.StatusOK, "first").
					StubPath("/users", http.StatusOK, "second")
			},
			wantStatus: http.StatusOK,
			wantData:   "first",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockGateway()
			tt.setup(mock)

			resp, err := mock.Call(context.Background(), newTestRequest(t, tt.def, tt.params))

			require.NotNil(t, resp)
			assert.Equal(t, tt.wantStatus, resp.Status())
			assert.Equal(t, tt.wantData, resp.Data())
			switch want := tt.wantErr.(type) {
			case nil:
				assert.NoError(t, err)
			case *ResponseError:
				var respErr *ResponseError
				assert.ErrorAs(t, err, &respErr)
			default:
				assert.ErrorIs(t, err, want)
			}
		})
	}
}

func TestMockGateway_Recording(t *testing.T) {
	var hooked []*Request
	mock := NewMockGateway().
		StubResponse(http.StatusOK, "").
		OnCall(func(req *Request) { hooked = append(hooked, req) })

	assert.Nil(t, mock.LastCall())

	first := newTestRequest(t, MethodDefinition{}, Params{"n": 1})
	second := newTestRequest(t, MethodDefinition{}, Params{"n": 2})
	_, _ = mock.Call(context.Background(), first)
	_, _ = mock.Call(context.Background(), second)

	assert.Equal(t, 2, mock.CallCount())
	assert.Equal(t, []*Request{first, second}, mock.Calls())
	assert.Same(t, second, mock.LastCall())
	assert.Len(t, hooked, 2)

	mock.Reset()

	assert.Zero(t, mock.CallCount())
	_, err := mock.Call(context.Background(), first)
	assert.ErrorIs(t, err, ErrNoStub)
}

func TestMockGateway_StubHandler(t *testing.T) {
	mock := NewMockGateway().StubHandler(
		func(req *Request) bool { return req.Method() == "get" },
		func(req *Request) (int, any, map[string]string) {
			return http.StatusOK, req.Params()["id"], map[string]string{"x-echo": "1"}
		},
	)

	resp, err := mock.Call(context.Background(), newTestRequest(t, MethodDefinition{}, Params{"id": "abc"}))

	require.NoError(t, err)
	assert.Equal(t, "abc", resp.RawData())
	assert.Equal(t, "1", resp.Header("x-echo"))
}
