package middleware

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kroma-labs/manifold/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeJSON(t *testing.T) {
	type user struct {
		Name string `json:"name"`
	}

	type args struct {
		params httpclient.Params
	}

	tests := []struct {
		name            string
		args            args
		wantBody        any
		wantContentType string
	}{
		{
			name:            "given map body, then encodes it as json",
			args:            args{params: httpclient.Params{"body": map[string]any{"a": 1}}},
			wantBody:        `{"a":1}`,
			wantContentType: ContentTypeJSON,
		},
		{
			name:            "given struct body, then honors json tags",
			args:            args{params: httpclient.Params{"body": user{Name: "bob"}}},
			wantBody:        `{"name":"bob"}`,
			wantContentType: ContentTypeJSON,
		},
		{
			name: "given explicit content type, then keeps it",
			args: args{params: httpclient.Params{
				"body":    []int{1, 2},
				"headers": map[string]string{"Content-Type": "application/vnd.api+json"},
			}},
			wantBody:        `[1,2]`,
			wantContentType: "application/vnd.api+json",
		},
		{
			name:     "given string body, then leaves it alone",
			args:     args{params: httpclient.Params{"body": "already=encoded"}},
			wantBody: "already=encoded",
		},
		{
			name: "given no body, then leaves the request alone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := httpclient.NewMockGateway().StubResponse(http.StatusOK, "")
			client := newTestClient(t, mock, EncodeJSON())

			_, err := call(t, client, "create", tt.args.params)
			require.NoError(t, err)

			req := gatewayRequest(t, mock)
			assert.Equal(t, tt.wantBody, req.Body())
			assert.Equal(t, tt.wantContentType, req.Header("content-type"))
		})
	}
}

func TestEncodeJSON_Unencodable(t *testing.T) {
	mock := httpclient.NewMockGateway().StubResponse(http.StatusOK, "")
	client := newTestClient(t, mock, EncodeJSON())

	_, err := call(t, client, "create", httpclient.Params{"body": map[string]any{"ch": make(chan int)}})

	var mwErr *httpclient.MiddlewareError
	require.ErrorAs(t, err, &mwErr)
	assert.Equal(t, "EncodeJSON", mwErr.Middleware)
	assert.Equal(t, httpclient.PhaseRequest, mwErr.Phase)
	assert.Zero(t, mock.CallCount())
}

func TestBasicAuth(t *testing.T) {
	tests := []struct {
		name   string
		params httpclient.Params
		want   *httpclient.Auth
	}{
		{
			name: "given no auth, then applies the configured credentials",
			want: &httpclient.Auth{Username: "svc", Password: "pw"},
		},
		{
			name:   "given call auth, then keeps it",
			params: httpclient.Params{"auth": httpclient.Auth{Username: "bob", Password: "x"}},
			want:   &httpclient.Auth{Username: "bob", Password: "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := httpclient.NewMockGateway().StubResponse(http.StatusOK, "")
			client := newTestClient(t, mock, BasicAuth(httpclient.Auth{Username: "svc", Password: "pw"}))

			resp, err := call(t, client, "all", tt.params)
			require.NoError(t, err)

			assert.Equal(t, tt.want, gatewayRequest(t, mock).Auth())
			assert.Equal(t, httpclient.MaskedPassword, resp.Request().Auth().Password)
		})
	}
}

func TestCSRF(t *testing.T) {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	host, err := url.Parse("https://api.example.com/")
	require.NoError(t, err)
	jar.SetCookies(host, []*http.Cookie{
		{Name: DefaultCSRFCookieName, Value: "tok-1", Path: "/"},
		{Name: "custom", Value: "tok-2", Path: "/"},
	})

	type args struct {
		jar        http.CookieJar
		cookieName string
		headerName string
		params     httpclient.Params
	}

	tests := []struct {
		name       string
		args       args
		wantHeader string
		wantValue  string
	}{
		{
			name:       "given default names, then copies the csrf cookie",
			args:       args{jar: jar},
			wantHeader: DefaultCSRFHeaderName,
			wantValue:  "tok-1",
		},
		{
			name:       "given custom names, then uses them",
			args:       args{jar: jar, cookieName: "custom", headerName: "x-xsrf"},
			wantHeader: "x-xsrf",
			wantValue:  "tok-2",
		},
		{
			name: "given header already set, then keeps it",
			args: args{
				jar:    jar,
				params: httpclient.Params{"headers": map[string]string{DefaultCSRFHeaderName: "mine"}},
			},
			wantHeader: DefaultCSRFHeaderName,
			wantValue:  "mine",
		},
		{
			name:       "given missing cookie, then sets nothing",
			args:       args{jar: jar, cookieName: "absent"},
			wantHeader: DefaultCSRFHeaderName,
		},
		{
			name:       "given no jar, then sets nothing",
			wantHeader: DefaultCSRFHeaderName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := httpclient.NewMockGateway().StubResponse(http.StatusOK, "")
			client := newTestClient(t, mock, CSRF(tt.args.jar, tt.args.cookieName, tt.args.headerName))

			_, err := call(t, client, "create", tt.args.params)
			require.NoError(t, err)

			assert.Equal(t, tt.wantValue, gatewayRequest(t, mock).Header(tt.wantHeader))
		})
	}
}

func TestRequestID(t *testing.T) {
	t.Run("given no id, then stamps a uuid", func(t *testing.T) {
		mock := httpclient.NewMockGateway().StubResponse(http.StatusOK, "")
		client := newTestClient(t, mock, RequestID())

		_, err := call(t, client, "all", nil)
		require.NoError(t, err)

		_, err = uuid.Parse(gatewayRequest(t, mock).Header(HeaderRequestID))
		assert.NoError(t, err)
	})

	t.Run("given caller id, then keeps it", func(t *testing.T) {
		mock := httpclient.NewMockGateway().StubResponse(http.StatusOK, "")
		client := newTestClient(t, mock, RequestID())

		_, err := call(t, client, "all", httpclient.Params{
			"headers": map[string]string{HeaderRequestID: "abc"},
		})
		require.NoError(t, err)

		assert.Equal(t, "abc", gatewayRequest(t, mock).Header(HeaderRequestID))
	})

	t.Run("given renewed call, then keeps the same id", func(t *testing.T) {
		mock := httpclient.NewMockGateway().
			StubFunc(func(req *httpclient.Request) bool { return req.Header("authorization") == "Bearer old" },
				http.StatusUnauthorized, "").
			StubResponse(http.StatusOK, "")
		tokens := []string{"old", "new"}
		source := TokenSourceFunc(func(context.Context) (string, error) {
			token := tokens[0]
			tokens = tokens[1:]
			return token, nil
		})
		client := newTestClient(t, mock, RequestID(), TokenRefresh(source))

		_, err := call(t, client, "all", nil)
		require.NoError(t, err)

		calls := mock.Calls()
		require.Len(t, calls, 2)
		assert.Equal(t, calls[0].Header(HeaderRequestID), calls[1].Header(HeaderRequestID))
	})
}

func TestSetHeaderAndUserAgent(t *testing.T) {
	mock := httpclient.NewMockGateway().StubResponse(http.StatusOK, "")
	client := newTestClient(t, mock,
		SetHeader("X-Tenant", "acme"),
		SetHeader("x-override", "default"),
		UserAgent("manifold-test/1.0"),
	)

	_, err := call(t, client, "all", httpclient.Params{
		"headers": map[string]string{"x-override": "caller"},
	})
	require.NoError(t, err)

	req := gatewayRequest(t, mock)
	assert.Equal(t, "acme", req.Header("x-tenant"))
	assert.Equal(t, "caller", req.Header("x-override"))
	assert.Equal(t, "manifold-test/1.0", req.Header("user-agent"))
}

func TestSecure(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		wantErr error
	}{
		{name: "given https host, then passes", host: "https://api.example.com"},
		{name: "given http host, then aborts", host: "http://api.example.com", wantErr: ErrInsecureScheme},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := httpclient.NewMockGateway().StubResponse(http.StatusOK, "")
			manifest := testManifest()
			manifest.Host = tt.host
			client, err := httpclient.New(manifest,
				httpclient.WithMockGateway(mock),
				httpclient.WithMiddleware(Secure()),
			)
			require.NoError(t, err)

			_, err = call(t, client, "all", nil)

			if tt.wantErr == nil {
				assert.NoError(t, err)
				assert.Equal(t, 1, mock.CallCount())
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, mock.CallCount())
		})
	}
}

func TestTimeout(t *testing.T) {
	tests := []struct {
		name   string
		d      time.Duration
		params httpclient.Params
		want   time.Duration
	}{
		{name: "given no timeout, then applies the default", d: time.Second, want: time.Second},
		{
			name:   "given call timeout, then keeps it",
			d:      time.Second,
			params: httpclient.Params{"timeout": 50},
			want:   50 * time.Millisecond,
		},
		{name: "given non-positive default, then leaves it unset", d: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := httpclient.NewMockGateway().StubResponse(http.StatusOK, "")
			client := newTestClient(t, mock, Timeout(tt.d))

			_, err := call(t, client, "all", tt.params)
			require.NoError(t, err)

			assert.Equal(t, tt.want, gatewayRequest(t, mock).Timeout())
		})
	}
}
