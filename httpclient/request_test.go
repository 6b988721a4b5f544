package httpclient

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestDescriptor(t testing.TB, def MethodDefinition, opts DescriptorOptions) *MethodDescriptor {
	t.Helper()
	if opts.Host == "" {
		opts.Host = "https://api.example.com"
	}
	md, err := NewMethodDescriptor(def, opts)
	require.NoError(t, err)
	return md
}

func TestNewMethodDescriptor(t *testing.T) {
	tests := []struct {
		name       string
		def        MethodDefinition
		opts       DescriptorOptions
		wantErr    error
		wantMethod string
		wantHost   string
	}{
		{
			name:       "given path only, then defaults method to get",
			def:        MethodDefinition{Path: Path("/users")},
			opts:       DescriptorOptions{Host: "https://api.example.com"},
			wantMethod: "get",
			wantHost:   "https://api.example.com",
		},
		{
			name:       "given uppercase method, then lowercases it",
			def:        MethodDefinition{Path: Path("/users"), Method: "POST"},
			wantMethod: "post",
		},
		{
			name:       "given method host, then overrides manifest host",
			def:        MethodDefinition{Path: Path("/users"), Host: "https://other.example.com"},
			opts:       DescriptorOptions{Host: "https://api.example.com"},
			wantMethod: "get",
			wantHost:   "https://other.example.com",
		},
		{
			name:       "given explicit empty path, then accepts it",
			def:        MethodDefinition{Path: Path("")},
			wantMethod: "get",
		},
		{
			name:       "given path function, then accepts it",
			def:        MethodDefinition{PathFunc: func(Params) string { return "/users" }},
			wantMethod: "get",
		},
		{
			name:    "given no path at all, then returns ErrMissingPath",
			def:     MethodDefinition{Method: "get"},
			wantErr: ErrMissingPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, err := NewMethodDescriptor(tt.def, tt.opts)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, md)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantMethod, md.Method())
			if tt.wantHost != "" {
				assert.Equal(t, tt.wantHost, md.Host())
			}
		})
	}
}

func TestRequest_Path(t *testing.T) {
	type args struct {
		def    MethodDefinition
		opts   DescriptorOptions
		params Params
	}

	tests := []struct {
		name string
		args args
		want string
	}{
		{
			name: "given required placeholder, then interpolates value",
			args: args{def: MethodDefinition{Path: Path("/users/{id}")}, params: Params{"id": 1}},
			want: "/users/1",
		},
		{
			name: "given extra params, then appends sorted query string",
			args: args{def: MethodDefinition{Path: Path("/users")}, params: Params{"b": "2", "a": "x y"}},
			want: "/users?a=x%20y&b=2",
		},
		{
			name: "given missing optional placeholder, then removes it with its slash",
			args: args{def: MethodDefinition{Path: Path("/users/{group?}")}},
			want: "/users",
		},
		{
			name: "given optional placeholder value, then interpolates it",
			args: args{def: MethodDefinition{Path: Path("/users/{group?}")}, params: Params{"group": "admin"}},
			want: "/users/admin",
		},
		{
			name: "given path without leading slash, then adds it",
			args: args{def: MethodDefinition{Path: Path("users/{id}")}, params: Params{"id": 7}},
			want: "/users/7",
		},
		{
			name: "given value with reserved characters, then encodes it",
			args: args{def: MethodDefinition{Path: Path("/files/{name}")}, params: Params{"name": "a/b c"}},
			want: "/files/a%2Fb%20c",
		},
		{
			name: "given query param alias, then renames the key",
			args: args{
				def: MethodDefinition{
					Path:            Path("/users"),
					QueryParamAlias: map[string]string{"userId": "user_id"},
				},
				params: Params{"userId": 5},
			},
			want: "/users?user_id=5",
		},
		{
			name: "given slice param, then uses bracket notation",
			args: args{def: MethodDefinition{Path: Path("/users")}, params: Params{"tags": []string{"a", "b"}}},
			want: "/users?tags%5B%5D=a&tags%5B%5D=b",
		},
		{
			name: "given map param, then uses nested key notation",
			args: args{
				def:    MethodDefinition{Path: Path("/users")},
				params: Params{"filter": map[string]any{"name": "x", "age": 3}},
			},
			want: "/users?filter%5Bage%5D=3&filter%5Bname%5D=x",
		},
		{
			name: "given template with query, then appends with ampersand",
			args: args{def: MethodDefinition{Path: Path("/users?sort=asc")}, params: Params{"page": 2}},
			want: "/users?sort=asc&page=2",
		},
		{
			name: "given reserved params, then keeps them out of the query",
			args: args{
				def: MethodDefinition{Path: Path("/users/{id}")},
				params: Params{
					"id":      1,
					"headers": map[string]string{"x-a": "1"},
					"body":    "payload",
					"auth":    Auth{Username: "u", Password: "p"},
					"timeout": 100,
					"host":    "https://other.example.com",
				},
			},
			want: "/users/1",
		},
		{
			name: "given default params, then call-time values win",
			args: args{
				def:    MethodDefinition{Path: Path("/users"), Params: Params{"limit": 10, "page": 1}},
				params: Params{"limit": 20},
			},
			want: "/users?limit=20&page=1",
		},
		{
			name: "given nil param, then drops it",
			args: args{def: MethodDefinition{Path: Path("/users")}, params: Params{"a": nil}},
			want: "/users",
		},
		{
			name: "given renamed body attribute, then default name becomes a query param",
			args: args{
				def:    MethodDefinition{Path: Path("/users"), BodyAttr: "payload"},
				params: Params{"payload": "x", "body": "y"},
			},
			want: "/users?body=y",
		},
		{
			name: "given path function, then interpolates its template",
			args: args{
				def: MethodDefinition{PathFunc: func(p Params) string {
					if _, ok := p["id"]; ok {
						return "/users/{id}"
					}
					return "/users"
				}},
				params: Params{"id": 3},
			},
			want: "/users/3",
		},
		{
			name: "given custom parameter encoder, then uses it",
			args: args{
				def:    MethodDefinition{Path: Path("/search/{q}")},
				opts:   DescriptorOptions{ParameterEncoder: strings.ToUpper},
				params: Params{"q": "a b"},
			},
			want: "/search/A B",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewRequest(newTestDescriptor(t, tt.args.def, tt.args.opts), tt.args.params)

			got, err := req.Path()

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequest_Path_MissingParameter(t *testing.T) {
	req := NewRequest(newTestDescriptor(t, MethodDefinition{Path: Path("/users/{id}/posts/{postId}")}, DescriptorOptions{}),
		Params{"id": 1})

	_, err := req.Path()

	var missing *MissingParameterError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "postId", missing.Param)
	assert.EqualError(t, err, `required parameter missing (postId), "/users/{id}/posts/{postId}" cannot be resolved`)

	_, err = req.URL()
	assert.ErrorAs(t, err, &missing)
}

func TestRequest_Host(t *testing.T) {
	tests := []struct {
		name          string
		host          string
		allowOverride bool
		params        Params
		want          string
	}{
		{
			name: "given trailing slash, then strips it",
			host: "https://api.example.com/",
			want: "https://api.example.com",
		},
		{
			name:          "given override allowed and host param, then uses the param",
			host:          "https://api.example.com",
			allowOverride: true,
			params:        Params{"host": "https://other.example.com/"},
			want:          "https://other.example.com",
		},
		{
			name:   "given override not allowed, then ignores the host param",
			host:   "https://api.example.com",
			params: Params{"host": "https://other.example.com"},
			want:   "https://api.example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := newTestDescriptor(t, MethodDefinition{Path: Path("/")}, DescriptorOptions{
				Host:                      tt.host,
				AllowResourceHostOverride: tt.allowOverride,
			})

			assert.Equal(t, tt.want, NewRequest(md, tt.params).Host())
		})
	}
}

func TestRequest_URL(t *testing.T) {
	md := newTestDescriptor(t, MethodDefinition{Path: Path("/users/{id}")}, DescriptorOptions{})
	req := NewRequest(md, Params{"id": 42, "expand": "posts"})

	got, err := req.URL()

	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/users/42?expand=posts", got)
	assert.Equal(t, "GET https://api.example.com/users/42?expand=posts", req.String())
}

func TestRequest_Headers(t *testing.T) {
	md := newTestDescriptor(t, MethodDefinition{
		Path:    Path("/users"),
		Headers: map[string]string{"X-Api-Version": "1", "Accept": "text/plain"},
	}, DescriptorOptions{})

	req := NewRequest(md, Params{"headers": map[string]any{"ACCEPT": "application/json", "X-Trace": 7}})

	assert.Equal(t, map[string]string{
		"x-api-version": "1",
		"accept":        "application/json",
		"x-trace":       "7",
	}, req.Headers())
	assert.Equal(t, "application/json", req.Header("Accept"))
	assert.Empty(t, req.Header("missing"))
}

func TestRequest_BodyAuthTimeout(t *testing.T) {
	tests := []struct {
		name        string
		def         MethodDefinition
		params      Params
		wantBody    any
		wantAuth    *Auth
		wantTimeout time.Duration
	}{
		{
			name: "given descriptor defaults only, then returns them",
			def: MethodDefinition{
				Body:          "default",
				Auth:          &Auth{Username: "bob", Password: "pw"},
				TimeoutMillis: 1500,
			},
			wantBody:    "default",
			wantAuth:    &Auth{Username: "bob", Password: "pw"},
			wantTimeout: 1500 * time.Millisecond,
		},
		{
			name: "given call-time values, then they win",
			def:  MethodDefinition{Body: "default", Timeout: time.Second},
			params: Params{
				"body":    map[string]any{"a": 1},
				"auth":    map[string]any{"username": "alice", "password": "secret"},
				"timeout": 250,
			},
			wantBody:    map[string]any{"a": 1},
			wantAuth:    &Auth{Username: "alice", Password: "secret"},
			wantTimeout: 250 * time.Millisecond,
		},
		{
			name:        "given timeout as duration string, then parses it",
			params:      Params{"timeout": "2s"},
			wantTimeout: 2 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := tt.def
			def.Path = Path("/")
			req := NewRequest(newTestDescriptor(t, def, DescriptorOptions{}), tt.params)

			assert.Equal(t, tt.wantBody, req.Body())
			assert.Equal(t, tt.wantAuth, req.Auth())
			assert.Equal(t, tt.wantTimeout, req.Timeout())
		})
	}
}

func TestRequest_Auth_ReturnsCopy(t *testing.T) {
	md := newTestDescriptor(t, MethodDefinition{Path: Path("/"), Auth: &Auth{Username: "bob", Password: "pw"}}, DescriptorOptions{})
	req := NewRequest(md, nil)

	req.Auth().Password = "changed"

	assert.Equal(t, "pw", req.Auth().Password)
}

func TestRequest_Enhance(t *testing.T) {
	md := newTestDescriptor(t, MethodDefinition{Path: Path("/users/{id}")}, DescriptorOptions{
		AllowResourceHostOverride: true,
	})
	original := NewRequest(md, Params{"id": 1, "headers": map[string]string{"x-a": "1"}})

	tests := []struct {
		name  string
		given RequestEnhancement
		check func(t *testing.T, got *Request)
	}{
		{
			name:  "given headers, then merges them over existing ones",
			given: RequestEnhancement{Headers: map[string]string{"X-B": "2", "x-a": "override"}},
			check: func(t *testing.T, got *Request) {
				assert.Equal(t, map[string]string{"x-a": "override", "x-b": "2"}, got.Headers())
			},
		},
		{
			name:  "given params, then merges them into the bag",
			given: RequestEnhancement{Params: Params{"page": 2}},
			check: func(t *testing.T, got *Request) {
				assert.Equal(t, Params{"id": 1, "page": 2}, got.Params())
			},
		},
		{
			name: "given auth body host and timeout, then replaces them",
			given: RequestEnhancement{
				Auth:    &Auth{Username: "u", Password: "p"},
				Body:    "payload",
				Host:    "https://other.example.com",
				Timeout: 3 * time.Second,
			},
			check: func(t *testing.T, got *Request) {
				assert.Equal(t, &Auth{Username: "u", Password: "p"}, got.Auth())
				assert.Equal(t, "payload", got.Body())
				assert.Equal(t, "https://other.example.com", got.Host())
				assert.Equal(t, 3*time.Second, got.Timeout())
			},
		},
		{
			name:  "given empty enhancement, then views are unchanged",
			given: RequestEnhancement{},
			check: func(t *testing.T, got *Request) {
				assert.Equal(t, original.Headers(), got.Headers())
				assert.Equal(t, original.Params(), got.Params())
				assert.Equal(t, original.Body(), got.Body())
				assert.Equal(t, original.Host(), got.Host())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := original.Enhance(tt.given)

			assert.NotSame(t, original, got)
			assert.Same(t, original.Descriptor(), got.Descriptor())
			tt.check(t, got)

			// The receiver never changes.
			assert.Equal(t, map[string]string{"x-a": "1"}, original.Headers())
			assert.Equal(t, Params{"id": 1}, original.Params())
			assert.Nil(t, original.Auth())
			assert.Nil(t, original.Body())
		})
	}
}

func TestRequest_Enhance_Properties(t *testing.T) {
	md := newTestDescriptor(t, MethodDefinition{Path: Path("/items")}, DescriptorOptions{})

	rapid.Check(t, func(t *rapid.T) {
		params := rapid.MapOf(
			rapid.StringMatching(`[a-z]{1,6}`),
			rapid.StringN(0, 8, -1),
		).Draw(t, "params")
		headers := rapid.MapOf(
			rapid.StringMatching(`x-[a-z]{1,6}`),
			rapid.StringN(0, 8, -1),
		).Draw(t, "headers")

		p := Params{}
		for k, v := range params {
			p[k] = v
		}
		req := NewRequest(md, p)
		beforePath, err := req.Path()
		if err != nil {
			t.Fatalf("path: %v", err)
		}
		beforeHeaders := req.Headers()

		once := req.Enhance(RequestEnhancement{Headers: headers})
		twice := once.Enhance(RequestEnhancement{Headers: headers})

		afterPath, _ := req.Path()
		if afterPath != beforePath {
			t.Fatalf("receiver path changed: %q != %q", afterPath, beforePath)
		}
		if len(req.Headers()) != len(beforeHeaders) {
			t.Fatalf("receiver headers changed")
		}
		onceHeaders, twiceHeaders := once.Headers(), twice.Headers()
		if len(onceHeaders) != len(twiceHeaders) {
			t.Fatalf("enhance is not idempotent: %v != %v", onceHeaders, twiceHeaders)
		}
		for k, v := range onceHeaders {
			if twiceHeaders[k] != v {
				t.Fatalf("header %q: %q != %q", k, twiceHeaders[k], v)
			}
		}
	})
}
