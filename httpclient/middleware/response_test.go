package middleware

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/kroma-labs/manifold/httpclient"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "given success, then stamps the timings", status: http.StatusOK},
		{name: "given rejection, then stamps the rejected response", status: http.StatusConflict, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := httpclient.NewMockGateway().StubResponse(tt.status, "")
			client := newTestClient(t, mock, Duration())

			resp, err := call(t, client, "all", nil)

			if tt.wantErr {
				rejected, ok := httpclient.AsResponse(err)
				require.True(t, ok)
				assert.Same(t, resp, rejected)
			} else {
				require.NoError(t, err)
			}
			require.NotNil(t, resp)

			started, err := strconv.ParseInt(resp.Header(HeaderStartedAt), 10, 64)
			require.NoError(t, err)
			ended, err := strconv.ParseInt(resp.Header(HeaderEndedAt), 10, 64)
			require.NoError(t, err)
			duration, err := strconv.ParseInt(resp.Header(HeaderDuration), 10, 64)
			require.NoError(t, err)
			assert.Equal(t, ended-started, duration)
			assert.GreaterOrEqual(t, duration, int64(0))

			assert.Empty(t, gatewayRequest(t, mock).Header(HeaderStartedAt), "mocked calls skip the request stamp")
		})
	}
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		handled     bool
		wantErr     error
		wantHandled int
	}{
		{name: "given success, then is not consulted", status: http.StatusOK},
		{
			name:        "given claimed rejection, then replaces it",
			status:      http.StatusUnauthorized,
			handled:     true,
			wantErr:     ErrHandled,
			wantHandled: 1,
		},
		{
			name:        "given declined rejection, then keeps it",
			status:      http.StatusUnauthorized,
			wantHandled: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen []*httpclient.Response
			mock := httpclient.NewMockGateway().StubResponse(tt.status, "")
			client := newTestClient(t, mock, ErrorHandler(func(resp *httpclient.Response) bool {
				seen = append(seen, resp)
				return tt.handled
			}))

			resp, err := call(t, client, "all", nil)

			require.Len(t, seen, tt.wantHandled)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Same(t, seen[0], resp)
			case tt.wantHandled > 0:
				rejected, ok := httpclient.AsResponse(err)
				require.True(t, ok)
				assert.Equal(t, tt.status, rejected.Status())
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	mock := httpclient.NewMockGateway().
		StubPath("/users/3", http.StatusNotFound, "").
		StubResponse(http.StatusOK, "")
	client := newTestClient(t, mock, BasicAuth(httpclient.Auth{Username: "svc", Password: "secret"}), Log(logger))

	_, err := call(t, client, "all", nil)
	require.NoError(t, err)
	_, err = call(t, client, "byId", httpclient.Params{"id": 3})
	require.Error(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.NotContains(t, buf.String(), "secret")

	events := make([]map[string]any, len(lines))
	for i, line := range lines {
		require.NoError(t, json.Unmarshal([]byte(line), &events[i]))
		assert.Equal(t, "test-client", events[i]["client_id"])
		assert.Equal(t, "User", events[i]["resource"])
	}

	assert.Equal(t, "request", events[0]["message"])
	assert.Equal(t, "info", events[0]["level"])
	assert.Equal(t, "GET", events[0]["http_method"])
	assert.Equal(t, true, events[0]["mock"])

	assert.Equal(t, "response", events[1]["message"])
	assert.Equal(t, "info", events[1]["level"])
	assert.InDelta(t, http.StatusOK, events[1]["status"], 0)
	assert.Contains(t, events[1], "duration_ms")

	assert.Equal(t, "byId", events[3]["method"])
	assert.Equal(t, "error", events[3]["level"])
	assert.InDelta(t, http.StatusNotFound, events[3]["status"], 0)
	assert.Contains(t, events[3], "error")
}
