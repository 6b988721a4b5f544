package middleware

import (
	"context"
	"testing"

	"github.com/kroma-labs/manifold/httpclient"
	"github.com/stretchr/testify/require"
)

func testManifest() httpclient.Manifest {
	return httpclient.Manifest{
		ClientID: "test-client",
		Host:     "https://api.example.com",
		Resources: map[string]map[string]httpclient.MethodDefinition{
			"User": {
				"all":    {Path: httpclient.Path("/users")},
				"byId":   {Path: httpclient.Path("/users/{id}")},
				"create": {Path: httpclient.Path("/users"), Method: "post"},
			},
		},
	}
}

func newTestClient(
	t *testing.T,
	mock *httpclient.MockGateway,
	middleware ...httpclient.Middleware,
) *httpclient.Client {
	t.Helper()
	client, err := httpclient.New(testManifest(),
		httpclient.WithMockGateway(mock),
		httpclient.WithMiddleware(middleware...),
	)
	require.NoError(t, err)
	return client
}

func call(
	t *testing.T,
	client *httpclient.Client,
	method string,
	params httpclient.Params,
) (*httpclient.Response, error) {
	t.Helper()
	return client.Resource("User").Call(context.Background(), method, params)
}

// gatewayRequest returns the Request the gateway received last.
func gatewayRequest(t *testing.T, mock *httpclient.MockGateway) *httpclient.Request {
	t.Helper()
	req := mock.LastCall()
	require.NotNil(t, req, "gateway was not called")
	return req
}
