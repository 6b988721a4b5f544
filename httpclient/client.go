package httpclient

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"
)

// Client exposes the resources of a Manifest. Every call builds a Request
// from the method descriptor, runs it through the middleware pipeline and
// hands it to the configured gateway.
//
// Create a Client using New():
//
//	client, err := httpclient.New(httpclient.Manifest{
//	    Host: "https://api.example.com",
//	    Resources: map[string]map[string]httpclient.MethodDefinition{
//	        "User": {
//	            "byId": {Path: httpclient.Path("/users/{id}")},
//	        },
//	    },
//	})
//
//	resp, err := client.Resource("User").Call(ctx, "byId", httpclient.Params{"id": 1})
type Client struct {
	// config holds all client configuration.
	config *internalConfig

	// id is handed to middleware as MiddlewareParams.ClientID.
	id string

	// middleware is the manifest middleware followed by option middleware.
	middleware []Middleware

	resources map[string]*Resource

	gateways GatewayFactory
}

// Resource is a named group of methods bound to a Client.
type Resource struct {
	client  *Client
	name    string
	methods map[string]*MethodDescriptor
}

// New validates manifest and creates a Client.
//
// Example - With middleware and a tuned transport:
//
//	client, err := httpclient.New(manifest,
//	    httpclient.WithConfig(httpclient.LowLatencyConfig()),
//	    httpclient.WithMiddleware(middleware.EncodeJSON(), middleware.RequestID()),
//	)
func New(manifest Manifest, opts ...Option) (*Client, error) {
	cfg := newConfig(opts...)

	id := cfg.ClientID
	if id == "" {
		id = manifest.ClientID
	}
	if id == "" {
		id = uuid.NewString()
	}

	c := &Client{
		config:     cfg,
		id:         id,
		middleware: slices.Concat(manifest.Middleware, cfg.Middleware),
		resources:  make(map[string]*Resource, len(manifest.Resources)),
		gateways:   cfg.gatewayFactory(),
	}

	descOpts := manifest.descriptorOptions()
	for resourceName, methods := range manifest.Resources {
		res := &Resource{
			client:  c,
			name:    resourceName,
			methods: make(map[string]*MethodDescriptor, len(methods)),
		}
		for methodName, def := range methods {
			md, err := NewMethodDescriptor(def, descOpts)
			if err != nil {
				return nil, fmt.Errorf("resource %q method %q: %w", resourceName, methodName, err)
			}
			res.methods[methodName] = md
		}
		c.resources[resourceName] = res
	}

	return c, nil
}

// ID returns the client identifier handed to middleware.
func (c *Client) ID() string {
	return c.id
}

// Resource returns the named resource, or nil when the manifest does not
// define it.
func (c *Client) Resource(name string) *Resource {
	return c.resources[name]
}

// Resources lists the resource names in sorted order.
func (c *Client) Resources() []string {
	return slices.Sorted(maps.Keys(c.resources))
}

// Call invokes method on resource with params.
//
// A rejected call returns the failing Response together with the error; use
// AsResponse when only the error is at hand.
func (c *Client) Call(ctx context.Context, resource, method string, params Params) (*Response, error) {
	res, ok := c.resources[resource]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, resource)
	}
	return res.Call(ctx, method, params)
}

// Name returns the resource name.
func (r *Resource) Name() string {
	return r.name
}

// Methods lists the method names in sorted order.
func (r *Resource) Methods() []string {
	return slices.Sorted(maps.Keys(r.methods))
}

// Descriptor returns the descriptor bound to method, or nil.
func (r *Resource) Descriptor(method string) *MethodDescriptor {
	return r.methods[method]
}

// Call invokes method with params. Calling it on the nil Resource returned
// for an unknown name fails with ErrUnknownResource.
func (r *Resource) Call(ctx context.Context, method string, params Params) (*Response, error) {
	if r == nil {
		return nil, ErrUnknownResource
	}
	md, ok := r.methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, r.name, method)
	}

	c := r.client
	cfg := c.config

	middleware := slices.Concat(c.middleware, md.middleware)
	gateway := c.gateways(cfg.gatewayConfig())
	pipeline := cfg.newPipeline(gateway, middleware)

	return pipeline.Execute(ctx, MiddlewareParams{
		ClientID:       c.id,
		Context:        maps.Clone(cfg.Context),
		ResourceName:   r.name,
		ResourceMethod: method,
		MockRequest:    cfg.MockGateway != nil,
		Logger:         cfg.Logger,
	}, NewRequest(md, params))
}
