package api

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/kroma-labs/manifold/example/jsonplaceholder/internal/config"
	"github.com/kroma-labs/manifold/example/jsonplaceholder/internal/telemetry"
	"github.com/kroma-labs/manifold/httpclient"
	"github.com/kroma-labs/manifold/httpclient/middleware"
	"github.com/rs/zerolog"
)

//go:embed manifest.yaml
var manifestYAML []byte

// Post is a JSONPlaceholder post.
type Post struct {
	ID     int    `json:"id,omitempty"`
	UserID int    `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Comment is a comment on a Post.
type Comment struct {
	ID     int    `json:"id"`
	PostID int    `json:"postId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// API wraps the manifold client with typed operations.
type API struct {
	client *httpclient.Client
}

// New builds the client from the embedded manifest with the full middleware
// stack: throttling first, then resilience, then observability wired to tel.
func New(logger zerolog.Logger, tel *telemetry.Telemetry) (*API, error) {
	manifest, err := httpclient.LoadManifestYAML(bytes.NewReader(manifestYAML))
	if err != nil {
		return nil, err
	}

	metrics, err := middleware.Prometheus(middleware.PrometheusConfig{Registerer: tel.Registry})
	if err != nil {
		return nil, fmt.Errorf("failed to register prometheus collectors: %w", err)
	}

	breaker := middleware.DefaultBreakerConfig()
	breaker.Name = manifest.ClientID
	breaker.ConsecutiveFailures = config.ConsecutiveFailures

	client, err := httpclient.New(manifest,
		httpclient.WithConfig(httpclient.DefaultConfig()),
		httpclient.WithLogger(logger),
		httpclient.WithMeterProvider(tel.MeterProvider),
		httpclient.WithMiddleware(
			middleware.EncodeJSON(),
			middleware.UserAgent(config.UserAgent),
			middleware.RequestID(),
			middleware.Timeout(config.DefaultTimeout*time.Millisecond),
			middleware.Retry(middleware.DefaultRetryConfig()),
			middleware.CircuitBreaker(breaker),
			middleware.Coalesce(middleware.DefaultCoalesceConfig()),
			middleware.RateLimit(middleware.RateLimitConfig{
				RequestsPerSecond: config.RequestsPerSecond,
				Burst:             config.Burst,
				WaitOnLimit:       true,
			}),
			middleware.Duration(),
			middleware.Tracing(middleware.TracingConfig{
				TracerProvider: tel.TracerProvider,
				Propagator:     tel.Propagator,
			}),
			metrics,
			middleware.Log(logger),
		),
	)
	if err != nil {
		return nil, err
	}
	return &API{client: client}, nil
}

// Posts lists the posts of a user. userID 0 lists every post.
func (a *API) Posts(ctx context.Context, userID int) ([]Post, error) {
	params := httpclient.Params{}
	if userID > 0 {
		params["user"] = userID
	}
	var posts []Post
	if err := a.decode(ctx, "Post", "all", params, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// Post fetches a single post.
func (a *API) Post(ctx context.Context, id int) (Post, error) {
	var post Post
	err := a.decode(ctx, "Post", "byId", httpclient.Params{"id": id}, &post)
	return post, err
}

// Comments lists the comments of a post.
func (a *API) Comments(ctx context.Context, postID int) ([]Comment, error) {
	var comments []Comment
	if err := a.decode(ctx, "Post", "comments", httpclient.Params{"id": postID}, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// CreatePost creates a post and returns it with its new ID.
func (a *API) CreatePost(ctx context.Context, post Post) (Post, error) {
	var created Post
	err := a.decode(ctx, "Post", "create", httpclient.Params{"body": post}, &created)
	return created, err
}

func (a *API) decode(ctx context.Context, resource, method string, params httpclient.Params, v any) error {
	resp, err := a.client.Call(ctx, resource, method, params)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", resource, method, err)
	}
	return resp.DecodeJSON(v)
}
