package middleware

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/kroma-labs/manifold/httpclient"
)

// TokenSource supplies bearer tokens to TokenRefresh.
type TokenSource interface {
	// Token returns the current token.
	Token(ctx context.Context) (string, error)
	// Refresh discards the current token and returns a new one.
	Refresh(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a fetch function to a TokenSource that caches the
// token until Refresh is called. It is safe for concurrent use.
func TokenSourceFunc(fetch func(ctx context.Context) (string, error)) TokenSource {
	return &cachedTokenSource{fetch: fetch}
}

type cachedTokenSource struct {
	mu    sync.Mutex
	fetch func(ctx context.Context) (string, error)
	token string
}

func (s *cachedTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" {
		return s.token, nil
	}
	return s.load(ctx)
}

func (s *cachedTokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *cachedTokenSource) load(ctx context.Context) (string, error) {
	token, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	return token, nil
}

// TokenRefresh sends "authorization: Bearer <token>" with every call. When
// the server answers 401 the token is refreshed once and the whole call is
// renewed, so every middleware sees the retried request.
func TokenRefresh(source TokenSource) httpclient.Middleware {
	return httpclient.NewMiddleware("TokenRefresh", func(httpclient.MiddlewareParams) httpclient.Hooks {
		refreshed := false

		return httpclient.Hooks{
			PrepareRequest: func(
				ctx context.Context,
				next httpclient.NextRequest,
				_ httpclient.AbortFunc,
			) (*httpclient.Request, error) {
				req, err := next(ctx)
				if err != nil {
					return nil, err
				}
				token, err := source.Token(ctx)
				if err != nil {
					return nil, err
				}
				return req.Enhance(httpclient.RequestEnhancement{
					Headers: map[string]string{"authorization": "Bearer " + token},
				}), nil
			},
			Response: func(
				ctx context.Context,
				next httpclient.NextResponse,
				renew httpclient.RenewFunc,
			) (*httpclient.Response, error) {
				resp, err := next(ctx)
				if err == nil || refreshed {
					return resp, err
				}
				rejected, ok := httpclient.AsResponse(err)
				if !ok || rejected.Status() != http.StatusUnauthorized {
					return resp, err
				}

				refreshed = true
				if _, refreshErr := source.Refresh(ctx); refreshErr != nil {
					return resp, errors.Join(err, refreshErr)
				}
				return renew(ctx)
			},
		}
	})
}
