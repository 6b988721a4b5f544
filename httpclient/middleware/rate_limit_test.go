package middleware

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/kroma-labs/manifold/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimit(t *testing.T) {
	type args struct {
		cfg     RateLimitConfig
		methods []string
	}

	tests := []struct {
		name        string
		args        args
		wantLimited []bool
	}{
		{
			name: "given burst exhausted without waiting, then fails fast",
			args: args{
				cfg:     RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2},
				methods: []string{"all", "all", "all"},
			},
			wantLimited: []bool{false, false, true},
		},
		{
			name: "given per resource budgets, then methods do not share tokens",
			args: args{
				cfg:     RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1, PerResource: true},
				methods: []string{"all", "byId", "all"},
			},
			wantLimited: []bool{false, false, true},
		},
		{
			name: "given a shared budget, then methods share tokens",
			args: args{
				cfg:     RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1},
				methods: []string{"all", "byId"},
			},
			wantLimited: []bool{false, true},
		},
		{
			name: "given no rate, then never limits",
			args: args{
				cfg:     RateLimitConfig{},
				methods: []string{"all", "all", "all"},
			},
			wantLimited: []bool{false, false, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := httpclient.NewMockGateway().StubResponse(http.StatusOK, "")
			client := newTestClient(t, mock, RateLimit(tt.args.cfg))

			calls := 0
			for i, method := range tt.args.methods {
				_, err := call(t, client, method, httpclient.Params{"id": 1})
				if tt.wantLimited[i] {
					assert.Same(t, ErrRateLimited, err, "call %d", i)
					continue
				}
				assert.NoError(t, err, "call %d", i)
				calls++
			}
			assert.Equal(t, calls, mock.CallCount())
		})
	}
}

func TestRateLimit_Wait(t *testing.T) {
	mock := httpclient.NewMockGateway().StubResponse(http.StatusOK, "")
	client := newTestClient(t, mock, RateLimit(RateLimitConfig{
		RequestsPerSecond: 20,
		Burst:             1,
		WaitOnLimit:       true,
	}))

	start := time.Now()
	for range 3 {
		_, err := call(t, client, "all", nil)
		require.NoError(t, err)
	}

	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, 3, mock.CallCount())
}

func TestRateLimit_Wait_ContextDone(t *testing.T) {
	tests := []struct {
		name    string
		ctx     func() (context.Context, context.CancelFunc)
		wantErr error
	}{
		{
			name: "given canceled context, then aborts with the cancellation",
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx, cancel
			},
			wantErr: context.Canceled,
		},
		{
			name: "given deadline shorter than the wait, then aborts as rate limited",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 10*time.Millisecond)
			},
			wantErr: ErrRateLimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := httpclient.NewMockGateway().StubResponse(http.StatusOK, "")
			client := newTestClient(t, mock, RateLimit(RateLimitConfig{
				RequestsPerSecond: 0.001,
				Burst:             1,
				WaitOnLimit:       true,
			}))
			_, err := call(t, client, "all", nil)
			require.NoError(t, err)

			ctx, cancel := tt.ctx()
			defer cancel()
			_, err = client.Resource("User").Call(ctx, "all", nil)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 1, mock.CallCount())
		})
	}
}
