package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kroma-labs/manifold/example/jsonplaceholder/internal/api"
	"github.com/kroma-labs/manifold/example/jsonplaceholder/internal/config"
	"github.com/kroma-labs/manifold/example/jsonplaceholder/internal/telemetry"
	"github.com/rs/zerolog"

	"go.opentelemetry.io/otel/trace"
)

func main() {
	ctx := context.Background()
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// 1. Setup OpenTelemetry (Tracing + Metrics)
	tel, err := telemetry.Setup(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to setup otel")
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("telemetry shutdown error")
		}
	}()

	// 2. Start Prometheus Metrics Server
	mux := http.NewServeMux()
	mux.Handle("/metrics", tel.Handler())
	metricsServer := &http.Server{
		Addr:              config.MetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", config.MetricsPort).Msg("starting prometheus metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("metrics server failed")
		}
	}()

	// 3. Build the manifest-driven client
	client, err := api.New(logger, tel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build api client")
	}

	tracer := tel.TracerProvider.Tracer("example-app")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(config.OperationInterval) * time.Second)
	defer ticker.Stop()

	logger.Info().
		Str("metrics", "http://localhost:2112/metrics").
		Msg("poller started, press Ctrl+C to stop")

	for {
		select {
		case <-ticker.C:
			poll(ctx, tracer, client, logger)

		case <-sigChan:
			logger.Info().Msg("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(ctx); err != nil {
				logger.Error().Err(err).Msg("metrics server shutdown error")
			}
			return
		}
	}
}

// poll runs one round of calls under a parent span.
func poll(ctx context.Context, tracer trace.Tracer, client *api.API, logger zerolog.Logger) {
	ctx, span := tracer.Start(ctx, "poll")
	defer span.End()

	posts, err := client.Posts(ctx, 1)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list posts")
		return
	}
	if len(posts) == 0 {
		return
	}

	comments, err := client.Comments(ctx, posts[0].ID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list comments")
	}

	created, err := client.CreatePost(ctx, api.Post{
		UserID: 1,
		Title:  "manifold",
		Body:   "posted by the manifold example",
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to create post")
		return
	}

	logger.Info().
		Int("posts", len(posts)).
		Int("comments", len(comments)).
		Int("created_id", created.ID).
		Msg("poll completed")
}
