// Command quizhub runs the edge API server: publisher widget endpoints,
// admin endpoints, health, and metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jordanhubbard/quizhub/internal/app"
	"github.com/jordanhubbard/quizhub/internal/auth"
	"github.com/jordanhubbard/quizhub/internal/health"
	"github.com/jordanhubbard/quizhub/internal/httpapi"
	"github.com/jordanhubbard/quizhub/internal/logging"
	"github.com/jordanhubbard/quizhub/internal/metrics"
	"github.com/jordanhubbard/quizhub/internal/ratelimit"
	"github.com/jordanhubbard/quizhub/internal/service"
	"github.com/jordanhubbard/quizhub/internal/stats"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "quizhub: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := app.Load()
	log := logging.Setup(cfg.LogLevel)

	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	shutdownTracing, err := app.SetupTracing(cfg, "quizhub-api")
	if err != nil {
		return fmt.Errorf("tracing setup: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	limiter := ratelimit.New(cfg.RateLimitPerSecond, cfg.RateLimitBurst, time.Second)
	defer limiter.Stop()

	srv := httpapi.NewServer(
		st,
		service.New(st, log),
		auth.NewManager(st),
		app.BuildRegistry(cfg, log),
		metrics.New(),
		cfg.AdminKey,
		log,
		httpapi.WithStats(stats.NewCollector()),
		httpapi.WithHealth(health.NewTracker(health.DefaultConfig())),
		httpapi.WithRateLimiter(limiter),
		httpapi.WithCORSOrigins(cfg.CORSOrigins),
	)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api server listening", slog.Int("port", cfg.Port))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", slog.String("error", err.Error()))
	}
	return nil
}
