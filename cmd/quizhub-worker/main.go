// Command quizhub-worker polls the processing queue and runs the crawl,
// summarize, and question-generation pipeline for each leased blog URL.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jordanhubbard/quizhub/internal/app"
	"github.com/jordanhubbard/quizhub/internal/circuitbreaker"
	"github.com/jordanhubbard/quizhub/internal/crawler"
	"github.com/jordanhubbard/quizhub/internal/health"
	"github.com/jordanhubbard/quizhub/internal/logging"
	"github.com/jordanhubbard/quizhub/internal/metrics"
	"github.com/jordanhubbard/quizhub/internal/pipeline"
	"github.com/jordanhubbard/quizhub/internal/stats"
	"github.com/jordanhubbard/quizhub/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "quizhub-worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := app.Load()

	pollInterval := flag.Int("poll-interval", int(cfg.PollInterval/time.Second), "queue poll interval in seconds")
	concurrentJobs := flag.Int("concurrent-jobs", cfg.ConcurrentJobs, "jobs processed in parallel")
	metricsPort := flag.Int("metrics-port", cfg.MetricsPort, "port for /metrics and /health")
	flag.Parse()
	cfg.PollInterval = time.Duration(*pollInterval) * time.Second
	cfg.ConcurrentJobs = *concurrentJobs
	cfg.MetricsPort = *metricsPort

	log := logging.Setup(cfg.LogLevel)

	if err := cfg.ValidateWorker(); err != nil {
		return err
	}

	shutdownTracing, err := app.SetupTracing(cfg, "quizhub-worker")
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

	m := metrics.New()
	collector := stats.NewCollector()
	tracker := health.NewTracker(health.DefaultConfig())
	breaker := circuitbreaker.New(circuitbreaker.WithOnStateChange(func(from, to circuitbreaker.State) {
		log.Warn("llm circuit state change",
			slog.String("from", from.String()), slog.String("to", to.String()))
	}))

	orch := pipeline.New(
		st,
		crawler.New(),
		app.BuildRegistry(cfg, log),
		breaker,
		log,
		pipeline.WithMetrics(m),
		pipeline.WithHealth(tracker),
	)

	w := worker.New(worker.NewWorkerID(), worker.Config{
		PollInterval:   cfg.PollInterval,
		ConcurrentJobs: cfg.ConcurrentJobs,
	}, st, orch, collector, m, log)

	// Sidecar HTTP listener for scraping and liveness.
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics listener failed", slog.String("error", err.Error()))
		}
	}()

	err = w.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if terr := shutdownTracing(shutdownCtx); terr != nil {
		log.Error("tracing shutdown error", slog.String("error", terr.Error()))
	}
	return err
}
