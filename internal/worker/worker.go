// Package worker implements the job runtime: a poll loop leasing queue
// entries, a bounded pool running the processing pipeline, heartbeats while a
// job is owned, and retry-vs-fail decisions on failure.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jordanhubbard/quizhub/internal/metrics"
	"github.com/jordanhubbard/quizhub/internal/pipeline"
	"github.com/jordanhubbard/quizhub/internal/stats"
	"github.com/jordanhubbard/quizhub/internal/store"
)

const (
	// MaxRetries caps processing attempts per queue cycle. A failed entry can
	// still be requeued later, which resets the attempt counter.
	MaxRetries = 3

	// StaleMultiplier: a processing entry whose heartbeat is older than this
	// many heartbeat intervals is presumed abandoned and reclaimed.
	StaleMultiplier = 3

	defaultPollInterval = 5 * time.Second
	reclaimInterval     = 30 * time.Second
)

// Config tunes one worker process.
type Config struct {
	PollInterval   time.Duration
	ConcurrentJobs int
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ConcurrentJobs <= 0 {
		c.ConcurrentJobs = 1
	}
}

// NewWorkerID builds a stable-for-the-process worker identity.
func NewWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%04x", host, os.Getpid(), rand.Intn(0x10000))
}

// Runner executes the processing stages for one leased entry. Satisfied by
// *pipeline.Orchestrator.
type Runner interface {
	Run(ctx context.Context, entry *store.QueueEntry, pub *store.Publisher) (*pipeline.Outcome, error)
}

// Worker polls the queue and runs the pipeline for each leased entry.
type Worker struct {
	id      string
	cfg     Config
	store   store.Store
	orch    Runner
	stats   *stats.Collector
	metrics *metrics.Registry
	log     *slog.Logger

	eg errgroup.Group
}

func New(id string, cfg Config, s store.Store, orch Runner, col *stats.Collector, m *metrics.Registry, log *slog.Logger) *Worker {
	cfg.applyDefaults()
	return &Worker{
		id:      id,
		cfg:     cfg,
		store:   s,
		orch:    orch,
		stats:   col,
		metrics: m,
		log:     log.With(slog.String("worker_id", id)),
	}
}

// Run polls until ctx is cancelled, then waits for in-flight jobs to finish.
// Cancellation stops leasing only; a job that has started runs to its own
// terminal transition.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started",
		slog.Duration("poll_interval", w.cfg.PollInterval),
		slog.Int("concurrent_jobs", w.cfg.ConcurrentJobs))

	w.eg.Go(func() error {
		w.reclaimLoop(ctx)
		return nil
	})

	slots := make(chan struct{}, w.cfg.ConcurrentJobs)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker shutting down, waiting for in-flight jobs")
			return w.eg.Wait()
		case slots <- struct{}{}:
		}

		entry, err := w.store.LeaseQueueEntry(ctx, w.id)
		if err != nil {
			<-slots
			if ctx.Err() != nil {
				continue
			}
			w.log.Error("lease failed", slog.String("error", err.Error()))
			w.sleep(ctx)
			continue
		}
		if entry == nil {
			<-slots
			w.sleep(ctx)
			continue
		}

		w.eg.Go(func() error {
			defer func() { <-slots }()
			// The job outlives poll-loop cancellation on purpose.
			w.process(context.WithoutCancel(ctx), entry)
			return nil
		})
	}
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.cfg.PollInterval):
	}
}

// reclaimLoop periodically returns abandoned processing entries to retry.
func (w *Worker) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(reclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.store.ReclaimStale(ctx, time.Now(), StaleMultiplier)
			if err != nil {
				w.log.Error("reclaim failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				w.log.Warn("reclaimed stale entries", slog.Int("count", n))
			}
			w.updateQueueDepth(ctx)
		}
	}
}

func (w *Worker) updateQueueDepth(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	counts, err := w.store.CountQueueByStatus(ctx)
	if err != nil {
		return
	}
	for _, st := range []store.Status{store.StatusQueued, store.StatusProcessing,
		store.StatusRetry, store.StatusCompleted, store.StatusFailed} {
		w.metrics.QueueDepth.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

// process runs one leased entry through the pipeline and performs the
// terminal transition, audit append, and slot release.
func (w *Worker) process(ctx context.Context, entry *store.QueueEntry) {
	log := w.log.With(
		slog.String("url", entry.URL),
		slog.String("job_id", entry.CurrentJobID),
		slog.Int("attempt", entry.AttemptCount))
	log.Info("job started")

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	w.eg.Go(func() error {
		w.heartbeatLoop(hbCtx, entry)
		return nil
	})

	started := time.Now()

	pub, err := w.store.GetPublisherByID(ctx, entry.PublisherID)
	if err != nil {
		w.finishFailure(ctx, entry, started, &pipeline.StageError{
			Stage: "load_publisher", ErrorType: "PUBLISHER_LOOKUP", Retryable: true, Err: err,
		}, nil, log)
		return
	}

	outcome, runErr := w.orch.Run(ctx, entry, pub)
	stopHeartbeat()

	if runErr != nil {
		var se *pipeline.StageError
		if !errors.As(runErr, &se) {
			se = &pipeline.StageError{Stage: "pipeline", ErrorType: "INTERNAL", Err: runErr}
		}
		w.finishFailure(ctx, entry, started, se, pub, log)
		return
	}
	w.finishSuccess(ctx, entry, started, outcome, pub, log)
}

// heartbeatLoop refreshes the lease every half interval until cancelled.
func (w *Worker) heartbeatLoop(ctx context.Context, entry *store.QueueEntry) {
	interval := time.Duration(entry.HeartbeatIntervalSecs) * time.Second
	if interval <= 0 {
		interval = store.DefaultHeartbeatIntervalSecs * time.Second
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := w.store.Heartbeat(ctx, entry.URL, w.id)
			if err != nil {
				w.log.Error("heartbeat failed", slog.String("url", entry.URL), slog.String("error", err.Error()))
				continue
			}
			if !ok {
				// Lost ownership; the terminal transition will also fail its
				// precondition, so just stop beating.
				w.log.Warn("lost job ownership", slog.String("url", entry.URL))
				return
			}
		}
	}
}

func (w *Worker) finishSuccess(ctx context.Context, entry *store.QueueEntry, started time.Time, out *pipeline.Outcome, pub *store.Publisher, log *slog.Logger) {
	updated, err := w.store.TransitionQueueEntry(ctx, entry.URL, store.StatusProcessing, store.StatusCompleted,
		store.TransitionUpdate{ClearWorker: true})
	if err != nil {
		log.Error("completed transition failed", slog.String("error", err.Error()))
		return
	}
	if updated == nil {
		// Entry was reclaimed while we worked; another cycle owns it now.
		log.Warn("completed transition lost precondition, skipping audit")
		return
	}

	duration := time.Since(started)
	w.appendAudit(ctx, entry, store.AuditEntry{
		Status:             store.StatusCompleted,
		StartedAt:          started,
		CompletedAt:        time.Now(),
		ProcessingTimeSecs: duration.Seconds(),
		QuestionCount:      out.QuestionCount,
		SummaryLength:      out.SummaryLength,
		EmbeddingCount:     out.EmbeddingCount,
		BlogTitle:          out.BlogTitle,
		ContentLength:      out.ContentLength,
	}, pub, entry.ReprocessedCount > 0, log)

	if err := w.store.ReleaseBlogSlot(ctx, entry.PublisherID, true); err != nil {
		log.Error("slot release failed", slog.String("error", err.Error()))
	}
	w.record(entry, duration, true, "", out.QuestionCount)
	log.Info("job completed",
		slog.Duration("duration", duration),
		slog.Int("questions", out.QuestionCount))
}

func (w *Worker) finishFailure(ctx context.Context, entry *store.QueueEntry, started time.Time, se *pipeline.StageError, pub *store.Publisher, log *slog.Logger) {
	retry := se.Retryable && entry.AttemptCount < MaxRetries
	target := store.StatusFailed
	if retry {
		target = store.StatusRetry
	}

	updated, err := w.store.TransitionQueueEntry(ctx, entry.URL, store.StatusProcessing, target,
		store.TransitionUpdate{LastError: se.Error(), ErrorType: se.ErrorType, ClearWorker: true})
	if err != nil {
		log.Error("failure transition failed", slog.String("error", err.Error()))
		return
	}
	if updated == nil {
		log.Warn("failure transition lost precondition, skipping audit")
		return
	}

	duration := time.Since(started)
	w.appendAudit(ctx, entry, store.AuditEntry{
		Status:             store.StatusFailed,
		StartedAt:          started,
		CompletedAt:        time.Now(),
		ProcessingTimeSecs: duration.Seconds(),
		ErrorMessage:       se.Error(),
		ErrorType:          se.ErrorType,
	}, pub, entry.ReprocessedCount > 0, log)

	// The admission-time reservation is held across retries and released only
	// when the cycle ends.
	if target == store.StatusFailed {
		if err := w.store.ReleaseBlogSlot(ctx, entry.PublisherID, false); err != nil {
			log.Error("slot release failed", slog.String("error", err.Error()))
		}
	}
	w.record(entry, duration, false, se.ErrorType, 0)
	log.Warn("job failed",
		slog.String("stage", se.Stage),
		slog.String("error_type", se.ErrorType),
		slog.Bool("retry", retry),
		slog.String("error", se.Err.Error()))
}

func (w *Worker) appendAudit(ctx context.Context, entry *store.QueueEntry, a store.AuditEntry, pub *store.Publisher, isReprocess bool, log *slog.Logger) {
	a.URL = entry.URL
	a.PublisherID = entry.PublisherID
	a.JobID = entry.CurrentJobID
	a.WorkerID = w.id
	a.AttemptNumber = entry.AttemptCount
	a.IsReprocess = isReprocess
	if pub != nil {
		a.LLMModel = pub.Config.LLMModel
		a.EmbeddingModel = pub.Config.EmbeddingModel
		if cfg, err := json.Marshal(pub.Config); err == nil {
			a.PublisherConfigJSON = string(cfg)
		}
	}
	if err := w.store.AppendAudit(ctx, a); err != nil {
		log.Error("audit append failed", slog.String("error", err.Error()))
	}
}

func (w *Worker) record(entry *store.QueueEntry, duration time.Duration, success bool, errorType string, questions int) {
	if w.stats != nil {
		w.stats.Record(stats.Snapshot{
			PublisherID:   entry.PublisherID,
			DurationSecs:  duration.Seconds(),
			Success:       success,
			ErrorType:     errorType,
			QuestionCount: questions,
		})
	}
	if w.metrics != nil {
		outcome := "completed"
		if !success {
			outcome = "failed"
		}
		w.metrics.JobsTotal.WithLabelValues(outcome).Inc()
		w.metrics.JobDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}
