package service

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/quizhub/internal/store"
)

// Result is the outcome of a widget-facing queue operation, discriminated by
// ProcessingStatus. Blog and Questions are set only for "ready".
type Result struct {
	ProcessingStatus store.Status     `json:"processing_status"`
	URL              string           `json:"url"`
	JobID            string           `json:"job_id,omitempty"`
	Blog             *store.Blog      `json:"blog,omitempty"`
	Questions        []store.Question `json:"questions,omitempty"`
	Healed           bool             `json:"healed,omitempty"`
}

// StatusReady marks a Result carrying stored questions. It is not a queue
// state; the queue entry (if any) is untouched when it is returned.
const StatusReady store.Status = "ready"

// Service is the check-and-load state machine over the store.
type Service struct {
	store store.Store
	log   *slog.Logger
}

func New(s store.Store, log *slog.Logger) *Service {
	return &Service{store: s, log: log}
}

// CheckAndLoad is the single entrypoint behind the widget. It serves stored
// questions when they exist, otherwise advances the queue state machine for
// the URL and reports its current status.
func (s *Service) CheckAndLoad(ctx context.Context, pub *store.Publisher, rawURL string) (*Result, error) {
	url, err := Admit(pub, rawURL)
	if err != nil {
		return nil, err
	}

	// Fast path: stored questions exist. Read-only; no queue writes.
	if res, err := s.readyResult(ctx, url); err != nil || res != nil {
		return res, err
	}

	entry, err := s.store.GetQueueEntry(ctx, url)
	if err != nil {
		return nil, err
	}

	if entry == nil {
		jobID := uuid.NewString()
		var created bool
		entry, created, err = s.store.GetOrCreateQueueEntry(ctx, url, pub.ID, jobID)
		if err != nil {
			return nil, err
		}
		if created {
			return s.admitNewEntry(ctx, pub, url, entry)
		}
		// Lost the unique-key race; fall through with the winner's entry.
	}

	switch entry.Status {
	case store.StatusQueued, store.StatusProcessing, store.StatusRetry:
		return &Result{ProcessingStatus: entry.Status, URL: url, JobID: entry.CurrentJobID}, nil

	case store.StatusFailed:
		// Recoverable: a new request auto-requeues the URL.
		return s.requeue(ctx, pub, url, false)

	case store.StatusCompleted:
		// Completed but the fast path found no questions: the content store
		// lost them. Treat as failed and requeue with the healed flag.
		if _, err := s.store.TransitionQueueEntry(ctx, url, store.StatusCompleted, store.StatusFailed, store.TransitionUpdate{
			LastError:   "completed entry has no stored questions",
			ErrorType:   "MISSING_QUESTIONS",
			ClearWorker: true,
		}); err != nil {
			return nil, err
		}
		return s.requeue(ctx, pub, url, true)
	}

	return &Result{ProcessingStatus: entry.Status, URL: url, JobID: entry.CurrentJobID}, nil
}

// QuestionsByURL serves the fast path only: stored questions or NOT_FOUND.
func (s *Service) QuestionsByURL(ctx context.Context, pub *store.Publisher, rawURL string) (*Result, error) {
	url, err := Admit(pub, rawURL)
	if err != nil {
		return nil, err
	}
	res, err := s.readyResult(ctx, url)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, admissionErr(CodeNotFound, http.StatusNotFound, "no questions stored for %s", url)
	}
	return res, nil
}

// EnqueueProcess explicitly enqueues a URL for processing, skipping the fast
// path. A completed URL is deliberately reprocessed.
func (s *Service) EnqueueProcess(ctx context.Context, pub *store.Publisher, rawURL string) (*Result, error) {
	url, err := Admit(pub, rawURL)
	if err != nil {
		return nil, err
	}

	entry, err := s.store.GetQueueEntry(ctx, url)
	if err != nil {
		return nil, err
	}

	if entry == nil {
		jobID := uuid.NewString()
		entry, created, err := s.store.GetOrCreateQueueEntry(ctx, url, pub.ID, jobID)
		if err != nil {
			return nil, err
		}
		if created {
			// Explicit enqueue expresses demand; no threshold gate here.
			if _, err := s.store.IncrementRequestCount(ctx, url, pub.ID); err != nil {
				return nil, err
			}
			if err := reserveSlot(ctx, s.store, pub.ID, store.DayBucket(time.Now())); err != nil {
				_, _ = s.store.DeleteIfQueued(ctx, url)
				return nil, err
			}
			return &Result{ProcessingStatus: store.StatusQueued, URL: url, JobID: entry.CurrentJobID}, nil
		}
		return &Result{ProcessingStatus: entry.Status, URL: url, JobID: entry.CurrentJobID}, nil
	}

	switch entry.Status {
	case store.StatusQueued, store.StatusProcessing, store.StatusRetry:
		return &Result{ProcessingStatus: entry.Status, URL: url, JobID: entry.CurrentJobID}, nil

	case store.StatusFailed:
		return s.requeue(ctx, pub, url, false)

	case store.StatusCompleted:
		// Deliberate reprocess of a completed URL.
		if _, err := s.store.TransitionQueueEntry(ctx, url, store.StatusCompleted, store.StatusFailed, store.TransitionUpdate{
			LastError:   "reprocess requested",
			ErrorType:   "REPROCESS",
			ClearWorker: true,
		}); err != nil {
			return nil, err
		}
		return s.requeue(ctx, pub, url, false)
	}

	return &Result{ProcessingStatus: entry.Status, URL: url, JobID: entry.CurrentJobID}, nil
}

// JobStatus returns the queue entry a job id currently identifies.
func (s *Service) JobStatus(ctx context.Context, jobID string) (*store.QueueEntry, error) {
	entry, err := s.store.GetQueueEntryByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, admissionErr(CodeNotFound, http.StatusNotFound, "no job %s", jobID)
	}
	return entry, nil
}

// CancelJob removes a job while it is still queued. Leased or terminal jobs
// cannot be cancelled.
func (s *Service) CancelJob(ctx context.Context, jobID string) (*store.QueueEntry, error) {
	entry, err := s.store.GetQueueEntryByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, admissionErr(CodeNotFound, http.StatusNotFound, "no job %s", jobID)
	}
	ok, err := s.store.DeleteIfQueued(ctx, entry.URL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, admissionErr(CodeConflict, http.StatusConflict,
			"job %s is %s and can no longer be cancelled", jobID, entry.Status)
	}
	// Roll back the admission-time reservation.
	if err := s.store.ReleaseBlogSlot(ctx, entry.PublisherID, false); err != nil {
		s.log.Warn("release after cancel failed",
			slog.String("publisher_id", entry.PublisherID), slog.String("error", err.Error()))
	}
	return entry, nil
}

// readyResult returns a ready Result when stored questions exist, nil
// otherwise. Questions are shuffled so the widget shows a varied set.
func (s *Service) readyResult(ctx context.Context, url string) (*Result, error) {
	questions, err := s.store.GetQuestions(ctx, url, 0)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, nil
	}
	rand.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})
	blog, err := s.store.GetBlog(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Result{ProcessingStatus: StatusReady, URL: url, Blog: blog, Questions: questions}, nil
}

// admitNewEntry finishes admission for a freshly created queue entry: bump
// demand, apply the threshold gate, and reserve a slot when the gate passes.
func (s *Service) admitNewEntry(ctx context.Context, pub *store.Publisher, url string, entry *store.QueueEntry) (*Result, error) {
	count, err := s.store.IncrementRequestCount(ctx, url, pub.ID)
	if err != nil {
		_, _ = s.store.DeleteIfQueued(ctx, url)
		return nil, err
	}

	// Threshold gate: below the publisher's threshold the provisional entry
	// is rolled back so no worker can lease it and no quota moves. Only the
	// demand counter survives; each later request re-creates the entry and
	// bumps the counter until the threshold is reached.
	if count < pub.Config.RequestThreshold {
		if _, err := s.store.DeleteIfQueued(ctx, url); err != nil {
			return nil, err
		}
		return &Result{ProcessingStatus: store.StatusQueued, URL: url}, nil
	}

	if err := reserveSlot(ctx, s.store, pub.ID, store.DayBucket(time.Now())); err != nil {
		_, _ = s.store.DeleteIfQueued(ctx, url)
		return nil, err
	}
	return &Result{ProcessingStatus: store.StatusQueued, URL: url, JobID: entry.CurrentJobID}, nil
}

// requeue re-admits a failed entry: reset attempts, new job id, fresh slot
// reservation. On reservation failure the entry is moved back to failed.
func (s *Service) requeue(ctx context.Context, pub *store.Publisher, url string, healed bool) (*Result, error) {
	jobID := uuid.NewString()
	entry, err := s.store.RequeueFailed(ctx, url, true, jobID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		// Another request requeued first; report the current state.
		entry, err = s.store.GetQueueEntry(ctx, url)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, admissionErr(CodeNotFound, http.StatusNotFound, "queue entry for %s vanished", url)
		}
		return &Result{ProcessingStatus: entry.Status, URL: url, JobID: entry.CurrentJobID}, nil
	}

	if err := reserveSlot(ctx, s.store, pub.ID, store.DayBucket(time.Now())); err != nil {
		_, _ = s.store.TransitionQueueEntry(ctx, url, store.StatusQueued, store.StatusFailed, store.TransitionUpdate{
			LastError: "slot reservation failed during requeue",
			ErrorType: CodeDailyLimit,
		})
		return nil, err
	}

	if healed {
		if err := s.store.MarkHealed(ctx, url); err != nil {
			return nil, err
		}
	}
	return &Result{ProcessingStatus: store.StatusQueued, URL: url, JobID: jobID, Healed: healed}, nil
}
