package service

import (
	"context"
	"log/slog"
	"testing"

	"github.com/jordanhubbard/quizhub/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, slog.Default()), s
}

func testPublisher(id string) *store.Publisher {
	return &store.Publisher{
		ID:     id,
		Name:   "Example Blog",
		Domain: "example.com",
		Active: true,
		Config: store.PublisherConfig{
			DailyBlogLimit:   100,
			LLMModel:         "gpt-4",
			EmbeddingModel:   "text-embedding-3-small",
			QuestionsPerBlog: 5,
			RequestThreshold: 1,
		},
	}
}

func createPublisher(t *testing.T, s store.Store, p *store.Publisher) {
	t.Helper()
	if err := s.CreatePublisher(context.Background(), *p); err != nil {
		t.Fatalf("create publisher failed: %v", err)
	}
}

func TestCheckAndLoadColdBlog(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	pub := testPublisher("pub-1")
	createPublisher(t, s, pub)

	res, err := svc.CheckAndLoad(ctx, pub, "https://www.example.com/post-a/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ProcessingStatus != store.StatusQueued {
		t.Errorf("expected queued, got %s", res.ProcessingStatus)
	}
	if res.URL != "https://example.com/post-a" {
		t.Errorf("url not normalized: %s", res.URL)
	}
	if res.JobID == "" {
		t.Error("expected a job id")
	}

	entry, _ := s.GetQueueEntry(ctx, "https://example.com/post-a")
	if entry == nil || entry.Status != store.StatusQueued {
		t.Fatalf("expected queued entry, got %+v", entry)
	}
	count, _ := s.GetRequestCount(ctx, "https://example.com/post-a")
	if count != 1 {
		t.Errorf("expected request count 1, got %d", count)
	}
	got, _ := s.GetPublisherByID(ctx, "pub-1")
	if got.Usage.InFlightReservations != 1 {
		t.Errorf("expected 1 in-flight reservation, got %d", got.Usage.InFlightReservations)
	}
}

func TestCheckAndLoadFastPath(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	pub := testPublisher("pub-1")
	createPublisher(t, s, pub)

	blogID, err := s.SaveBlog(ctx, store.Blog{URL: "https://example.com/post-a", Title: "Post A", Content: "text"})
	if err != nil {
		t.Fatal(err)
	}
	pairs := []store.QAPair{{Question: "Q1?", Answer: "A1."}, {Question: "Q2?", Answer: "A2."}}
	if err := s.SaveQuestions(ctx, blogID, "https://example.com/post-a", pairs, nil); err != nil {
		t.Fatal(err)
	}

	res, err := svc.CheckAndLoad(ctx, pub, "https://example.com/post-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ProcessingStatus != StatusReady {
		t.Errorf("expected ready, got %s", res.ProcessingStatus)
	}
	if len(res.Questions) != 2 {
		t.Errorf("expected 2 questions, got %d", len(res.Questions))
	}
	if res.Blog == nil || res.Blog.Title != "Post A" {
		t.Errorf("expected blog info, got %+v", res.Blog)
	}

	// Read-only: no queue entry, no metadata increment, no reservation.
	entry, _ := s.GetQueueEntry(ctx, "https://example.com/post-a")
	if entry != nil {
		t.Error("fast path must not create a queue entry")
	}
	count, _ := s.GetRequestCount(ctx, "https://example.com/post-a")
	if count != 0 {
		t.Errorf("fast path must not increment request count, got %d", count)
	}
	got, _ := s.GetPublisherByID(ctx, "pub-1")
	if got.Usage.InFlightReservations != 0 {
		t.Errorf("fast path must not reserve a slot, got %d", got.Usage.InFlightReservations)
	}
}

func TestCheckAndLoadDomainMismatch(t *testing.T) {
	svc, s := newTestService(t)
	pub := testPublisher("pub-1")
	createPublisher(t, s, pub)

	_, err := svc.CheckAndLoad(context.Background(), pub, "https://evil.com/post")
	ae, ok := err.(*AdmissionError)
	if !ok {
		t.Fatalf("expected AdmissionError, got %v", err)
	}
	if ae.Code != CodeDomainMismatch || ae.HTTPStatus != 403 {
		t.Errorf("unexpected rejection: %+v", ae)
	}

	// No side effects.
	entry, _ := s.GetQueueEntry(context.Background(), "https://evil.com/post")
	if entry != nil {
		t.Error("rejected request must not create a queue entry")
	}
}

func TestCheckAndLoadInactivePublisher(t *testing.T) {
	svc, s := newTestService(t)
	pub := testPublisher("pub-1")
	pub.Active = false
	createPublisher(t, s, pub)

	_, err := svc.CheckAndLoad(context.Background(), pub, "https://example.com/post")
	ae, ok := err.(*AdmissionError)
	if !ok || ae.Code != CodePublisherInactive {
		t.Errorf("expected PUBLISHER_INACTIVE, got %v", err)
	}
}

func TestCheckAndLoadNotWhitelisted(t *testing.T) {
	svc, s := newTestService(t)
	pub := testPublisher("pub-1")
	pub.Config.WhitelistedURLPatterns = []string{"/blog"}
	createPublisher(t, s, pub)

	_, err := svc.CheckAndLoad(context.Background(), pub, "https://example.com/news/post")
	ae, ok := err.(*AdmissionError)
	if !ok || ae.Code != CodeNotWhitelisted {
		t.Errorf("expected NOT_WHITELISTED, got %v", err)
	}
}

func TestCheckAndLoadDailyLimit(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	pub := testPublisher("pub-1")
	pub.Config.DailyBlogLimit = 0
	createPublisher(t, s, pub)

	_, err := svc.CheckAndLoad(ctx, pub, "https://example.com/post")
	ae, ok := err.(*AdmissionError)
	if !ok || ae.Code != CodeDailyLimit {
		t.Fatalf("expected DAILY_LIMIT_REACHED, got %v", err)
	}

	// The provisional queue entry is rolled back.
	entry, _ := s.GetQueueEntry(ctx, "https://example.com/post")
	if entry != nil {
		t.Error("expected queue entry rollback via delete_if_queued")
	}
	got, _ := s.GetPublisherByID(ctx, "pub-1")
	if got.Usage.InFlightReservations != 0 {
		t.Errorf("expected 0 in-flight, got %d", got.Usage.InFlightReservations)
	}
}

func TestCheckAndLoadThresholdGate(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	pub := testPublisher("pub-1")
	pub.Config.RequestThreshold = 3
	createPublisher(t, s, pub)

	// The first two requests only accumulate demand: no entry survives, no
	// slot is consumed, and there is no job to poll.
	for i := 1; i <= 2; i++ {
		res, err := svc.CheckAndLoad(ctx, pub, "https://example.com/post")
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
		if res.ProcessingStatus != store.StatusQueued {
			t.Errorf("request %d: expected queued, got %s", i, res.ProcessingStatus)
		}
		if res.JobID != "" {
			t.Errorf("request %d: gated result must carry no job id, got %q", i, res.JobID)
		}
		entry, _ := s.GetQueueEntry(ctx, "https://example.com/post")
		if entry != nil {
			t.Errorf("request %d: gated entry must be rolled back, got %+v", i, entry)
		}
		count, _ := s.GetRequestCount(ctx, "https://example.com/post")
		if count != i {
			t.Errorf("request %d: expected request count %d, got %d", i, i, count)
		}
		got, _ := s.GetPublisherByID(ctx, "pub-1")
		if got.Usage.InFlightReservations != 0 {
			t.Errorf("request %d: threshold gate must not reserve a slot, got %d", i, got.Usage.InFlightReservations)
		}
	}

	// The third request crosses the threshold: the entry persists with a job
	// id and a slot is reserved.
	res, err := svc.CheckAndLoad(ctx, pub, "https://example.com/post")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ProcessingStatus != store.StatusQueued || res.JobID == "" {
		t.Errorf("expected queued with job id at threshold, got %+v", res)
	}
	entry, _ := s.GetQueueEntry(ctx, "https://example.com/post")
	if entry == nil || entry.Status != store.StatusQueued {
		t.Fatalf("expected persistent queued entry at threshold, got %+v", entry)
	}
	count, _ := s.GetRequestCount(ctx, "https://example.com/post")
	if count != 3 {
		t.Errorf("expected request count 3, got %d", count)
	}
	got, _ := s.GetPublisherByID(ctx, "pub-1")
	if got.Usage.InFlightReservations != 1 {
		t.Errorf("expected 1 in-flight reservation at threshold, got %d", got.Usage.InFlightReservations)
	}
}

func TestThresholdGateNotLeasable(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	pub := testPublisher("pub-1")
	pub.Config.RequestThreshold = 3
	pub.Config.DailyBlogLimit = 1
	createPublisher(t, s, pub)

	if _, err := svc.CheckAndLoad(ctx, pub, "https://example.com/post"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A gated URL never reaches a worker, so completing work for it can
	// never move the quota counters.
	leased, err := s.LeaseQueueEntry(ctx, "worker-1")
	if err != nil {
		t.Fatalf("lease failed: %v", err)
	}
	if leased != nil {
		t.Fatalf("gated URL must not be leasable, got %+v", leased)
	}
	got, _ := s.GetPublisherByID(ctx, "pub-1")
	if got.Usage.BlogsProcessedToday != 0 || got.Usage.InFlightReservations != 0 {
		t.Errorf("gated URL must not touch quota, got today=%d in_flight=%d",
			got.Usage.BlogsProcessedToday, got.Usage.InFlightReservations)
	}
}

func TestCheckAndLoadExistingStates(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	pub := testPublisher("pub-1")
	createPublisher(t, s, pub)

	if _, _, err := s.GetOrCreateQueueEntry(ctx, "https://example.com/post", "pub-1", "job-1"); err != nil {
		t.Fatal(err)
	}

	res, err := svc.CheckAndLoad(ctx, pub, "https://example.com/post")
	if err != nil {
		t.Fatal(err)
	}
	if res.ProcessingStatus != store.StatusQueued || res.JobID != "job-1" {
		t.Errorf("expected existing queued entry reported, got %+v", res)
	}

	// Leased entry reports processing.
	if _, err := s.LeaseQueueEntry(ctx, "worker-1"); err != nil {
		t.Fatal(err)
	}
	res, err = svc.CheckAndLoad(ctx, pub, "https://example.com/post")
	if err != nil {
		t.Fatal(err)
	}
	if res.ProcessingStatus != store.StatusProcessing {
		t.Errorf("expected processing, got %s", res.ProcessingStatus)
	}
}

func TestCheckAndLoadAutoRequeueFailed(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	pub := testPublisher("pub-1")
	createPublisher(t, s, pub)

	if _, _, err := s.GetOrCreateQueueEntry(ctx, "https://example.com/post", "pub-1", "job-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LeaseQueueEntry(ctx, "worker-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TransitionQueueEntry(ctx, "https://example.com/post", store.StatusProcessing, store.StatusFailed, store.TransitionUpdate{
		LastError: "boom", ErrorType: "FATAL", ClearWorker: true,
	}); err != nil {
		t.Fatal(err)
	}

	res, err := svc.CheckAndLoad(ctx, pub, "https://example.com/post")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ProcessingStatus != store.StatusQueued {
		t.Errorf("expected auto-requeue to queued, got %s", res.ProcessingStatus)
	}
	if res.JobID == "job-1" {
		t.Error("requeue must assign a fresh job id")
	}

	entry, _ := s.GetQueueEntry(ctx, "https://example.com/post")
	if entry.AttemptCount != 0 || entry.ReprocessedCount != 1 {
		t.Errorf("requeue counters wrong: %+v", entry)
	}
	got, _ := s.GetPublisherByID(ctx, "pub-1")
	if got.Usage.InFlightReservations != 1 {
		t.Errorf("requeue must reserve a slot, got %d", got.Usage.InFlightReservations)
	}
}

func TestCheckAndLoadHealsCompletedWithoutQuestions(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	pub := testPublisher("pub-1")
	createPublisher(t, s, pub)

	if _, _, err := s.GetOrCreateQueueEntry(ctx, "https://example.com/post", "pub-1", "job-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LeaseQueueEntry(ctx, "worker-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TransitionQueueEntry(ctx, "https://example.com/post", store.StatusProcessing, store.StatusCompleted, store.TransitionUpdate{ClearWorker: true}); err != nil {
		t.Fatal(err)
	}

	res, err := svc.CheckAndLoad(ctx, pub, "https://example.com/post")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ProcessingStatus != store.StatusQueued {
		t.Errorf("expected requeue, got %s", res.ProcessingStatus)
	}
	if !res.Healed {
		t.Error("expected healed flag on the result")
	}

	entry, _ := s.GetQueueEntry(ctx, "https://example.com/post")
	if !entry.Healed {
		t.Error("expected healed flag on the entry")
	}
	if !entry.WasPreviouslyCompleted {
		t.Error("previously-completed marker must survive the heal")
	}
}

func TestQuestionsByURL(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	pub := testPublisher("pub-1")
	createPublisher(t, s, pub)

	_, err := svc.QuestionsByURL(ctx, pub, "https://example.com/post")
	ae, ok := err.(*AdmissionError)
	if !ok || ae.Code != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}

	blogID, err := s.SaveBlog(ctx, store.Blog{URL: "https://example.com/post", Title: "Post", Content: "text"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveQuestions(ctx, blogID, "https://example.com/post", []store.QAPair{{Question: "Q?", Answer: "A."}}, nil); err != nil {
		t.Fatal(err)
	}

	res, err := svc.QuestionsByURL(ctx, pub, "https://example.com/post")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ProcessingStatus != StatusReady || len(res.Questions) != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestEnqueueProcessReprocessesCompleted(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	pub := testPublisher("pub-1")
	createPublisher(t, s, pub)

	if _, _, err := s.GetOrCreateQueueEntry(ctx, "https://example.com/post", "pub-1", "job-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LeaseQueueEntry(ctx, "worker-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TransitionQueueEntry(ctx, "https://example.com/post", store.StatusProcessing, store.StatusCompleted, store.TransitionUpdate{ClearWorker: true}); err != nil {
		t.Fatal(err)
	}

	res, err := svc.EnqueueProcess(ctx, pub, "https://example.com/post")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ProcessingStatus != store.StatusQueued {
		t.Errorf("expected queued, got %s", res.ProcessingStatus)
	}

	entry, _ := s.GetQueueEntry(ctx, "https://example.com/post")
	if entry.ReprocessedCount != 1 {
		t.Errorf("expected reprocessed_count 1, got %d", entry.ReprocessedCount)
	}
}

func TestCancelJob(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	pub := testPublisher("pub-1")
	createPublisher(t, s, pub)

	res, err := svc.EnqueueProcess(ctx, pub, "https://example.com/post")
	if err != nil {
		t.Fatal(err)
	}

	entry, err := svc.CancelJob(ctx, res.JobID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if entry.URL != "https://example.com/post" {
		t.Errorf("unexpected entry %+v", entry)
	}

	// Cancellation rolls back the reservation.
	got, _ := s.GetPublisherByID(ctx, "pub-1")
	if got.Usage.InFlightReservations != 0 {
		t.Errorf("expected 0 in-flight after cancel, got %d", got.Usage.InFlightReservations)
	}

	if _, err := svc.CancelJob(ctx, res.JobID); err == nil {
		t.Error("expected NOT_FOUND for cancelled job")
	}
}

func TestCancelJobConflict(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	pub := testPublisher("pub-1")
	createPublisher(t, s, pub)

	res, err := svc.EnqueueProcess(ctx, pub, "https://example.com/post")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.LeaseQueueEntry(ctx, "worker-1"); err != nil {
		t.Fatal(err)
	}

	_, err = svc.CancelJob(ctx, res.JobID)
	ae, ok := err.(*AdmissionError)
	if !ok || ae.Code != CodeConflict {
		t.Errorf("expected CONFLICT for leased job, got %v", err)
	}
}

func TestJobStatus(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	pub := testPublisher("pub-1")
	createPublisher(t, s, pub)

	res, err := svc.EnqueueProcess(ctx, pub, "https://example.com/post")
	if err != nil {
		t.Fatal(err)
	}

	entry, err := svc.JobStatus(ctx, res.JobID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Status != store.StatusQueued {
		t.Errorf("expected queued, got %s", entry.Status)
	}

	if _, err := svc.JobStatus(ctx, "ghost-job"); err == nil {
		t.Error("expected NOT_FOUND for unknown job")
	}
}
