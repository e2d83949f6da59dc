package store

import (
	"context"
	"errors"
	"testing"
)

func testBlog(url string) Blog {
	return Blog{
		URL:       url,
		Title:     "Understanding Goroutines",
		Author:    "Jane Dev",
		Content:   "Goroutines are lightweight threads managed by the Go runtime.",
		Language:  "en",
		WordCount: 10,
	}
}

func TestSaveBlogIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.SaveBlog(ctx, testBlog("https://example.com/goroutines"))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// Same URL again: the existing id comes back and the stored content
	// is untouched.
	b2 := testBlog("https://example.com/goroutines")
	b2.Title = "Different Title"
	id2, err := s.SaveBlog(ctx, b2)
	if err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected same id, got %d and %d", id1, id2)
	}

	got, err := s.GetBlog(ctx, "https://example.com/goroutines")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Understanding Goroutines" {
		t.Errorf("second save must not overwrite content, got title %q", got.Title)
	}
}

func TestGetBlogNotFound(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetBlog(context.Background(), "https://example.com/nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing blog")
	}
}

func TestSummaryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.SaveBlog(ctx, testBlog("https://example.com/a"))
	if err != nil {
		t.Fatal(err)
	}

	sum := Summary{
		BlogID:    id,
		BlogURL:   "https://example.com/a",
		Text:      "A short overview of goroutines.",
		KeyPoints: []string{"cheap to start", "scheduled by the runtime"},
		Embedding: []float64{0.1, 0.2, 0.3},
	}
	if err := s.SaveSummary(ctx, sum); err != nil {
		t.Fatalf("save summary failed: %v", err)
	}

	got, err := s.GetSummary(ctx, "https://example.com/a")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected summary")
	}
	if got.Text != sum.Text {
		t.Errorf("unexpected text %q", got.Text)
	}
	if len(got.KeyPoints) != 2 || got.KeyPoints[0] != "cheap to start" {
		t.Errorf("key points not restored: %v", got.KeyPoints)
	}
	if len(got.Embedding) != 3 {
		t.Errorf("embedding not restored: %v", got.Embedding)
	}

	missing, err := s.GetSummary(ctx, "https://example.com/none")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("expected nil for missing summary")
	}
}

func TestQuestionsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.SaveBlog(ctx, testBlog("https://example.com/a"))
	if err != nil {
		t.Fatal(err)
	}

	pairs := []QAPair{
		{Question: "What is a goroutine?", Answer: "A lightweight thread."},
		{Question: "Who schedules goroutines?", Answer: "The Go runtime."},
		{Question: "Are goroutines expensive?", Answer: "No."},
	}
	// Deliberately fewer embeddings than pairs.
	embeddings := [][]float64{{0.1}, {0.2}}
	if err := s.SaveQuestions(ctx, id, "https://example.com/a", pairs, embeddings); err != nil {
		t.Fatalf("save questions failed: %v", err)
	}

	got, err := s.GetQuestions(ctx, "https://example.com/a", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(got))
	}
	if got[0].Question != pairs[0].Question || got[2].Answer != pairs[2].Answer {
		t.Errorf("questions out of order or mangled: %+v", got)
	}

	limited, err := s.GetQuestions(ctx, "https://example.com/a", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 questions with limit, got %d", len(limited))
	}
}

func TestSaveQuestionsReplacesPriorGeneration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.SaveBlog(ctx, testBlog("https://example.com/a"))
	if err != nil {
		t.Fatal(err)
	}

	first := []QAPair{
		{Question: "Old Q1?", Answer: "Old A1."},
		{Question: "Old Q2?", Answer: "Old A2."},
		{Question: "Old Q3?", Answer: "Old A3."},
	}
	if err := s.SaveQuestions(ctx, id, "https://example.com/a", first, nil); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	// A second run, as after a reprocess, must replace the first generation
	// rather than append to it.
	second := []QAPair{
		{Question: "New Q1?", Answer: "New A1."},
		{Question: "New Q2?", Answer: "New A2."},
	}
	if err := s.SaveQuestions(ctx, id, "https://example.com/a", second, nil); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	got, err := s.GetQuestions(ctx, "https://example.com/a", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 questions after second run, got %d", len(got))
	}
	for _, q := range got {
		if q.Question == "Old Q1?" || q.Question == "Old Q2?" || q.Question == "Old Q3?" {
			t.Errorf("stale question survived: %q", q.Question)
		}
	}

	// Other URLs are untouched.
	idB, err := s.SaveBlog(ctx, testBlog("https://example.com/b"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveQuestions(ctx, idB, "https://example.com/b", first, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveQuestions(ctx, id, "https://example.com/a", second, nil); err != nil {
		t.Fatal(err)
	}
	other, _ := s.GetQuestions(ctx, "https://example.com/b", 0)
	if len(other) != 3 {
		t.Errorf("questions for another URL must survive, got %d", len(other))
	}
}

func TestSaveSummaryReplacesPrior(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.SaveBlog(ctx, testBlog("https://example.com/a"))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SaveSummary(ctx, Summary{BlogID: id, BlogURL: "https://example.com/a", Text: "first run"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSummary(ctx, Summary{BlogID: id, BlogURL: "https://example.com/a", Text: "second run"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSummary(ctx, "https://example.com/a")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Text != "second run" {
		t.Fatalf("expected the second summary, got %+v", got)
	}

	var n int
	if err := s.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM summaries WHERE blog_url = ?`, "https://example.com/a").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected exactly 1 stored summary, got %d", n)
	}
}

func TestDeleteBlogCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.SaveBlog(ctx, testBlog("https://example.com/a"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSummary(ctx, Summary{BlogID: id, BlogURL: "https://example.com/a", Text: "s"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveQuestions(ctx, id, "https://example.com/a", []QAPair{{Question: "q", Answer: "a"}}, nil); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteBlog(ctx, id); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if b, _ := s.GetBlog(ctx, "https://example.com/a"); b != nil {
		t.Error("blog not deleted")
	}
	if sum, _ := s.GetSummary(ctx, "https://example.com/a"); sum != nil {
		t.Error("summary not cascaded")
	}
	if qs, _ := s.GetQuestions(ctx, "https://example.com/a", 0); len(qs) != 0 {
		t.Error("questions not cascaded")
	}

	err = s.DeleteBlog(ctx, id)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}
