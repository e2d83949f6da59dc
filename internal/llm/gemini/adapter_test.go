package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jordanhubbard/quizhub/internal/llm"
)

func TestChatSuccess(t *testing.T) {
	var receivedPayload map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("expected x-goog-api-key header, got %q", r.Header.Get("x-goog-api-key"))
		}
		if !strings.HasSuffix(r.URL.Path, "models/gemini-2.0-flash:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&receivedPayload)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Hel"},{"text":"lo!"}]}}]}`))
	}))
	defer ts.Close()

	a := New("gemini", "test-key", ts.URL)
	got, err := a.Chat(context.Background(), "gemini-2.0-flash", []llm.Message{
		{Role: "system", Content: "Be brief."},
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Hello!" {
		t.Errorf("expected concatenated parts, got %q", got)
	}

	if receivedPayload["systemInstruction"] == nil {
		t.Error("expected systemInstruction for system turn")
	}
	contents, ok := receivedPayload["contents"].([]any)
	if !ok || len(contents) != 1 {
		t.Errorf("expected 1 content turn, got %v", receivedPayload["contents"])
	}
}

func TestEmbedSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":batchEmbedContents") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"embeddings":[{"values":[0.1,0.2]},{"values":[0.3,0.4]}]}`))
	}))
	defer ts.Close()

	a := New("gemini", "key", ts.URL)
	got, err := a.Embed(context.Background(), "text-embedding-004", []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1][1] != 0.4 {
		t.Errorf("unexpected embeddings %v", got)
	}
}

func TestChatRateLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer ts.Close()

	a := New("gemini", "key", ts.URL)
	_, err := a.Chat(context.Background(), "gemini-2.0-flash", []llm.Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error")
	}

	classified := a.ClassifyError(err)
	if classified.Class != llm.ErrRateLimited {
		t.Errorf("expected ErrRateLimited, got %s", classified.Class)
	}
}

func TestChatNoCandidates(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer ts.Close()

	a := New("gemini", "key", ts.URL)
	_, err := a.Chat(context.Background(), "gemini-2.0-flash", []llm.Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error for empty candidates")
	}
}
