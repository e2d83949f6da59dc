package store

import (
	"context"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrate(t *testing.T) {
	s := newTestStore(t)
	// Running migrate twice should be idempotent.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func testPublisher(id string) Publisher {
	return Publisher{
		ID:           id,
		Name:         "Example Blog",
		Domain:       "example.com",
		APIKeyHash:   "hash",
		APIKeyPrefix: "pub_deadbeef",
		Active:       true,
		Config: PublisherConfig{
			DailyBlogLimit:   100,
			LLMModel:         "gpt-4",
			EmbeddingModel:   "text-embedding-3-small",
			QuestionsPerBlog: 5,
			RequestThreshold: 1,
		},
	}
}
