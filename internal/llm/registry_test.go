package llm

import (
	"context"
	"errors"
	"testing"
)

type fakeClient struct{ id string }

func (f *fakeClient) ID() string { return f.id }
func (f *fakeClient) Chat(ctx context.Context, model string, msgs []Message) (string, error) {
	return "", nil
}
func (f *fakeClient) ClassifyError(err error) *ClassifiedError {
	return &ClassifiedError{Err: err, Class: ErrFatal}
}

type fakeEmbedder struct{ id string }

func (f *fakeEmbedder) Embed(ctx context.Context, model string, inputs []string) ([][]float64, error) {
	return nil, nil
}

func TestRegistryChatFor(t *testing.T) {
	r := NewRegistry()
	openai := &fakeClient{id: "openai"}
	anthropic := &fakeClient{id: "anthropic"}
	r.RegisterChat(openai, "gpt-", "o1")
	r.RegisterChat(anthropic, "claude-")

	c, err := r.ChatFor("gpt-4o")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ID() != "openai" {
		t.Errorf("expected openai, got %s", c.ID())
	}

	c, err = r.ChatFor("claude-sonnet-4-5")
	if err != nil {
		t.Fatal(err)
	}
	if c.ID() != "anthropic" {
		t.Errorf("expected anthropic, got %s", c.ID())
	}

	_, err = r.ChatFor("llama-3")
	if !errors.Is(err, ErrNoProvider) {
		t.Errorf("expected ErrNoProvider, got %v", err)
	}
}

func TestRegistryLongestPrefixWins(t *testing.T) {
	r := NewRegistry()
	generic := &fakeClient{id: "generic"}
	specific := &fakeClient{id: "specific"}
	r.RegisterChat(generic, "gpt-")
	r.RegisterChat(specific, "gpt-4o")

	c, err := r.ChatFor("gpt-4o-mini")
	if err != nil {
		t.Fatal(err)
	}
	if c.ID() != "specific" {
		t.Errorf("expected longest prefix to win, got %s", c.ID())
	}
}

func TestRegistryEmbedderFor(t *testing.T) {
	r := NewRegistry()
	r.RegisterEmbed(&fakeEmbedder{id: "openai"}, "text-embedding-")

	if _, err := r.EmbedderFor("text-embedding-3-small"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.EmbedderFor("unknown-model"); !errors.Is(err, ErrNoProvider) {
		t.Errorf("expected ErrNoProvider, got %v", err)
	}
}
