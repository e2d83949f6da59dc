// Package openai adapts the OpenAI API for chat completions and embeddings.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jordanhubbard/quizhub/internal/llm"
)

// Adapter implements llm.Client and llm.Embedder for OpenAI.
type Adapter struct {
	id      string
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a new OpenAI adapter.
func New(id, apiKey, baseURL string) *Adapter {
	return &Adapter{
		id:      id,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) Chat(ctx context.Context, model string, msgs []llm.Message) (string, error) {
	messages := make([]map[string]string, len(msgs))
	for i, msg := range msgs {
		messages[i] = map[string]string{
			"role":    msg.Role,
			"content": msg.Content,
		}
	}

	payload := map[string]any{
		"model":    model,
		"messages": messages,
	}

	body, err := a.makeRequest(ctx, "/v1/chat/completions", payload)
	if err != nil {
		return "", err
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse openai response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai response contained no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (a *Adapter) Embed(ctx context.Context, model string, inputs []string) ([][]float64, error) {
	payload := map[string]any{
		"model": model,
		"input": inputs,
	}

	body, err := a.makeRequest(ctx, "/v1/embeddings", payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse openai response: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(inputs))
	}

	out := make([][]float64, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (a *Adapter) ClassifyError(err error) *llm.ClassifiedError {
	var se *llm.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 429:
			ce := &llm.ClassifiedError{Err: err, Class: llm.ErrRateLimited}
			if se.RetryAfterSecs > 0 {
				ce.RetryAfter = se.RetryAfterSecs
			}
			return ce
		case se.StatusCode >= 500:
			return &llm.ClassifiedError{Err: err, Class: llm.ErrTransient}
		case strings.Contains(se.Body, "context_length_exceeded"):
			return &llm.ClassifiedError{Err: err, Class: llm.ErrContextOverflow}
		}
	}
	return &llm.ClassifiedError{Err: err, Class: llm.ErrFatal}
}

func (a *Adapter) makeRequest(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + a.apiKey,
	}
	return llm.DoRequest(ctx, a.client, a.baseURL+endpoint, payload, headers)
}
