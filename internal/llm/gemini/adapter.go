// Package gemini adapts the Google Generative Language API for chat
// completions and embeddings.
package gemini

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

// Adapter implements llm.Client and llm.Embedder for Gemini.
type Adapter struct {
	id      string
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a new Gemini adapter.
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
	// Gemini takes system text as systemInstruction and maps assistant
	// turns to the "model" role.
	var system []string
	contents := make([]map[string]any, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case "system":
			system = append(system, msg.Content)
		case "assistant":
			contents = append(contents, geminiTurn("model", msg.Content))
		default:
			contents = append(contents, geminiTurn("user", msg.Content))
		}
	}

	payload := map[string]any{
		"contents": contents,
	}
	if len(system) > 0 {
		payload["systemInstruction"] = map[string]any{
			"parts": []map[string]string{{"text": strings.Join(system, "\n\n")}},
		}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", a.baseURL, model)
	body, err := llm.DoRequest(ctx, a.client, url, payload, a.authHeaders())
	if err != nil {
		return "", err
	}

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse gemini response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini response contained no candidates")
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini response contained no text")
	}
	return sb.String(), nil
}

func (a *Adapter) Embed(ctx context.Context, model string, inputs []string) ([][]float64, error) {
	requests := make([]map[string]any, len(inputs))
	for i, in := range inputs {
		requests[i] = map[string]any{
			"model": "models/" + model,
			"content": map[string]any{
				"parts": []map[string]string{{"text": in}},
			},
		}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:batchEmbedContents", a.baseURL, model)
	body, err := llm.DoRequest(ctx, a.client, url, map[string]any{"requests": requests}, a.authHeaders())
	if err != nil {
		return nil, err
	}

	var resp struct {
		Embeddings []struct {
			Values []float64 `json:"values"`
		} `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse gemini response: %w", err)
	}
	if len(resp.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(resp.Embeddings), len(inputs))
	}

	out := make([][]float64, len(inputs))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
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
		}
	}
	return &llm.ClassifiedError{Err: err, Class: llm.ErrFatal}
}

func (a *Adapter) authHeaders() map[string]string {
	return map[string]string{"x-goog-api-key": a.apiKey}
}

func geminiTurn(role, text string) map[string]any {
	return map[string]any{
		"role":  role,
		"parts": []map[string]string{{"text": text}},
	}
}
