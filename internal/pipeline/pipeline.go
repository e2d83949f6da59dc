// Package pipeline runs the processing stages for one leased queue entry:
// crawl, persist, summarize, generate questions, embed, persist again. The
// worker owns the terminal transition; the pipeline only reports what
// happened and how a failure should be treated.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jordanhubbard/quizhub/internal/circuitbreaker"
	"github.com/jordanhubbard/quizhub/internal/crawler"
	"github.com/jordanhubbard/quizhub/internal/health"
	"github.com/jordanhubbard/quizhub/internal/llm"
	"github.com/jordanhubbard/quizhub/internal/metrics"
	"github.com/jordanhubbard/quizhub/internal/store"
)

// Error types recorded on the queue entry for non-crawl failures.
const (
	ErrTypeNoProvider = "LLM_NO_PROVIDER" // no adapter claims the model, fatal
	ErrTypeLLM        = "LLM_ERROR"       // provider call failed
	ErrTypeLLMParse   = "LLM_PARSE"       // model returned unusable JSON, retryable
	ErrTypeStore      = "STORE_ERROR"     // persistence failed, retryable
	ErrTypeBreaker    = "LLM_UNAVAILABLE" // circuit open, retryable
)

// StageError is a pipeline failure tagged with the stage it occurred in and
// whether the worker should retry the job.
type StageError struct {
	Stage     string
	ErrorType string
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.ErrorType, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Outcome summarizes a successful run for the audit trail.
type Outcome struct {
	BlogID         int64
	BlogTitle      string
	ContentLength  int
	SummaryLength  int
	QuestionCount  int
	EmbeddingCount int
}

// Fetcher abstracts the crawler for tests.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*crawler.Page, error)
}

// Orchestrator wires the stages together. Metrics is optional; everything
// else is required.
type Orchestrator struct {
	store    store.Store
	fetcher  Fetcher
	registry *llm.Registry
	breaker  *circuitbreaker.Breaker
	metrics  *metrics.Registry
	health   *health.Tracker
	log      *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics attaches a metrics registry for per-call counters.
func WithMetrics(m *metrics.Registry) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithHealth attaches a provider health tracker fed by every LLM call.
func WithHealth(t *health.Tracker) Option {
	return func(o *Orchestrator) { o.health = t }
}

func New(s store.Store, f Fetcher, reg *llm.Registry, br *circuitbreaker.Breaker, log *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{store: s, fetcher: f, registry: reg, breaker: br, log: log}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the full pipeline for a leased entry under the publisher's
// configuration. On failure the returned error is always a *StageError.
func (o *Orchestrator) Run(ctx context.Context, entry *store.QueueEntry, pub *store.Publisher) (*Outcome, error) {
	url := entry.URL
	// Provider calls carry the job id as X-Request-ID for log correlation.
	ctx = llm.WithRequestID(ctx, entry.CurrentJobID)

	page, err := o.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, crawlError(err)
	}
	o.log.Info("crawled blog",
		slog.String("url", url),
		slog.String("title", page.Title),
		slog.Int("word_count", page.WordCount))

	blogID, err := o.store.SaveBlog(ctx, store.Blog{
		URL:       url,
		Title:     page.Title,
		Author:    page.Author,
		Content:   page.Content,
		Language:  page.Language,
		WordCount: page.WordCount,
	})
	if err != nil {
		return nil, storeError("persist_blog", err)
	}
	if o.metrics != nil {
		o.metrics.CrawlBytesTotal.Add(float64(len(page.Content)))
	}

	chat, err := o.registry.ChatFor(pub.Config.LLMModel)
	if err != nil {
		return nil, &StageError{Stage: "summary", ErrorType: ErrTypeNoProvider, Err: err}
	}
	embedder, err := o.registry.EmbedderFor(pub.Config.EmbeddingModel)
	if err != nil {
		return nil, &StageError{Stage: "embed_summary", ErrorType: ErrTypeNoProvider, Err: err}
	}

	summary, err := o.generateSummary(ctx, chat, pub, page)
	if err != nil {
		return nil, err
	}

	summaryEmb, err := o.embed(ctx, embedder, chat, pub, "embed_summary", []string{summary.Summary})
	if err != nil {
		return nil, err
	}
	if err := o.store.SaveSummary(ctx, store.Summary{
		BlogID:    blogID,
		BlogURL:   url,
		Text:      summary.Summary,
		KeyPoints: summary.KeyPoints,
		Embedding: summaryEmb[0],
	}); err != nil {
		return nil, storeError("persist_summary", err)
	}

	pairs, err := o.generateQuestions(ctx, chat, pub, page)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(pairs))
	for i, p := range pairs {
		texts[i] = p.Question
	}
	questionEmbs, err := o.embed(ctx, embedder, chat, pub, "embed_questions", texts)
	if err != nil {
		return nil, err
	}

	storePairs := make([]store.QAPair, len(pairs))
	for i, p := range pairs {
		storePairs[i] = store.QAPair{Question: p.Question, Answer: p.Answer}
	}
	if err := o.store.SaveQuestions(ctx, blogID, url, storePairs, questionEmbs); err != nil {
		return nil, storeError("persist_questions", err)
	}

	return &Outcome{
		BlogID:         blogID,
		BlogTitle:      page.Title,
		ContentLength:  len(page.Content),
		SummaryLength:  len(summary.Summary),
		QuestionCount:  len(pairs),
		EmbeddingCount: len(questionEmbs) + 1,
	}, nil
}

func (o *Orchestrator) generateSummary(ctx context.Context, chat llm.Client, pub *store.Publisher, page *crawler.Page) (*llm.SummaryResult, error) {
	raw, err := o.chat(ctx, chat, "summary", pub.Config.LLMModel,
		llm.BuildSummaryMessages(page.Title, page.Content, pub.Config.CustomSummaryPrompt))
	if err != nil {
		return nil, err
	}
	summary, err := llm.ParseSummary(raw)
	if err != nil {
		return nil, &StageError{Stage: "summary", ErrorType: ErrTypeLLMParse, Retryable: true, Err: err}
	}
	return summary, nil
}

func (o *Orchestrator) generateQuestions(ctx context.Context, chat llm.Client, pub *store.Publisher, page *crawler.Page) ([]llm.QAPair, error) {
	count := pub.Config.QuestionsPerBlog
	if count <= 0 {
		count = 5
	}
	raw, err := o.chat(ctx, chat, "questions", pub.Config.LLMModel,
		llm.BuildQuestionMessages(page.Title, page.Content, count, pub.Config.CustomQuestionPrompt))
	if err != nil {
		return nil, err
	}
	pairs, err := llm.ParseQuestions(raw)
	if err != nil {
		return nil, &StageError{Stage: "questions", ErrorType: ErrTypeLLMParse, Retryable: true, Err: err}
	}
	return pairs, nil
}

// chat runs one completion behind the circuit breaker, recording the outcome.
func (o *Orchestrator) chat(ctx context.Context, client llm.Client, stage, model string, msgs []llm.Message) (string, error) {
	if !o.breaker.Allow() {
		return "", &StageError{Stage: stage, ErrorType: ErrTypeBreaker, Retryable: true,
			Err: fmt.Errorf("llm circuit open for %s", client.ID())}
	}
	start := time.Now()
	raw, err := client.Chat(ctx, model, msgs)
	if err != nil {
		o.breaker.RecordFailure()
		o.recordCall(client.ID(), start, err)
		return "", llmError(client, stage, err)
	}
	o.breaker.RecordSuccess()
	o.recordCall(client.ID(), start, nil)
	return raw, nil
}

// embed generates embeddings behind the circuit breaker. The chat client is
// only used for error classification; embeddings ride the same provider.
func (o *Orchestrator) embed(ctx context.Context, embedder llm.Embedder, classifier llm.Client, pub *store.Publisher, stage string, inputs []string) ([][]float64, error) {
	if !o.breaker.Allow() {
		return nil, &StageError{Stage: stage, ErrorType: ErrTypeBreaker, Retryable: true,
			Err: fmt.Errorf("llm circuit open")}
	}
	start := time.Now()
	embs, err := embedder.Embed(ctx, pub.Config.EmbeddingModel, inputs)
	if err != nil {
		o.breaker.RecordFailure()
		o.recordCall(classifier.ID(), start, err)
		return nil, llmError(classifier, stage, err)
	}
	o.breaker.RecordSuccess()
	o.recordCall(classifier.ID(), start, nil)
	if len(embs) != len(inputs) {
		return nil, &StageError{Stage: stage, ErrorType: ErrTypeLLM, Retryable: true,
			Err: fmt.Errorf("provider returned %d embeddings for %d inputs", len(embs), len(inputs))}
	}
	return embs, nil
}

// recordCall feeds the metrics counter and the health tracker for one
// provider round-trip.
func (o *Orchestrator) recordCall(provider string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	if o.metrics != nil {
		o.metrics.LLMCallsTotal.WithLabelValues(provider, result).Inc()
	}
	if o.health != nil {
		if err != nil {
			o.health.RecordError(provider, err.Error())
		} else {
			o.health.RecordSuccess(provider, float64(time.Since(start).Milliseconds()))
		}
	}
}

func crawlError(err error) *StageError {
	var ce *crawler.Error
	if errors.As(err, &ce) {
		return &StageError{Stage: "crawl", ErrorType: ce.Type, Retryable: ce.Retryable, Err: err}
	}
	return &StageError{Stage: "crawl", ErrorType: crawler.ErrTypeNetwork, Retryable: true, Err: err}
}

func llmError(client llm.Client, stage string, err error) *StageError {
	classified := client.ClassifyError(err)
	return &StageError{
		Stage:     stage,
		ErrorType: ErrTypeLLM,
		Retryable: classified.Retryable(),
		Err:       classified,
	}
}

func storeError(stage string, err error) *StageError {
	return &StageError{Stage: stage, ErrorType: ErrTypeStore, Retryable: true, Err: err}
}
