// Package store defines the persistence layer for quizhub: publishers with
// quota counters, the per-URL processing queue, the append-only audit trail,
// URL request metadata, and crawled content with generated summaries and
// questions.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("not found")

// ErrUsageLimitExceeded is returned by ReserveBlogSlot when a publisher's
// daily blog limit would be exceeded.
var ErrUsageLimitExceeded = errors.New("daily blog limit exceeded")

// ErrPublisherReferenced is returned when deleting a publisher that still
// owns queue entries.
var ErrPublisherReferenced = errors.New("publisher still referenced by queue entries")

// Status is the processing state of a queue entry.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusRetry      Status = "retry"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status ends a processing attempt cycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DefaultHeartbeatIntervalSecs is the heartbeat interval assigned to new
// queue entries.
const DefaultHeartbeatIntervalSecs = 30

// PublisherConfig holds per-publisher processing policy.
type PublisherConfig struct {
	DailyBlogLimit         int      `json:"daily_blog_limit"`
	WhitelistedURLPatterns []string `json:"whitelisted_url_patterns,omitempty"`
	LLMModel               string   `json:"llm_model"`
	EmbeddingModel         string   `json:"embedding_model"`
	QuestionsPerBlog       int      `json:"questions_per_blog"`
	RequestThreshold       int      `json:"request_threshold"`
	CustomQuestionPrompt   string   `json:"custom_question_prompt,omitempty"`
	CustomSummaryPrompt    string   `json:"custom_summary_prompt,omitempty"`
}

// PublisherUsage holds a publisher's quota counters. Counters are mutated
// only through ReserveBlogSlot and ReleaseBlogSlot.
type PublisherUsage struct {
	BlogsProcessedTotal  int64  `json:"blogs_processed_total"`
	BlogsProcessedToday  int    `json:"blogs_processed_today"`
	CurrentDayBucket     string `json:"current_day_bucket"` // YYYY-MM-DD, UTC
	InFlightReservations int    `json:"in_flight_reservations"`
}

// Publisher is a widget customer: identity, policy, and usage counters.
type Publisher struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Domain       string          `json:"domain"` // normalized primary domain
	APIKeyHash   string          `json:"-"`
	APIKeyPrefix string          `json:"-"`
	Active       bool            `json:"active"`
	IsAdmin      bool            `json:"is_admin"`
	Config       PublisherConfig `json:"config"`
	Usage        PublisherUsage  `json:"usage"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// QueueEntry is the single row per normalized URL tracking processing state.
type QueueEntry struct {
	URL                    string     `json:"url"`
	PublisherID            string     `json:"publisher_id"`
	Status                 Status     `json:"status"`
	AttemptCount           int        `json:"attempt_count"`
	CurrentJobID           string     `json:"current_job_id,omitempty"`
	WorkerID               string     `json:"worker_id,omitempty"`
	LastError              string     `json:"last_error,omitempty"`
	ErrorType              string     `json:"error_type,omitempty"`
	HeartbeatAt            *time.Time `json:"heartbeat_at,omitempty"`
	HeartbeatIntervalSecs  int        `json:"heartbeat_interval_seconds"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
	StartedAt              *time.Time `json:"started_at,omitempty"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`
	ReprocessedCount       int        `json:"reprocessed_count"`
	LastReprocessedAt      *time.Time `json:"last_reprocessed_at,omitempty"`
	WasPreviouslyCompleted bool       `json:"was_previously_completed"`
	Healed                 bool       `json:"healed"`
}

// TransitionUpdate carries the optional field updates applied together with
// a status transition.
type TransitionUpdate struct {
	LastError   string
	ErrorType   string
	ClearWorker bool
	Healed      bool
}

// AuditEntry is one immutable record of a terminal processing attempt.
type AuditEntry struct {
	ID                  int64     `json:"id"`
	URL                 string    `json:"url"`
	PublisherID         string    `json:"publisher_id"`
	JobID               string    `json:"job_id"`
	WorkerID            string    `json:"worker_id"`
	Status              Status    `json:"status"` // completed or failed
	AttemptNumber       int       `json:"attempt_number"`
	StartedAt           time.Time `json:"started_at"`
	CompletedAt         time.Time `json:"completed_at"`
	ProcessingTimeSecs  float64   `json:"processing_time_seconds"`
	QuestionCount       int       `json:"question_count,omitempty"`
	SummaryLength       int       `json:"summary_length,omitempty"`
	EmbeddingCount      int       `json:"embedding_count,omitempty"`
	ErrorMessage        string    `json:"error_message,omitempty"`
	ErrorType           string    `json:"error_type,omitempty"`
	ErrorStackTrace     string    `json:"error_stack_trace,omitempty"`
	BlogTitle           string    `json:"blog_title,omitempty"`
	ContentLength       int       `json:"content_length,omitempty"`
	LLMModel            string    `json:"llm_model,omitempty"`
	EmbeddingModel      string    `json:"embedding_model,omitempty"`
	PublisherConfigJSON string    `json:"publisher_config,omitempty"`
	IsReprocess         bool      `json:"is_reprocess,omitempty"`
	ReprocessReason     string    `json:"reprocess_reason,omitempty"`
}

// URLMetadata tracks widget demand for a URL before it is enqueued.
type URLMetadata struct {
	URL              string    `json:"url"`
	RequestCount     int       `json:"request_count"`
	PublisherID      string    `json:"publisher_id"`
	FirstRequestedAt time.Time `json:"first_requested_at"`
	LastRequestedAt  time.Time `json:"last_requested_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Blog is one crawled page, keyed by normalized URL.
type Blog struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Author    string    `json:"author,omitempty"`
	Content   string    `json:"content"`
	Language  string    `json:"language,omitempty"`
	WordCount int       `json:"word_count"`
	CrawledAt time.Time `json:"crawled_at"`
}

// Summary is the generated summary of a blog, zero-or-one per blog.
type Summary struct {
	ID        int64     `json:"id"`
	BlogID    int64     `json:"blog_id"`
	BlogURL   string    `json:"blog_url"`
	Text      string    `json:"summary_text"`
	KeyPoints []string  `json:"key_points"`
	Embedding []float64 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Question is one generated question/answer pair with its embedding.
type Question struct {
	ID        int64     `json:"id"`
	BlogID    int64     `json:"blog_id"`
	BlogURL   string    `json:"blog_url"`
	Question  string    `json:"question_text"`
	Answer    string    `json:"answer_text"`
	Embedding []float64 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// QAPair is the question/answer input to SaveQuestions.
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// AuditFilter selects audit entries for the reporting queries. Zero-value
// fields are ignored; results are newest first.
type AuditFilter struct {
	URL         string
	PublisherID string
	Status      Status
	JobID       string
	Limit       int
}

// Store is the persistence interface for quizhub.
type Store interface {
	// Publishers
	CreatePublisher(ctx context.Context, p Publisher) error
	GetPublisherByID(ctx context.Context, id string) (*Publisher, error)
	GetPublishersByKeyPrefix(ctx context.Context, prefix string) ([]Publisher, error)
	ListPublishers(ctx context.Context) ([]Publisher, error)
	UpdatePublisher(ctx context.Context, p Publisher) error
	UpdatePublisherKey(ctx context.Context, id, keyHash, keyPrefix string) error
	DeletePublisher(ctx context.Context, id string) error
	ReserveBlogSlot(ctx context.Context, publisherID, day string) error
	ReleaseBlogSlot(ctx context.Context, publisherID string, processed bool) error

	// Queue
	GetOrCreateQueueEntry(ctx context.Context, url, publisherID, jobID string) (*QueueEntry, bool, error)
	GetQueueEntry(ctx context.Context, url string) (*QueueEntry, error)
	GetQueueEntryByJobID(ctx context.Context, jobID string) (*QueueEntry, error)
	TransitionQueueEntry(ctx context.Context, url string, from, to Status, upd TransitionUpdate) (*QueueEntry, error)
	RequeueFailed(ctx context.Context, url string, resetAttempts bool, newJobID string) (*QueueEntry, error)
	LeaseQueueEntry(ctx context.Context, workerID string) (*QueueEntry, error)
	Heartbeat(ctx context.Context, url, workerID string) (bool, error)
	MarkHealed(ctx context.Context, url string) error
	DeleteIfQueued(ctx context.Context, url string) (bool, error)
	ReclaimStale(ctx context.Context, now time.Time, multiplier int) (int, error)
	CountQueueByStatus(ctx context.Context) (map[Status]int, error)

	// Audit
	AppendAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error)

	// URL metadata
	IncrementRequestCount(ctx context.Context, url, publisherID string) (int, error)
	GetRequestCount(ctx context.Context, url string) (int, error)

	// Content
	SaveBlog(ctx context.Context, b Blog) (int64, error)
	GetBlog(ctx context.Context, url string) (*Blog, error)
	SaveSummary(ctx context.Context, s Summary) error
	GetSummary(ctx context.Context, url string) (*Summary, error)
	SaveQuestions(ctx context.Context, blogID int64, url string, pairs []QAPair, embeddings [][]float64) error
	GetQuestions(ctx context.Context, url string, limit int) ([]Question, error)
	DeleteBlog(ctx context.Context, blogID int64) error

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
