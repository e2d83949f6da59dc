package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode, foreign keys, and a busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying sql.DB handle (used by the health endpoint to
// ping the store).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS publishers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			domain TEXT NOT NULL,
			api_key_hash TEXT NOT NULL,
			api_key_prefix TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			is_admin INTEGER NOT NULL DEFAULT 0,
			config TEXT NOT NULL DEFAULT '{}',
			blogs_processed_total INTEGER NOT NULL DEFAULT 0,
			blogs_processed_today INTEGER NOT NULL DEFAULT 0,
			current_day_bucket TEXT NOT NULL DEFAULT '',
			in_flight_reservations INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_publishers_key_prefix ON publishers(api_key_prefix)`,
		`CREATE TABLE IF NOT EXISTS processing_queue (
			url TEXT PRIMARY KEY,
			publisher_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'queued',
			attempt_count INTEGER NOT NULL DEFAULT 0,
			current_job_id TEXT NOT NULL DEFAULT '',
			worker_id TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			error_type TEXT NOT NULL DEFAULT '',
			heartbeat_at TEXT,
			heartbeat_interval_seconds INTEGER NOT NULL DEFAULT 30,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			reprocessed_count INTEGER NOT NULL DEFAULT 0,
			last_reprocessed_at TEXT,
			was_previously_completed INTEGER NOT NULL DEFAULT 0,
			healed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_status_created ON processing_queue(status, created_at, url)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_job_id ON processing_queue(current_job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_publisher ON processing_queue(publisher_id)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL,
			publisher_id TEXT NOT NULL,
			job_id TEXT NOT NULL DEFAULT '',
			worker_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			attempt_number INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			completed_at TEXT NOT NULL,
			processing_time_seconds REAL NOT NULL DEFAULT 0,
			question_count INTEGER NOT NULL DEFAULT 0,
			summary_length INTEGER NOT NULL DEFAULT 0,
			embedding_count INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			error_type TEXT NOT NULL DEFAULT '',
			error_stack_trace TEXT NOT NULL DEFAULT '',
			blog_title TEXT NOT NULL DEFAULT '',
			content_length INTEGER NOT NULL DEFAULT 0,
			llm_model TEXT NOT NULL DEFAULT '',
			embedding_model TEXT NOT NULL DEFAULT '',
			publisher_config TEXT NOT NULL DEFAULT '',
			is_reprocess INTEGER NOT NULL DEFAULT 0,
			reprocess_reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_url ON audit_log(url, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_publisher ON audit_log(publisher_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_status ON audit_log(status)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_job ON audit_log(job_id)`,
		`CREATE TABLE IF NOT EXISTS url_metadata (
			url TEXT PRIMARY KEY,
			request_count INTEGER NOT NULL DEFAULT 0,
			publisher_id TEXT NOT NULL,
			first_requested_at TEXT NOT NULL,
			last_requested_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS blogs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			word_count INTEGER NOT NULL DEFAULT 0,
			crawled_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			blog_id INTEGER NOT NULL,
			blog_url TEXT NOT NULL,
			summary_text TEXT NOT NULL,
			key_points TEXT NOT NULL DEFAULT '[]',
			embedding TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_blog ON summaries(blog_id)`,
		`CREATE TABLE IF NOT EXISTS questions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			blog_id INTEGER NOT NULL,
			blog_url TEXT NOT NULL,
			question_text TEXT NOT NULL,
			answer_text TEXT NOT NULL,
			embedding TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_url ON questions(blog_url)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_blog ON questions(blog_id)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Timestamps are stored as RFC 3339 strings in UTC, second precision, so
// that lexicographic ordering and SQLite's julianday() both work on them.

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// DayBucket returns the UTC calendar day used for quota accounting.
func DayBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
