package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SaveBlog inserts a crawled blog and returns its id. Idempotent: a second
// call with the same normalized URL returns the existing id without
// overwriting the stored content.
func (s *SQLiteStore) SaveBlog(ctx context.Context, b Blog) (int64, error) {
	if b.CrawledAt.IsZero() {
		b.CrawledAt = time.Now()
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO blogs (url, title, author, content, language, word_count, crawled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET url = excluded.url
		 RETURNING id`,
		b.URL, b.Title, b.Author, b.Content, b.Language, b.WordCount, fmtTime(b.CrawledAt)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save blog: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetBlog(ctx context.Context, url string) (*Blog, error) {
	var b Blog
	var crawledAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, url, title, author, content, language, word_count, crawled_at
		 FROM blogs WHERE url = ?`, url).
		Scan(&b.ID, &b.URL, &b.Title, &b.Author, &b.Content, &b.Language, &b.WordCount, &crawledAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.CrawledAt = parseTime(crawledAt)
	return &b, nil
}

// SaveSummary stores the summary for a blog, replacing any summary a
// previous run left behind. A URL has at most one live summary.
func (s *SQLiteStore) SaveSummary(ctx context.Context, sum Summary) error {
	keyPoints, err := json.Marshal(sum.KeyPoints)
	if err != nil {
		return fmt.Errorf("marshal key points: %w", err)
	}
	embedding, err := json.Marshal(sum.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM summaries WHERE blog_url = ?`, sum.BlogURL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO summaries (blog_id, blog_url, summary_text, key_points, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sum.BlogID, sum.BlogURL, sum.Text, string(keyPoints), string(embedding), fmtTime(sum.CreatedAt)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetSummary(ctx context.Context, url string) (*Summary, error) {
	var sum Summary
	var keyPoints, embedding, createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, blog_id, blog_url, summary_text, key_points, embedding, created_at
		 FROM summaries WHERE blog_url = ? ORDER BY id DESC LIMIT 1`, url).
		Scan(&sum.ID, &sum.BlogID, &sum.BlogURL, &sum.Text, &keyPoints, &embedding, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(keyPoints), &sum.KeyPoints); err != nil {
		return nil, fmt.Errorf("unmarshal key points: %w", err)
	}
	if err := json.Unmarshal([]byte(embedding), &sum.Embedding); err != nil {
		return nil, fmt.Errorf("unmarshal embedding: %w", err)
	}
	sum.CreatedAt = parseTime(createdAt)
	return &sum, nil
}

// SaveQuestions stores the generated question/answer pairs, replacing any
// earlier generation for the URL so a reprocess never serves a mixed set.
// embeddings may be nil or shorter than pairs; missing entries are stored
// empty.
func (s *SQLiteStore) SaveQuestions(ctx context.Context, blogID int64, url string, pairs []QAPair, embeddings [][]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE blog_url = ?`, url); err != nil {
		return err
	}

	now := fmtTime(time.Now())
	for i, p := range pairs {
		var emb []float64
		if i < len(embeddings) {
			emb = embeddings[i]
		}
		embJSON, err := json.Marshal(emb)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO questions (blog_id, blog_url, question_text, answer_text, embedding, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			blogID, url, p.Question, p.Answer, string(embJSON), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetQuestions returns the stored questions for a URL. limit <= 0 returns
// all of them. Embeddings are not hydrated on this path; the widget never
// needs them.
func (s *SQLiteStore) GetQuestions(ctx context.Context, url string, limit int) ([]Question, error) {
	q := `SELECT id, blog_id, blog_url, question_text, answer_text, created_at
		 FROM questions WHERE blog_url = ? ORDER BY id ASC`
	args := []any{url}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Question
	for rows.Next() {
		var qu Question
		var createdAt string
		if err := rows.Scan(&qu.ID, &qu.BlogID, &qu.BlogURL, &qu.Question, &qu.Answer, &createdAt); err != nil {
			return nil, err
		}
		qu.CreatedAt = parseTime(createdAt)
		out = append(out, qu)
	}
	return out, rows.Err()
}

// DeleteBlog removes a blog and cascades to its summary and questions.
// Admin-only; never runs concurrently with processing for the same blog.
func (s *SQLiteStore) DeleteBlog(ctx context.Context, blogID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE blog_id = ?`, blogID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM summaries WHERE blog_id = ?`, blogID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM blogs WHERE id = ?`, blogID)
	if err != nil {
		return err
	}
	if err := oneRowOrNotFound(res); err != nil {
		return err
	}
	return tx.Commit()
}
