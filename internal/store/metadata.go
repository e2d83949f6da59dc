package store

import (
	"context"
	"database/sql"
	"time"
)

// IncrementRequestCount upserts the metadata row for a URL and returns the
// post-increment request count in a single round-trip.
func (s *SQLiteStore) IncrementRequestCount(ctx context.Context, url, publisherID string) (int, error) {
	now := fmtTime(time.Now())
	var count int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO url_metadata (url, request_count, publisher_id, first_requested_at, last_requested_at, created_at, updated_at)
		 VALUES (?, 1, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
			request_count = request_count + 1,
			last_requested_at = excluded.last_requested_at,
			updated_at = excluded.updated_at
		 RETURNING request_count`,
		url, publisherID, now, now, now, now).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetRequestCount returns the current request count for a URL, zero when the
// URL has never been requested. Diagnostics only.
func (s *SQLiteStore) GetRequestCount(ctx context.Context, url string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT request_count FROM url_metadata WHERE url = ?`, url).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}
