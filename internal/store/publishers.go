package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const publisherCols = `id, name, domain, api_key_hash, api_key_prefix, active, is_admin, config,
	blogs_processed_total, blogs_processed_today, current_day_bucket, in_flight_reservations,
	created_at, updated_at`

func (s *SQLiteStore) CreatePublisher(ctx context.Context, p Publisher) error {
	cfg, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("marshal publisher config: %w", err)
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO publishers (`+publisherCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Domain, p.APIKeyHash, p.APIKeyPrefix, boolInt(p.Active), boolInt(p.IsAdmin), string(cfg),
		p.Usage.BlogsProcessedTotal, p.Usage.BlogsProcessedToday, p.Usage.CurrentDayBucket, p.Usage.InFlightReservations,
		fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt))
	return err
}

func (s *SQLiteStore) GetPublisherByID(ctx context.Context, id string) (*Publisher, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+publisherCols+` FROM publishers WHERE id = ?`, id)
	return scanPublisher(row)
}

// GetPublishersByKeyPrefix returns the active publishers whose API key prefix
// matches. The auth layer bcrypt-compares against each candidate.
func (s *SQLiteStore) GetPublishersByKeyPrefix(ctx context.Context, prefix string) ([]Publisher, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+publisherCols+` FROM publishers WHERE api_key_prefix = ?`, prefix)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectPublishers(rows)
}

func (s *SQLiteStore) ListPublishers(ctx context.Context) ([]Publisher, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+publisherCols+` FROM publishers ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectPublishers(rows)
}

// UpdatePublisher rewrites identity, policy, and status fields. Usage
// counters are untouched: they change only through the slot operations.
func (s *SQLiteStore) UpdatePublisher(ctx context.Context, p Publisher) error {
	cfg, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("marshal publisher config: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE publishers SET name=?, domain=?, active=?, is_admin=?, config=?, updated_at=? WHERE id=?`,
		p.Name, p.Domain, boolInt(p.Active), boolInt(p.IsAdmin), string(cfg), fmtTime(time.Now()), p.ID)
	if err != nil {
		return err
	}
	return oneRowOrNotFound(res)
}

func (s *SQLiteStore) UpdatePublisherKey(ctx context.Context, id, keyHash, keyPrefix string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE publishers SET api_key_hash=?, api_key_prefix=?, updated_at=? WHERE id=?`,
		keyHash, keyPrefix, fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	return oneRowOrNotFound(res)
}

// DeletePublisher removes a publisher record. It refuses while any queue
// entry still references the publisher.
func (s *SQLiteStore) DeletePublisher(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var refs int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processing_queue WHERE publisher_id = ?`, id).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return ErrPublisherReferenced
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM publishers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := oneRowOrNotFound(res); err != nil {
		return err
	}
	return tx.Commit()
}

// ReserveBlogSlot admits one blog against the publisher's daily limit. The
// day-bucket rollover and the admission check run in a single conditional
// update so midnight cannot double-credit a publisher.
func (s *SQLiteStore) ReserveBlogSlot(ctx context.Context, publisherID, day string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE publishers SET
			blogs_processed_today = CASE WHEN current_day_bucket = ?1 THEN blogs_processed_today ELSE 0 END,
			current_day_bucket = ?1,
			in_flight_reservations = in_flight_reservations + 1,
			updated_at = ?2
		 WHERE id = ?3
		   AND (CASE WHEN current_day_bucket = ?1 THEN blogs_processed_today ELSE 0 END)
		       + in_flight_reservations
		       < CAST(json_extract(config, '$.daily_blog_limit') AS INTEGER)`,
		day, fmtTime(time.Now()), publisherID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	// Distinguish a missing publisher from an exhausted quota.
	p, err := s.GetPublisherByID(ctx, publisherID)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrNotFound
	}
	return ErrUsageLimitExceeded
}

// ReleaseBlogSlot returns a reservation. With processed=true the blog counts
// against today's quota and the lifetime total; otherwise only the
// reservation is dropped.
func (s *SQLiteStore) ReleaseBlogSlot(ctx context.Context, publisherID string, processed bool) error {
	inc := 0
	if processed {
		inc = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE publishers SET
			in_flight_reservations = CASE WHEN in_flight_reservations > 0 THEN in_flight_reservations - 1 ELSE 0 END,
			blogs_processed_today = blogs_processed_today + ?1,
			blogs_processed_total = blogs_processed_total + ?1,
			updated_at = ?2
		 WHERE id = ?3`,
		inc, fmtTime(time.Now()), publisherID)
	if err != nil {
		return err
	}
	return oneRowOrNotFound(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPublisher(row rowScanner) (*Publisher, error) {
	var p Publisher
	var active, isAdmin int
	var cfg, createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Name, &p.Domain, &p.APIKeyHash, &p.APIKeyPrefix, &active, &isAdmin, &cfg,
		&p.Usage.BlogsProcessedTotal, &p.Usage.BlogsProcessedToday, &p.Usage.CurrentDayBucket, &p.Usage.InFlightReservations,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cfg), &p.Config); err != nil {
		return nil, fmt.Errorf("unmarshal publisher config: %w", err)
	}
	p.Active = active != 0
	p.IsAdmin = isAdmin != 0
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func collectPublishers(rows *sql.Rows) ([]Publisher, error) {
	var out []Publisher
	for rows.Next() {
		p, err := scanPublisher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func oneRowOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
