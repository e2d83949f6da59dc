package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const queueCols = `url, publisher_id, status, attempt_count, current_job_id, worker_id,
	last_error, error_type, heartbeat_at, heartbeat_interval_seconds,
	created_at, updated_at, started_at, completed_at,
	reprocessed_count, last_reprocessed_at, was_previously_completed, healed`

// GetOrCreateQueueEntry inserts a queued entry for the URL, or returns the
// existing one when the unique key loses the race. The bool reports whether
// a new entry was created.
func (s *SQLiteStore) GetOrCreateQueueEntry(ctx context.Context, url, publisherID, jobID string) (*QueueEntry, bool, error) {
	now := fmtTime(time.Now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO processing_queue (url, publisher_id, status, current_job_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO NOTHING`,
		url, publisherID, StatusQueued, jobID, now, now)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	entry, err := s.GetQueueEntry(ctx, url)
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		return nil, false, fmt.Errorf("queue entry for %s vanished after upsert", url)
	}
	return entry, n == 1, nil
}

func (s *SQLiteStore) GetQueueEntry(ctx context.Context, url string) (*QueueEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queueCols+` FROM processing_queue WHERE url = ?`, url)
	return scanQueueEntry(row)
}

func (s *SQLiteStore) GetQueueEntryByJobID(ctx context.Context, jobID string) (*QueueEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queueCols+` FROM processing_queue WHERE current_job_id = ?`, jobID)
	return scanQueueEntry(row)
}

// TransitionQueueEntry performs a conditional status transition. It returns
// the updated entry, or nil when the precondition did not hold (the entry is
// missing or its status is not `from`). Terminal transitions stamp
// completed_at.
func (s *SQLiteStore) TransitionQueueEntry(ctx context.Context, url string, from, to Status, upd TransitionUpdate) (*QueueEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	q := `UPDATE processing_queue SET status=?, updated_at=?`
	args := []any{to, fmtTime(now)}
	if upd.LastError != "" {
		q += `, last_error=?, error_type=?`
		args = append(args, upd.LastError, upd.ErrorType)
	}
	if upd.ClearWorker {
		q += `, worker_id='', heartbeat_at=NULL`
	}
	if upd.Healed {
		q += `, healed=1`
	}
	if to.Terminal() {
		q += `, completed_at=?`
		args = append(args, fmtTime(now))
	}
	if to == StatusCompleted {
		q += `, was_previously_completed=1, last_error='', error_type=''`
	}
	q += ` WHERE url=? AND status=?`
	args = append(args, url, from)

	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	entry, err := scanQueueEntry(tx.QueryRowContext(ctx,
		`SELECT `+queueCols+` FROM processing_queue WHERE url = ?`, url))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// RequeueFailed moves a failed entry back to queued for another processing
// cycle. It clears error state and timestamps, bumps reprocessed_count, and
// optionally resets attempt_count. Returns nil when the entry is not failed.
func (s *SQLiteStore) RequeueFailed(ctx context.Context, url string, resetAttempts bool, newJobID string) (*QueueEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := fmtTime(time.Now())
	q := `UPDATE processing_queue SET
			status=?, current_job_id=?, worker_id='', last_error='', error_type='',
			heartbeat_at=NULL, started_at=NULL, completed_at=NULL, healed=0,
			reprocessed_count=reprocessed_count+1, last_reprocessed_at=?, updated_at=?`
	args := []any{StatusQueued, newJobID, now, now}
	if resetAttempts {
		q += `, attempt_count=0`
	}
	q += ` WHERE url=? AND status=?`
	args = append(args, url, StatusFailed)

	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	entry, err := scanQueueEntry(tx.QueryRowContext(ctx,
		`SELECT `+queueCols+` FROM processing_queue WHERE url = ?`, url))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// LeaseQueueEntry atomically hands the oldest queued or retry entry to the
// worker: status becomes processing, attempt_count is incremented, and
// started_at/heartbeat_at are stamped. FIFO by created_at with URL as the
// deterministic tiebreak. Returns nil when the queue is empty.
//
// The select and update run inside one transaction; together with SQLite's
// single-writer discipline this makes the lease single-winner.
func (s *SQLiteStore) LeaseQueueEntry(ctx context.Context, workerID string) (*QueueEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var url string
	err = tx.QueryRowContext(ctx,
		`SELECT url FROM processing_queue
		 WHERE status IN (?, ?)
		 ORDER BY created_at ASC, url ASC
		 LIMIT 1`, StatusQueued, StatusRetry).Scan(&url)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := fmtTime(time.Now())
	res, err := tx.ExecContext(ctx,
		`UPDATE processing_queue SET
			status=?, worker_id=?, attempt_count=attempt_count+1,
			started_at=?, heartbeat_at=?, completed_at=NULL, updated_at=?
		 WHERE url=? AND status IN (?, ?)`,
		StatusProcessing, workerID, now, now, now, url, StatusQueued, StatusRetry)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Another worker won between the select and the update.
		return nil, nil
	}
	entry, err := scanQueueEntry(tx.QueryRowContext(ctx,
		`SELECT `+queueCols+` FROM processing_queue WHERE url = ?`, url))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// Heartbeat refreshes heartbeat_at for an entry the worker still owns.
// Returns false when the entry is no longer processing under this worker.
func (s *SQLiteStore) Heartbeat(ctx context.Context, url, workerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE processing_queue SET heartbeat_at=?, updated_at=?
		 WHERE url=? AND worker_id=? AND status=?`,
		fmtTime(time.Now()), fmtTime(time.Now()), url, workerID, StatusProcessing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkHealed flags an entry whose stored questions were found missing after a
// completed run and that has been requeued to regenerate them.
func (s *SQLiteStore) MarkHealed(ctx context.Context, url string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE processing_queue SET healed=1, updated_at=? WHERE url=?`,
		fmtTime(time.Now()), url)
	return err
}

// DeleteIfQueued removes an entry only while it is still queued. Entries a
// worker has leased are never touched.
func (s *SQLiteStore) DeleteIfQueued(ctx context.Context, url string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processing_queue WHERE url=? AND status=?`, url, StatusQueued)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReclaimStale moves processing entries whose heartbeat is older than
// multiplier × heartbeat_interval_seconds back to retry. The abandoning
// worker's later terminal transition fails its status precondition, so no
// double-write can occur.
func (s *SQLiteStore) ReclaimStale(ctx context.Context, now time.Time, multiplier int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE processing_queue SET
			status=?, worker_id='', heartbeat_at=NULL,
			last_error='heartbeat expired; worker presumed lost', error_type='WORKER_LOST',
			updated_at=?
		 WHERE status=?
		   AND heartbeat_at IS NOT NULL
		   AND julianday(heartbeat_at) < julianday(?) - (heartbeat_interval_seconds * ?) / 86400.0`,
		StatusRetry, fmtTime(now), StatusProcessing, fmtTime(now), multiplier)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) CountQueueByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM processing_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[Status]int)
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

func scanQueueEntry(row rowScanner) (*QueueEntry, error) {
	var e QueueEntry
	var heartbeatAt, startedAt, completedAt, lastReprocessedAt sql.NullString
	var createdAt, updatedAt string
	var wasCompleted, healed int
	err := row.Scan(&e.URL, &e.PublisherID, &e.Status, &e.AttemptCount, &e.CurrentJobID, &e.WorkerID,
		&e.LastError, &e.ErrorType, &heartbeatAt, &e.HeartbeatIntervalSecs,
		&createdAt, &updatedAt, &startedAt, &completedAt,
		&e.ReprocessedCount, &lastReprocessedAt, &wasCompleted, &healed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.HeartbeatAt = parseTimePtr(heartbeatAt)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	e.StartedAt = parseTimePtr(startedAt)
	e.CompletedAt = parseTimePtr(completedAt)
	e.LastReprocessedAt = parseTimePtr(lastReprocessedAt)
	e.WasPreviouslyCompleted = wasCompleted != 0
	e.Healed = healed != 0
	return &e, nil
}
