package store

import (
	"context"
	"database/sql"
)

// AppendAudit inserts one audit entry. The audit trail is insert-only: no
// update or delete operation exists, and the processing path never reads it.
func (s *SQLiteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (
			url, publisher_id, job_id, worker_id, status, attempt_number,
			started_at, completed_at, processing_time_seconds,
			question_count, summary_length, embedding_count,
			error_message, error_type, error_stack_trace,
			blog_title, content_length, llm_model, embedding_model,
			publisher_config, is_reprocess, reprocess_reason
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.URL, e.PublisherID, e.JobID, e.WorkerID, e.Status, e.AttemptNumber,
		fmtTime(e.StartedAt), fmtTime(e.CompletedAt), e.ProcessingTimeSecs,
		e.QuestionCount, e.SummaryLength, e.EmbeddingCount,
		e.ErrorMessage, e.ErrorType, e.ErrorStackTrace,
		e.BlogTitle, e.ContentLength, e.LLMModel, e.EmbeddingModel,
		e.PublisherConfigJSON, boolInt(e.IsReprocess), e.ReprocessReason)
	return err
}

// ListAudit returns audit entries matching the filter, newest first.
// Reporting only; never consulted on the processing path.
func (s *SQLiteStore) ListAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	q := `SELECT id, url, publisher_id, job_id, worker_id, status, attempt_number,
			started_at, completed_at, processing_time_seconds,
			question_count, summary_length, embedding_count,
			error_message, error_type, error_stack_trace,
			blog_title, content_length, llm_model, embedding_model,
			publisher_config, is_reprocess, reprocess_reason
		 FROM audit_log WHERE 1=1`
	var args []any
	if f.URL != "" {
		q += ` AND url = ?`
		args = append(args, f.URL)
	}
	if f.PublisherID != "" {
		q += ` AND publisher_id = ?`
		args = append(args, f.PublisherID)
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.JobID != "" {
		q += ` AND job_id = ?`
		args = append(args, f.JobID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanAuditEntry(rows *sql.Rows) (*AuditEntry, error) {
	var e AuditEntry
	var startedAt, completedAt string
	var isReprocess int
	err := rows.Scan(&e.ID, &e.URL, &e.PublisherID, &e.JobID, &e.WorkerID, &e.Status, &e.AttemptNumber,
		&startedAt, &completedAt, &e.ProcessingTimeSecs,
		&e.QuestionCount, &e.SummaryLength, &e.EmbeddingCount,
		&e.ErrorMessage, &e.ErrorType, &e.ErrorStackTrace,
		&e.BlogTitle, &e.ContentLength, &e.LLMModel, &e.EmbeddingModel,
		&e.PublisherConfigJSON, &isReprocess, &e.ReprocessReason)
	if err != nil {
		return nil, err
	}
	e.StartedAt = parseTime(startedAt)
	e.CompletedAt = parseTime(completedAt)
	e.IsReprocess = isReprocess != 0
	return &e, nil
}
