package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const selectRecord = `
	SELECT id, source_type, source_id, provider, customer_tax_id, invoice_number, status, provider_document_id,
	       attempt_count, last_error, created_at, updated_at
	FROM processing_records`

const selectRetryTask = `
	SELECT id, record_id, source_id, provider, next_eligible_at,
	       attempt_count, max_attempts, last_error, created_at
	FROM retry_tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec                  Record
		taxID, number        sql.NullString
		docID, lastErr       sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(&rec.ID, &rec.SourceType, &rec.SourceID, &rec.Provider, &taxID, &number, &rec.Status, &docID,
		&rec.AttemptCount, &lastErr, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("scan record: %w", err)
	}
	rec.CustomerTaxID = taxID.String
	rec.InvoiceNumber = number.String
	rec.ProviderDocumentID = docID.String
	rec.LastError = lastErr.String
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

func scanRetryTask(row rowScanner) (RetryTask, error) {
	var (
		task            RetryTask
		lastErr         sql.NullString
		next, createdAt int64
	)
	err := row.Scan(&task.ID, &task.RecordID, &task.SourceID, &task.Provider, &next,
		&task.AttemptCount, &task.MaxAttempts, &lastErr, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RetryTask{}, ErrNotFound
	}
	if err != nil {
		return RetryTask{}, fmt.Errorf("scan retry task: %w", err)
	}
	task.LastError = lastErr.String
	task.NextEligibleAt = fromMillis(next)
	task.CreatedAt = fromMillis(createdAt)
	return task, nil
}

// GetRecord returns the record with the given id.
func (s *Store) GetRecord(ctx context.Context, id string) (Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id))
}

// FindRecord returns the record for (sourceID, provider).
func (s *Store) FindRecord(ctx context.Context, sourceID, provider string) (Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx, selectRecord+` WHERE source_id = ? AND provider = ?`, sourceID, provider))
}

// FindRecordByProviderDocument returns the record a provider document id was
// issued for.
func (s *Store) FindRecordByProviderDocument(ctx context.Context, provider, providerDocumentID string) (Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx, selectRecord+` WHERE provider = ? AND provider_document_id = ?`, provider, providerDocumentID))
}

// RecordFilter narrows ListRecords. Zero fields match everything.
type RecordFilter struct {
	Status   Status
	Provider string

	// AwaitingProvider selects processing records that already carry a
	// provider document id, i.e. uploads waiting for the provider's verdict.
	AwaitingProvider bool

	Limit int
}

// ListRecords returns records ordered by last update, oldest first.
func (s *Store) ListRecords(ctx context.Context, f RecordFilter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, f.Provider)
	}
	if f.AwaitingProvider {
		where = append(where, "status = ?", "provider_document_id IS NOT NULL")
		args = append(args, StatusProcessing)
	}

	query := selectRecord
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at ASC, id COLLATE BINARY ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// GetRetryTask returns the retry task with the given id.
func (s *Store) GetRetryTask(ctx context.Context, id string) (RetryTask, error) {
	return scanRetryTask(s.db.QueryRowContext(ctx, selectRetryTask+` WHERE id = ?`, id))
}

// RetryTaskForRecord returns the retry task owned by recordID.
func (s *Store) RetryTaskForRecord(ctx context.Context, recordID string) (RetryTask, error) {
	return scanRetryTask(s.db.QueryRowContext(ctx, selectRetryTask+` WHERE record_id = ?`, recordID))
}

// ListRetryTasks returns every queued retry ordered by eligibility.
func (s *Store) ListRetryTasks(ctx context.Context) ([]RetryTask, error) {
	return s.queryRetryTasks(ctx, selectRetryTask+` ORDER BY next_eligible_at ASC, id COLLATE BINARY ASC`)
}

// DueRetryTasks returns up to limit tasks whose next_eligible_at is not after now.
func (s *Store) DueRetryTasks(ctx context.Context, now time.Time, limit int) ([]RetryTask, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryRetryTasks(ctx, selectRetryTask+`
		WHERE next_eligible_at <= ?
		ORDER BY next_eligible_at ASC, id COLLATE BINARY ASC
		LIMIT ?`, toMillis(now), limit)
}

func (s *Store) queryRetryTasks(ctx context.Context, query string, args ...any) ([]RetryTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query retry tasks: %w", err)
	}
	defer rows.Close()

	tasks := []RetryTask{}
	for rows.Next() {
		task, err := scanRetryTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate retry tasks: %w", err)
	}
	return tasks, nil
}

// ListEvents returns the audit trail of a record in append order.
func (s *Store) ListEvents(ctx context.Context, recordID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, record_id, action, result, detail, occurred_at
		FROM processing_events
		WHERE record_id = ?
		ORDER BY seq ASC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			ev Event
			at int64
		)
		if err := rows.Scan(&ev.Seq, &ev.RecordID, &ev.Action, &ev.Result, &ev.Detail, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.OccurredAt = fromMillis(at)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// ListDocuments returns the documents generated for a record, newest first.
// Content is included.
func (s *Store) ListDocuments(ctx context.Context, recordID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_id, provider, number, checksum, size, content, created_at
		FROM documents
		WHERE record_id = ?
		ORDER BY id DESC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var (
			d  Document
			at int64
		)
		if err := rows.Scan(&d.ID, &d.RecordID, &d.Provider, &d.Number, &d.Checksum, &d.Size, &d.Content, &at); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.CreatedAt = fromMillis(at)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// Stats aggregates the ledger by status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByStatus: map[Status]int{
		StatusPending:         0,
		StatusProcessing:      0,
		StatusCompleted:       0,
		StatusFailedRetryable: 0,
		StatusFailedPermanent: 0,
	}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(attempt_count), 0)
		FROM processing_records
		GROUP BY status
	`)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	var attempts int
	for rows.Next() {
		var (
			status Status
			n, a   int
		)
		if err := rows.Scan(&status, &n, &a); err != nil {
			return Stats{}, fmt.Errorf("stats: scan: %w", err)
		}
		st.ByStatus[status] = n
		st.Total += n
		attempts += a
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("stats: iterate: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM retry_tasks`).Scan(&st.PendingRetries); err != nil {
		return Stats{}, fmt.Errorf("stats: retry tasks: %w", err)
	}

	if st.Total > 0 {
		st.AverageAttempts = float64(attempts) / float64(st.Total)
		st.SuccessRate = float64(st.ByStatus[StatusCompleted]) / float64(st.Total)
	}
	return st, nil
}
