package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NewRecord describes the ledger row created on the first request for a
// (source_id, provider) pair.
type NewRecord struct {
	ID         string
	SourceType string
	SourceID   string
	Provider   string

	// CustomerTaxID and InvoiceNumber are the caller-supplied parts of the
	// request, kept so scheduled retries can rebuild the same document.
	CustomerTaxID string
	InvoiceNumber string

	Now time.Time
}

// EnsureRecord returns the record for (SourceID, Provider), creating it in
// status pending when absent. created reports whether this call inserted it.
//
// Uses INSERT ... ON CONFLICT DO NOTHING plus a read-back inside one
// transaction, so concurrent callers all observe the same row.
func (s *Store) EnsureRecord(ctx context.Context, nr NewRecord) (rec Record, created bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, false, fmt.Errorf("ensure record: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	now := toMillis(nr.Now)
	result, err := tx.ExecContext(ctx, `
		INSERT INTO processing_records
		(id, source_type, source_id, provider, customer_tax_id, invoice_number, status, attempt_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(source_id, provider) DO NOTHING
	`, nr.ID, nr.SourceType, nr.SourceID, nr.Provider, nullString(nr.CustomerTaxID), nullString(nr.InvoiceNumber), StatusPending, now, now)
	if err != nil {
		return Record{}, false, fmt.Errorf("ensure record: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return Record{}, false, fmt.Errorf("ensure record: rows affected: %w", err)
	}
	created = rowsAffected > 0

	rec, err = scanRecord(tx.QueryRowContext(ctx, selectRecord+` WHERE source_id = ? AND provider = ?`, nr.SourceID, nr.Provider))
	if err != nil {
		return Record{}, false, fmt.Errorf("ensure record: read back: %w", err)
	}

	if created {
		if err := insertEvent(ctx, tx, rec.ID, EventInput{Action: ActionCreated, Result: ResultSuccess}, nr.Now); err != nil {
			return Record{}, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Record{}, false, fmt.Errorf("ensure record: commit: %w", err)
	}
	return rec, created, nil
}

// Transition moves a record between statuses.
type Transition struct {
	RecordID string

	// From lists the statuses the record must currently be in.
	From []Status
	To   Status
	Now  time.Time

	IncrementAttempts bool
	ResetAttempts     bool

	// ProviderDocumentID, CustomerTaxID and InvoiceNumber are stored when
	// non-empty.
	ProviderDocumentID string
	CustomerTaxID      string
	InvoiceNumber      string

	// LastError replaces last_error when non-nil; an empty string clears it.
	LastError *string

	// Retry schedules the record's retry task and is required when To is
	// failed_retryable. For any other target the task is removed.
	Retry *RetrySchedule

	Event EventInput
}

// RetrySchedule is the retry-task data written alongside a failed_retryable
// transition.
type RetrySchedule struct {
	TaskID         string
	NextEligibleAt time.Time
	MaxAttempts    int
}

// Transition applies t atomically: the conditional status update, the
// retry-task write and the audit event either all happen or none do.
//
// Returns ErrConflict (wrapped) when the record is not in one of t.From,
// and ErrNotFound when it does not exist.
func (s *Store) Transition(ctx context.Context, t Transition) (Record, error) {
	if len(t.From) == 0 {
		return Record{}, fmt.Errorf("transition: no source status given")
	}
	for _, from := range t.From {
		if !CanTransition(from, t.To) {
			return Record{}, fmt.Errorf("transition: %s -> %s is not allowed", from, t.To)
		}
	}
	if t.To == StatusFailedRetryable && t.Retry == nil {
		return Record{}, fmt.Errorf("transition: failed_retryable requires a retry schedule")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("transition: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{t.To, toMillis(t.Now)}
	switch {
	case t.ResetAttempts:
		sets = append(sets, "attempt_count = 0")
	case t.IncrementAttempts:
		sets = append(sets, "attempt_count = attempt_count + 1")
	}
	if t.ProviderDocumentID != "" {
		sets = append(sets, "provider_document_id = ?")
		args = append(args, t.ProviderDocumentID)
	}
	if t.CustomerTaxID != "" {
		sets = append(sets, "customer_tax_id = ?")
		args = append(args, t.CustomerTaxID)
	}
	if t.InvoiceNumber != "" {
		sets = append(sets, "invoice_number = ?")
		args = append(args, t.InvoiceNumber)
	}
	if t.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, nullString(*t.LastError))
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.From)), ", ")
	args = append(args, t.RecordID)
	for _, from := range t.From {
		args = append(args, from)
	}

	query := fmt.Sprintf(
		"UPDATE processing_records SET %s WHERE id = ? AND status IN (%s)",
		strings.Join(sets, ", "), placeholders,
	)
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return Record{}, fmt.Errorf("transition: update: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return Record{}, fmt.Errorf("transition: rows affected: %w", err)
	}

	if rowsAffected == 0 {
		var current Status
		err := tx.QueryRowContext(ctx, `SELECT status FROM processing_records WHERE id = ?`, t.RecordID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("transition %s: %w", t.RecordID, ErrNotFound)
		}
		if err != nil {
			return Record{}, fmt.Errorf("transition: read status: %w", err)
		}
		return Record{}, fmt.Errorf("transition %s to %s: %w (current status %s)", t.RecordID, t.To, ErrConflict, current)
	}

	rec, err := scanRecord(tx.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, t.RecordID))
	if err != nil {
		return Record{}, fmt.Errorf("transition: read back: %w", err)
	}

	if t.To == StatusFailedRetryable {
		if err := upsertRetryTask(ctx, tx, rec, *t.Retry, t.Now); err != nil {
			return Record{}, err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `DELETE FROM retry_tasks WHERE record_id = ?`, rec.ID); err != nil {
			return Record{}, fmt.Errorf("transition: delete retry task: %w", err)
		}
	}

	if t.Event.Action != "" {
		if err := insertEvent(ctx, tx, rec.ID, t.Event, t.Now); err != nil {
			return Record{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("transition: commit: %w", err)
	}
	return rec, nil
}

func upsertRetryTask(ctx context.Context, tx *sql.Tx, rec Record, rs RetrySchedule, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO retry_tasks
		(id, record_id, source_id, provider, next_eligible_at, attempt_count, max_attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			next_eligible_at = excluded.next_eligible_at,
			attempt_count    = excluded.attempt_count,
			max_attempts     = excluded.max_attempts,
			last_error       = excluded.last_error
	`,
		rs.TaskID,
		rec.ID,
		rec.SourceID,
		rec.Provider,
		toMillis(rs.NextEligibleAt),
		rec.AttemptCount,
		rs.MaxAttempts,
		nullString(rec.LastError),
		toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("transition: upsert retry task: %w", err)
	}
	return nil
}

// AppendEvent records an audit event that does not change the record status.
func (s *Store) AppendEvent(ctx context.Context, recordID string, ev EventInput, now time.Time) error {
	if err := insertEvent(ctx, s.db, recordID, ev, now); err != nil {
		return err
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, recordID string, ev EventInput, now time.Time) error {
	result := ev.Result
	if result == "" {
		result = ResultSuccess
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO processing_events (record_id, action, result, detail, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, recordID, ev.Action, result, ev.Detail, toMillis(now))
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.Action, err)
	}
	return nil
}

// SaveDocument stores a generated document. A document with the same
// checksum already stored for the record is not duplicated; inserted reports
// whether a new row was written.
func (s *Store) SaveDocument(ctx context.Context, d Document) (inserted bool, err error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (record_id, provider, number, checksum, size, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id, checksum) DO NOTHING
	`, d.RecordID, d.Provider, d.Number, d.Checksum, len(d.Content), d.Content, toMillis(d.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("save document: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save document: rows affected: %w", err)
	}
	return n > 0, nil
}
