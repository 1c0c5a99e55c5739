package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

var testEpoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ensureTestRecord creates a pending record for (sourceID, provider).
func ensureTestRecord(t *testing.T, s *Store, sourceID, provider string) Record {
	t.Helper()
	rec, _, err := s.EnsureRecord(context.Background(), NewRecord{
		ID:         "rec-" + sourceID + "-" + provider,
		SourceType: "platform_invoice",
		SourceID:   sourceID,
		Provider:   provider,
		Now:        testEpoch,
	})
	if err != nil {
		t.Fatalf("EnsureRecord() failed: %v", err)
	}
	return rec
}

// failRetryable drives a fresh record through processing into
// failed_retryable with a task due at next.
func failRetryable(t *testing.T, s *Store, rec Record, next time.Time) Record {
	t.Helper()
	ctx := context.Background()
	if _, err := s.Transition(ctx, Transition{
		RecordID:          rec.ID,
		From:              []Status{StatusPending, StatusFailedRetryable},
		To:                StatusProcessing,
		Now:               testEpoch,
		IncrementAttempts: true,
		Event:             EventInput{Action: ActionSubmitAttempt},
	}); err != nil {
		t.Fatalf("Transition(processing) failed: %v", err)
	}
	msg := "provider unavailable"
	out, err := s.Transition(ctx, Transition{
		RecordID:  rec.ID,
		From:      []Status{StatusProcessing},
		To:        StatusFailedRetryable,
		Now:       testEpoch,
		LastError: &msg,
		Retry:     &RetrySchedule{TaskID: "task-" + rec.ID, NextEligibleAt: next, MaxAttempts: 3},
		Event:     EventInput{Action: ActionSubmitAttempt, Result: ResultError, Detail: msg},
	})
	if err != nil {
		t.Fatalf("Transition(failed_retryable) failed: %v", err)
	}
	return out
}
