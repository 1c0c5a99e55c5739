package store

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a processing record.
type Status string

const (
	StatusPending         Status = "pending"
	StatusProcessing      Status = "processing"
	StatusCompleted       Status = "completed"
	StatusFailedRetryable Status = "failed_retryable"
	StatusFailedPermanent Status = "failed_permanent"
)

// Terminal reports whether no automatic transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailedPermanent
}

// ParseStatus converts s into a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailedRetryable, StatusFailedPermanent:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// transitions is the ledger state machine. processing -> processing records
// a provider acknowledgement that is not final yet; failed_retryable ->
// failed_retryable pushes the retry task back without a submission.
var transitions = map[Status][]Status{
	StatusPending:         {StatusProcessing, StatusFailedPermanent},
	StatusProcessing:      {StatusProcessing, StatusCompleted, StatusFailedRetryable, StatusFailedPermanent},
	StatusFailedRetryable: {StatusProcessing, StatusFailedRetryable, StatusFailedPermanent},
	StatusFailedPermanent: {StatusPending},
}

// CanTransition reports whether from -> to is a legal ledger transition.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Record is one ledger row per (source_id, provider).
type Record struct {
	ID                 string    `json:"id"`
	SourceType         string    `json:"source_type"`
	SourceID           string    `json:"source_id"`
	Provider           string    `json:"provider"`
	CustomerTaxID      string    `json:"customer_tax_id,omitempty"`
	InvoiceNumber      string    `json:"invoice_number,omitempty"`
	Status             Status    `json:"status"`
	ProviderDocumentID string    `json:"provider_document_id,omitempty"`
	AttemptCount       int       `json:"attempt_count"`
	LastError          string    `json:"last_error,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// RetryTask schedules the next submission of a failed_retryable record.
type RetryTask struct {
	ID             string    `json:"id"`
	RecordID       string    `json:"record_id"`
	SourceID       string    `json:"source_id"`
	Provider       string    `json:"provider"`
	NextEligibleAt time.Time `json:"next_eligible_at"`
	AttemptCount   int       `json:"attempt_count"`
	MaxAttempts    int       `json:"max_attempts"`
	LastError      string    `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Action names an externally observable step in the audit trail.
type Action string

const (
	ActionCreated            Action = "created"
	ActionSubmitAttempt      Action = "submit_attempt"
	ActionRetryAttempt       Action = "retry_attempt"
	ActionManualRetry        Action = "manual_retry"
	ActionManualCancel       Action = "manual_cancel"
	ActionDuplicateSkipped   Action = "duplicate_skipped"
	ActionGenerationFailed   Action = "generation_failed"
	ActionSourceMissing      Action = "source_missing"
	ActionStatusCheck        Action = "status_check"
	ActionDownload           Action = "download"
	ActionRejectedInProgress Action = "rejected_in_progress"
)

// Result is the outcome recorded with an event.
type Result string

const (
	ResultSuccess Result = "success"
	ResultError   Result = "error"
)

// Event is one append-only audit entry.
type Event struct {
	Seq        int64     `json:"seq"`
	RecordID   string    `json:"record_id"`
	Action     Action    `json:"action"`
	Result     Result    `json:"result"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventInput is the part of an Event supplied by callers.
type EventInput struct {
	Action Action
	Result Result
	Detail string
}

// Document is a generated document persisted for audit and resubmission.
type Document struct {
	ID        int64     `json:"id"`
	RecordID  string    `json:"record_id"`
	Provider  string    `json:"provider"`
	Number    string    `json:"number"`
	Checksum  string    `json:"checksum"`
	Size      int       `json:"size"`
	Content   []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats summarizes the ledger.
type Stats struct {
	Total           int            `json:"total"`
	ByStatus        map[Status]int `json:"by_status"`
	PendingRetries  int            `json:"pending_retries"`
	AverageAttempts float64        `json:"average_attempts"`
	SuccessRate     float64        `json:"success_rate"`
}
