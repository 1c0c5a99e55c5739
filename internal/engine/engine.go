package engine

import (
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/fiscalsync/internal/canonical"
	"github.com/roach88/fiscalsync/internal/document"
	"github.com/roach88/fiscalsync/internal/provider"
	"github.com/roach88/fiscalsync/internal/retry"
	"github.com/roach88/fiscalsync/internal/source"
	"github.com/roach88/fiscalsync/internal/store"
)

// Engine is the sync orchestrator. It is safe for concurrent use.
type Engine struct {
	store     *store.Store
	source    source.Fetcher
	generator *document.Generator
	providers *provider.Set
	policy    retry.Policy
	clock     Clock
	ids       IDGenerator
	logger    *slog.Logger
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithPolicy sets the retry policy.
//
// Default: retry.DefaultPolicy() (30/60/90 minutes, 3 attempts)
func WithPolicy(p retry.Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator replaces the UUIDv7 id source, for tests.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine over the ledger s, reading events from src, building
// documents with gen and submitting through the adapters in providers.
func New(s *store.Store, src source.Fetcher, gen *document.Generator, providers *provider.Set, opts ...Option) (*Engine, error) {
	if s == nil || src == nil || gen == nil || providers == nil {
		return nil, errors.New("engine: store, source, generator and providers are required")
	}
	e := &Engine{
		store:     s,
		source:    src,
		generator: gen,
		providers: providers,
		policy:    retry.DefaultPolicy(),
		clock:     systemClock{},
		ids:       UUIDv7Generator{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.policy.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Policy returns the retry policy in use.
func (e *Engine) Policy() retry.Policy {
	return e.policy
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

// Request asks for one billing event to be synced to one provider.
type Request struct {
	SourceType canonical.SourceType `json:"source_type"`
	SourceID   string               `json:"source_id"`
	Provider   string               `json:"provider"`

	// CustomerTaxID is required; "-" marks an individual without a fiscal
	// registration number.
	CustomerTaxID string `json:"customer_tax_id"`

	// InvoiceNumber overrides the number derived from the event.
	InvoiceNumber string `json:"invoice_number,omitempty"`

	// Manual forces re-submission of a failed record, bypassing the retry
	// schedule. A failed_permanent record starts over with attempt_count 0.
	Manual bool `json:"manual,omitempty"`
}

// Result is returned by every process call, successful or not.
type Result struct {
	RecordID           string               `json:"record_id,omitempty"`
	SourceType         canonical.SourceType `json:"source_type"`
	SourceID           string               `json:"source_id"`
	Provider           string               `json:"provider"`
	Status             store.Status         `json:"status,omitempty"`
	ProviderDocumentID string               `json:"provider_document_id,omitempty"`
	ProviderStatus     provider.Status      `json:"provider_status,omitempty"`
	DocumentNumber     string               `json:"document_number,omitempty"`
	AttemptCount       int                  `json:"attempt_count"`
	LastError          string               `json:"last_error,omitempty"`
	NextRetryAt        *time.Time           `json:"next_retry_at,omitempty"`

	// Duplicate is set when the request hit an already completed record
	// and no provider call was made.
	Duplicate bool `json:"duplicate,omitempty"`

	Error *ErrorDetail `json:"error,omitempty"`

	// Err is the underlying error, for in-process callers.
	Err error `json:"-"`
}

// OK reports whether the call succeeded.
func (r *Result) OK() bool {
	return r.Err == nil
}

// Deferred reports whether the call left the record waiting for its
// scheduled retry without contacting the provider. Such a result carries no
// error but has not succeeded either.
func (r *Result) Deferred() bool {
	return r.Err == nil && r.Status == store.StatusFailedRetryable
}

func (r *Result) fromRecord(rec store.Record) *Result {
	r.RecordID = rec.ID
	r.SourceType = canonical.SourceType(rec.SourceType)
	r.SourceID = rec.SourceID
	r.Provider = rec.Provider
	r.Status = rec.Status
	r.ProviderDocumentID = rec.ProviderDocumentID
	r.AttemptCount = rec.AttemptCount
	r.LastError = rec.LastError
	return r
}

func (r *Result) fail(err error) *Result {
	r.Err = err
	r.Error = Detail(err)
	return r
}

// BatchItem is one event of a batch.
type BatchItem struct {
	SourceType    canonical.SourceType `json:"source_type"`
	SourceID      string               `json:"source_id"`
	CustomerTaxID string               `json:"customer_tax_id"`
	InvoiceNumber string               `json:"invoice_number,omitempty"`
}

// BatchRequest syncs several events to one provider.
type BatchRequest struct {
	Provider string      `json:"provider"`
	Items    []BatchItem `json:"items"`
}

// BatchResult carries one Result per item, in request order. Failed
// includes items still waiting for a scheduled retry; Pending counts uploads
// awaiting the provider's verdict.
type BatchResult struct {
	Provider  string    `json:"provider"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Pending   int       `json:"pending"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Results   []*Result `json:"results"`
}

// History is the full audit view of one record.
type History struct {
	Record    store.Record     `json:"record"`
	RetryTask *store.RetryTask `json:"retry_task,omitempty"`
	Events    []store.Event    `json:"events"`
	Documents []store.Document `json:"documents"`
}

// ProviderInfo describes a configured adapter.
type ProviderInfo struct {
	Name    string `json:"name"`
	Profile string `json:"profile"`
}
