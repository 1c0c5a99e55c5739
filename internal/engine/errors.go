package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/fiscalsync/internal/canonical"
	"github.com/roach88/fiscalsync/internal/document"
	"github.com/roach88/fiscalsync/internal/provider"
	"github.com/roach88/fiscalsync/internal/source"
	"github.com/roach88/fiscalsync/internal/store"
)

// Code is the stable, caller-facing error category.
type Code string

const (
	CodeValidation          Code = "validation_error"
	CodeSourceNotFound      Code = "source_not_found"
	CodeSourceUnavailable   Code = "source_unavailable"
	CodeReconciliation      Code = "reconciliation_error"
	CodeUnsupportedLineItem Code = "unsupported_line_item"
	CodeAuthentication      Code = "authentication_error"
	CodeValidationRejected  Code = "validation_rejected"
	CodeTransient           Code = "transient_provider_error"
	CodeRateLimited         Code = "rate_limited"
	CodeAlreadyInProgress   Code = "already_in_progress"
	CodeInvalidState        Code = "invalid_state"
	CodeDuplicateProvider   Code = "duplicate_provider"
	CodeUnknownProvider     Code = "unknown_provider"
	CodeUnsupportedFormat   Code = "unsupported_format"
	CodeNotSupported        Code = "not_supported"
	CodeNotFound            Code = "not_found"
	CodeInternal            Code = "internal_error"
)

// ErrorDetail is the part of a failure exposed to callers.
type ErrorDetail struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// SourceNotFoundError means the billing platform has no such event.
type SourceNotFoundError struct {
	SourceType canonical.SourceType
	SourceID   string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found on the billing platform", e.SourceType, e.SourceID)
}

func (e *SourceNotFoundError) Is(target error) bool {
	return target == source.ErrNotFound
}

// SourceUnavailableError means the billing platform could not be read. A
// pending record is left untouched; a record on the retry schedule has its
// retry task pushed back.
type SourceUnavailableError struct {
	SourceID string
	Err      error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.SourceID, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

// AlreadyInProgressError rejects a request while another submission of the
// same (source_id, provider) pair is in flight.
type AlreadyInProgressError struct {
	SourceID string
	Provider string
}

func (e *AlreadyInProgressError) Error() string {
	return fmt.Sprintf("%s is already being submitted to %s", e.SourceID, e.Provider)
}

// StateError rejects an operation the record's current status does not allow.
type StateError struct {
	SourceID string
	Provider string
	Status   store.Status
	Message  string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s/%s is %s: %s", e.Provider, e.SourceID, e.Status, e.Message)
}

// NotSupportedError means the provider lacks an optional capability.
type NotSupportedError struct {
	Provider  string
	Operation string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Provider, e.Operation)
}

// IsAlreadyInProgress returns true if err is an AlreadyInProgressError.
// Uses errors.As to handle wrapped errors.
func IsAlreadyInProgress(err error) bool {
	var e *AlreadyInProgressError
	return errors.As(err, &e)
}

// IsSourceNotFound returns true if err is a SourceNotFoundError.
func IsSourceNotFound(err error) bool {
	var e *SourceNotFoundError
	return errors.As(err, &e)
}

// IsStateError returns true if err is a StateError.
func IsStateError(err error) bool {
	var e *StateError
	return errors.As(err, &e)
}

// CodeOf classifies err. It returns "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	var (
		ve  *canonical.ValidationError
		re  *document.ReconciliationError
		ue  *document.UnsupportedLineItemError
		pe  *provider.Error
		snf *SourceNotFoundError
		su  *SourceUnavailableError
		aip *AlreadyInProgressError
		se  *StateError
		ns  *NotSupportedError
	)
	switch {
	case errors.As(err, &aip):
		return CodeAlreadyInProgress
	case errors.As(err, &se):
		return CodeInvalidState
	case errors.As(err, &snf):
		return CodeSourceNotFound
	case errors.As(err, &su):
		return CodeSourceUnavailable
	case errors.As(err, &ns):
		return CodeNotSupported
	case errors.As(err, &ve):
		return CodeValidation
	case errors.As(err, &re):
		return CodeReconciliation
	case errors.As(err, &ue):
		return CodeUnsupportedLineItem
	case errors.As(err, &pe):
		return providerCode(pe.Code)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, provider.ErrCompanyNotFound):
		return CodeNotFound
	case errors.Is(err, store.ErrConflict):
		return CodeAlreadyInProgress
	default:
		return CodeInternal
	}
}

func providerCode(c provider.Code) Code {
	switch c {
	case provider.CodeAuthentication:
		return CodeAuthentication
	case provider.CodeValidationRejected:
		return CodeValidationRejected
	case provider.CodeTransient:
		return CodeTransient
	case provider.CodeRateLimited:
		return CodeRateLimited
	case provider.CodeUnsupportedFormat:
		return CodeUnsupportedFormat
	case provider.CodeDuplicateProvider:
		return CodeDuplicateProvider
	case provider.CodeUnknownProvider:
		return CodeUnknownProvider
	default:
		return CodeInternal
	}
}

// Retryable reports whether a caller may succeed by trying again later.
func (c Code) Retryable() bool {
	switch c {
	case CodeTransient, CodeRateLimited, CodeAlreadyInProgress, CodeSourceUnavailable:
		return true
	default:
		return false
	}
}

// Detail builds the caller-facing view of err. Internal errors get a generic
// message; their detail only goes to the log.
func Detail(err error) *ErrorDetail {
	if err == nil {
		return nil
	}
	code := CodeOf(err)
	d := &ErrorDetail{Code: code, Retryable: code.Retryable()}

	var pe *provider.Error
	switch {
	case code == CodeInternal:
		d.Message = "internal error"
	case code == CodeNotFound:
		d.Message = "not found"
	case errors.As(err, &pe):
		d.Message = pe.Message
	default:
		d.Message = err.Error()
	}
	return d
}
