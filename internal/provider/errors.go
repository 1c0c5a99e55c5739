package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Code categorizes provider and registry errors.
type Code string

const (
	// CodeAuthentication means the provider rejected our credentials. Not retried.
	CodeAuthentication Code = "AUTHENTICATION"

	// CodeValidationRejected means the provider rejected the document content. Not retried.
	CodeValidationRejected Code = "VALIDATION_REJECTED"

	// CodeTransient covers network failures, timeouts and 5xx answers.
	CodeTransient Code = "TRANSIENT"

	// CodeRateLimited means the provider or the local limiter refused the call.
	CodeRateLimited Code = "RATE_LIMITED"

	// CodeUnsupportedFormat means the adapter cannot produce the requested format.
	CodeUnsupportedFormat Code = "UNSUPPORTED_FORMAT"

	// CodeDuplicateProvider means a name was registered twice.
	CodeDuplicateProvider Code = "DUPLICATE_PROVIDER"

	// CodeUnknownProvider means no adapter is bound to the requested name.
	CodeUnknownProvider Code = "UNKNOWN_PROVIDER"
)

// Error is the single error type crossing the adapter boundary.
type Error struct {
	Code       Code
	Provider   string
	Message    string
	StatusCode int

	// RetryAfter is the provider-suggested delay for RATE_LIMITED errors.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Provider != "" {
		b.WriteString(" (")
		b.WriteString(e.Provider)
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may succeed on a later attempt.
func (e *Error) Retryable() bool {
	return e.Code == CodeTransient || e.Code == CodeRateLimited
}

func newError(code Code, provider, msg string, err error) *Error {
	return &Error{Code: code, Provider: provider, Message: msg, Err: err}
}

// AuthenticationError builds a CodeAuthentication error.
func AuthenticationError(provider, msg string, err error) *Error {
	return newError(CodeAuthentication, provider, msg, err)
}

// ValidationRejectedError builds a CodeValidationRejected error.
func ValidationRejectedError(provider, msg string, err error) *Error {
	return newError(CodeValidationRejected, provider, msg, err)
}

// TransientError builds a CodeTransient error.
func TransientError(provider, msg string, err error) *Error {
	return newError(CodeTransient, provider, msg, err)
}

// RateLimitedError builds a CodeRateLimited error carrying an optional delay.
func RateLimitedError(provider, msg string, retryAfter time.Duration) *Error {
	e := newError(CodeRateLimited, provider, msg, nil)
	e.RetryAfter = retryAfter
	return e
}

// UnsupportedFormatError builds a CodeUnsupportedFormat error.
func UnsupportedFormatError(provider string, f Format) *Error {
	return newError(CodeUnsupportedFormat, provider, fmt.Sprintf("format %q not available", f), nil)
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsRetryable reports whether err is a retryable provider error.
func IsRetryable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Retryable()
}

// RetryAfterOf returns the provider-suggested delay carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// ClassifyStatus maps a non-2xx HTTP answer onto the error taxonomy.
// It returns nil for 2xx codes.
func ClassifyStatus(provider string, resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
	if snippet := strings.TrimSpace(string(body)); snippet != "" {
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		msg += ": " + snippet
	}

	var e *Error
	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		e = AuthenticationError(provider, msg, nil)
	case code == http.StatusTooManyRequests:
		e = RateLimitedError(provider, msg, parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
	case code == http.StatusRequestTimeout || code >= 500:
		e = TransientError(provider, msg, nil)
	default:
		e = ValidationRejectedError(provider, msg, nil)
	}
	e.StatusCode = resp.StatusCode
	return e
}

// ClassifyTransport maps an error returned by http.Client.Do.
func ClassifyTransport(provider string, err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		code := re.Response.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return AuthenticationError(provider, "token request rejected", err)
		}
		return TransientError(provider, "token endpoint unavailable", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TransientError(provider, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return TransientError(provider, "request cancelled", err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return TransientError(provider, "network error", err)
	}
	return TransientError(provider, "request failed", err)
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
