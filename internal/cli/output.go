package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/roach88/fiscalsync/internal/engine"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The operation ran and failed (rejected document, provider error, etc.)
	ExitCommandError = 2 // Command error (bad config, database not found, etc.)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"`          // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`  // success payload
	Error  *CLIError   `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // engine error code, e.g. "rate_limited"
	Message string      `json:"message"`           // human-readable message
	Details interface{} `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err through Error and returns the ExitError the command
// should exit with.
func (f *OutputFormatter) Fail(err error) error {
	d := engine.Detail(err)
	if outErr := f.Error(string(d.Code), d.Message, nil); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitFailure, string(d.Code), err)
}

// Result prints a process result. A failed result is printed in full and
// turned into an ExitFailure error.
func (f *OutputFormatter) Result(res *engine.Result) error {
	if f.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: res}
		if res.Error != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: string(res.Error.Code), Message: res.Error.Message}
		}
		if err := json.NewEncoder(f.Writer).Encode(resp); err != nil {
			return err
		}
	} else {
		writeResult(f.Writer, res)
	}
	if !res.OK() {
		return WrapExitError(ExitFailure, string(res.Error.Code), res.Err)
	}
	return nil
}

func writeResult(w io.Writer, res *engine.Result) {
	fmt.Fprintf(w, "%s/%s: %s", res.Provider, res.SourceID, statusText(res))
	if res.Duplicate {
		fmt.Fprint(w, " (already completed)")
	}
	fmt.Fprintln(w)
	if res.RecordID != "" {
		fmt.Fprintf(w, "  Record:   %s\n", res.RecordID)
	}
	if res.DocumentNumber != "" {
		fmt.Fprintf(w, "  Number:   %s\n", res.DocumentNumber)
	}
	if res.ProviderDocumentID != "" {
		fmt.Fprintf(w, "  Provider: %s", res.ProviderDocumentID)
		if res.ProviderStatus != "" {
			fmt.Fprintf(w, " (%s)", res.ProviderStatus)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "  Attempts: %d\n", res.AttemptCount)
	if res.NextRetryAt != nil {
		fmt.Fprintf(w, "  Retry at: %s\n", formatTime(*res.NextRetryAt))
	}
	if res.Error != nil {
		fmt.Fprintf(w, "  Error [%s]: %s\n", res.Error.Code, res.Error.Message)
	} else if res.LastError != "" {
		fmt.Fprintf(w, "  Last error: %s\n", res.LastError)
	}
}

func statusText(res *engine.Result) string {
	if res.Status == "" {
		return "not recorded"
	}
	return string(res.Status)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
