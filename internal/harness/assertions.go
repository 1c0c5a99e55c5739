package harness

import (
	"fmt"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string         // Assertion type for categorization
	Expected string         // Human-readable expected outcome
	Actual   string         // Human-readable actual outcome
	Record   RecordSnapshot // Audit trail of the record, when there is one
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Record.Events) > 0 {
		fmt.Fprintf(&buf, "\nAudit trail of %s:\n", e.Record.SourceID)
		for i, ev := range e.Record.Events {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, ev)
		}
	}
	return buf.String()
}

func recordNotFound(typ, sourceID string) error {
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("a record for %s", sourceID),
		Actual:   "no record in the ledger",
	}
}

// assertFinalState checks the record's fields using subset semantics.
// Supported keys: status, attempt_count, provider_document_id,
// retry_scheduled and last_error (substring match).
func assertFinalState(result *Result, a Assertion) error {
	rec, ok := result.Record(a.SourceID)
	if !ok {
		return recordNotFound(AssertFinalState, a.SourceID)
	}

	actual := map[string]interface{}{
		"status":               rec.Status,
		"attempt_count":        rec.Attempts,
		"provider_document_id": rec.ProviderDocumentID,
		"retry_scheduled":      rec.RetryScheduled,
	}

	for _, key := range sortedKeys(a.Expect) {
		want := a.Expect[key]
		if key == "last_error" {
			if !strings.Contains(rec.LastError, fmt.Sprint(want)) {
				return &AssertionError{
					Type:     AssertFinalState,
					Expected: fmt.Sprintf("last_error containing %q", want),
					Actual:   fmt.Sprintf("last_error = %q", rec.LastError),
					Record:   rec,
				}
			}
			continue
		}
		got, exists := actual[key]
		if !exists {
			return fmt.Errorf("final_state: unknown field %q", key)
		}
		if !stateValuesEqual(want, got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v", key, want),
				Actual:   fmt.Sprintf("field %q = %v", key, got),
				Record:   rec,
			}
		}
	}
	return nil
}

// assertEventOrder checks that audit actions appear in the given order.
// Actions don't need to be consecutive (intervening actions are allowed).
func assertEventOrder(result *Result, a Assertion) error {
	rec, ok := result.Record(a.SourceID)
	if !ok {
		return recordNotFound(AssertEventOrder, a.SourceID)
	}

	next := 0
	for _, ev := range rec.Events {
		if next < len(a.Actions) && eventAction(ev) == a.Actions[next] {
			next++
		}
	}
	if next < len(a.Actions) {
		return &AssertionError{
			Type:     AssertEventOrder,
			Expected: fmt.Sprintf("actions in order: %v", a.Actions),
			Actual:   fmt.Sprintf("%s not found after %v", a.Actions[next], a.Actions[:next]),
			Record:   rec,
		}
	}
	return nil
}

// assertEventCount checks that the action appears exactly Count times.
func assertEventCount(result *Result, a Assertion) error {
	rec, ok := result.Record(a.SourceID)
	if !ok {
		return recordNotFound(AssertEventCount, a.SourceID)
	}

	count := 0
	for _, ev := range rec.Events {
		if eventAction(ev) == a.Action {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Record:   rec,
		}
	}
	return nil
}

func assertRetryTask(result *Result, a Assertion) error {
	rec, ok := result.Record(a.SourceID)
	if !ok {
		return recordNotFound(AssertRetryTask, a.SourceID)
	}
	if rec.RetryScheduled != *a.Present {
		return &AssertionError{
			Type:     AssertRetryTask,
			Expected: fmt.Sprintf("retry scheduled = %t", *a.Present),
			Actual:   fmt.Sprintf("retry scheduled = %t (status %s)", rec.RetryScheduled, rec.Status),
			Record:   rec,
		}
	}
	return nil
}

func assertSubmissions(result *Result, a Assertion) error {
	if result.Submissions != a.Count {
		return &AssertionError{
			Type:     AssertSubmissions,
			Expected: fmt.Sprintf("%d provider submissions", a.Count),
			Actual:   fmt.Sprintf("%d provider submissions", result.Submissions),
		}
	}
	return nil
}

// eventAction strips the result from an "action/result" trail entry.
func eventAction(ev string) string {
	action, _, _ := strings.Cut(ev, "/")
	return action
}

// stateValuesEqual compares a YAML-decoded expectation with a snapshot
// value. YAML integers decode as int.
func stateValuesEqual(expected, actual interface{}) bool {
	switch exp := expected.(type) {
	case int:
		got, ok := actual.(int)
		return ok && exp == got
	case bool:
		got, ok := actual.(bool)
		return ok && exp == got
	case string:
		got, ok := actual.(string)
		return ok && exp == got
	case nil:
		return actual == nil || actual == ""
	}
	return fmt.Sprint(expected) == fmt.Sprint(actual)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertFinalState:
			err = assertFinalState(result, a)
		case AssertEventOrder:
			err = assertEventOrder(result, a)
		case AssertEventCount:
			err = assertEventCount(result, a)
		case AssertRetryTask:
			err = assertRetryTask(result, a)
		case AssertSubmissions:
			err = assertSubmissions(result, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
