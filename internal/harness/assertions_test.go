package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResult() *Result {
	r := NewResult()
	r.Records = []RecordSnapshot{
		{
			SourceID:           "in_1",
			Status:             "completed",
			Attempts:           2,
			ProviderDocumentID: "5001",
			Events:             []string{"created/success", "submit_attempt/error", "retry_attempt/success"},
		},
		{
			SourceID:       "in_2",
			Status:         "failed_retryable",
			Attempts:       1,
			RetryScheduled: true,
			LastError:      "anaf: scripted timeout",
			Events:         []string{"created/success", "submit_attempt/error"},
		},
	}
	r.Submissions = 3
	return r
}

func boolPtr(b bool) *bool { return &b }

func TestAssertFinalState_SubsetMatch(t *testing.T) {
	err := assertFinalState(testResult(), Assertion{
		Type:     AssertFinalState,
		SourceID: "in_1",
		Expect:   map[string]interface{}{"status": "completed", "attempt_count": 2},
	})
	assert.NoError(t, err)
}

func TestAssertFinalState_ValueMismatch(t *testing.T) {
	err := assertFinalState(testResult(), Assertion{
		Type:     AssertFinalState,
		SourceID: "in_1",
		Expect:   map[string]interface{}{"attempt_count": 3},
	})
	require.Error(t, err)

	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, `field "attempt_count" = 3`, ae.Expected)
	assert.Equal(t, `field "attempt_count" = 2`, ae.Actual)
}

func TestAssertFinalState_LastErrorSubstring(t *testing.T) {
	a := Assertion{
		Type:     AssertFinalState,
		SourceID: "in_2",
		Expect:   map[string]interface{}{"last_error": "timeout", "retry_scheduled": true},
	}
	assert.NoError(t, assertFinalState(testResult(), a))

	a.Expect["last_error"] = "rejected"
	assert.Error(t, assertFinalState(testResult(), a))
}

func TestAssertFinalState_UnknownField(t *testing.T) {
	err := assertFinalState(testResult(), Assertion{
		Type:     AssertFinalState,
		SourceID: "in_1",
		Expect:   map[string]interface{}{"colour": "blue"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown field "colour"`)
}

func TestAssertFinalState_RecordNotFound(t *testing.T) {
	err := assertFinalState(testResult(), Assertion{
		Type:     AssertFinalState,
		SourceID: "in_9",
		Expect:   map[string]interface{}{"status": "completed"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no record in the ledger")
}

func TestAssertEventOrder_InterveningActionsAllowed(t *testing.T) {
	err := assertEventOrder(testResult(), Assertion{
		SourceID: "in_1",
		Actions:  []string{"created", "retry_attempt"},
	})
	assert.NoError(t, err)
}

func TestAssertEventOrder_WrongOrder(t *testing.T) {
	err := assertEventOrder(testResult(), Assertion{
		SourceID: "in_1",
		Actions:  []string{"retry_attempt", "submit_attempt"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submit_attempt not found after [retry_attempt]")
	assert.Contains(t, err.Error(), "Audit trail of in_1")
}

func TestAssertEventCount(t *testing.T) {
	a := Assertion{SourceID: "in_1", Action: "submit_attempt", Count: 1}
	assert.NoError(t, assertEventCount(testResult(), a))

	a.Count = 0
	err := assertEventCount(testResult(), a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 occurrences")
}

func TestAssertRetryTask(t *testing.T) {
	assert.NoError(t, assertRetryTask(testResult(), Assertion{SourceID: "in_2", Present: boolPtr(true)}))
	assert.NoError(t, assertRetryTask(testResult(), Assertion{SourceID: "in_1", Present: boolPtr(false)}))
	assert.Error(t, assertRetryTask(testResult(), Assertion{SourceID: "in_1", Present: boolPtr(true)}))
}

func TestAssertSubmissions(t *testing.T) {
	assert.NoError(t, assertSubmissions(testResult(), Assertion{Count: 3}))
	assert.Error(t, assertSubmissions(testResult(), Assertion{Count: 2}))
}

func TestStateValuesEqual(t *testing.T) {
	assert.True(t, stateValuesEqual("completed", "completed"))
	assert.False(t, stateValuesEqual("completed", "pending"))
	assert.True(t, stateValuesEqual(2, 2))
	assert.False(t, stateValuesEqual(2, "2"))
	assert.True(t, stateValuesEqual(true, true))
	assert.False(t, stateValuesEqual(false, true))
	assert.True(t, stateValuesEqual(nil, ""))
}

func TestEvaluateAssertions_AllPass(t *testing.T) {
	errs := EvaluateAssertions(testResult(), []Assertion{
		{Type: AssertFinalState, SourceID: "in_1", Expect: map[string]interface{}{"provider_document_id": "5001"}},
		{Type: AssertEventOrder, SourceID: "in_2", Actions: []string{"created", "submit_attempt"}},
		{Type: AssertEventCount, SourceID: "in_2", Action: "retry_attempt", Count: 0},
		{Type: AssertRetryTask, SourceID: "in_2", Present: boolPtr(true)},
		{Type: AssertSubmissions, Count: 3},
	})
	assert.Empty(t, errs)
}

func TestEvaluateAssertions_SomeFail(t *testing.T) {
	errs := EvaluateAssertions(testResult(), []Assertion{
		{Type: AssertSubmissions, Count: 3},
		{Type: AssertSubmissions, Count: 1},
		{Type: "trace_contains"},
	})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "Assertion failed: submissions")
	assert.Contains(t, errs[1], `assertion[2]: unknown assertion type "trace_contains"`)
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertEventCount,
		Expected: "2 occurrences of retry_attempt",
		Actual:   "1 occurrences",
		Record:   RecordSnapshot{SourceID: "in_1", Events: []string{"created/success"}},
	}
	want := "Assertion failed: event_count\n" +
		"  Expected: 2 occurrences of retry_attempt\n" +
		"  Actual: 1 occurrences\n" +
		"\nAudit trail of in_1:\n" +
		"  [1] created/success\n"
	assert.Equal(t, want, err.Error())
}
