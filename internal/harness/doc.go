// Package harness runs ledger scenarios against the real engine.
//
// A scenario wires the engine to a fixtures source, an in-memory ledger, a
// fake clock and a scripted provider, plays a list of steps and checks the
// resulting ledger and audit trail.
//
// # Scenario Format
//
//	name: timeout_then_retry
//	description: "A timed-out submission is retried by the sweep"
//	fixtures: fixtures/events.yaml
//	provider: anaf
//	script:
//	  - fail: transient
//	  - accept: "5001"
//	steps:
//	  - process: { source_id: in_1, customer_tax_id: RO123456 }
//	    expect: { status: failed_retryable, code: transient_provider_error, attempts: 1 }
//	  - advance: 30m
//	  - sweep: true
//	assertions:
//	  - type: final_state
//	    source_id: in_1
//	    expect: { status: completed, attempt_count: 2 }
//	  - type: event_order
//	    source_id: in_1
//	    actions: [created, submit_attempt, retry_attempt]
//
// The script answers Submit calls in order; once exhausted every submission
// is accepted.
//
// # Step Types
//
//   - process: submit an event (manual: true forces a manual retry)
//   - retry, cancel, check: operate on the record of a source id
//   - verdict: set the provider's answer for a pending upload
//   - advance: move the fake clock
//   - sweep: run one retry scheduler sweep
//
// # Assertion Types
//
//   - final_state: subset match on the record's ledger fields
//   - event_order: audit actions appear in this order (gaps allowed)
//   - event_count: an audit action appears exactly N times
//   - retry_task: a retry task is or is not scheduled
//   - submissions: the provider saw exactly N submissions
//
// Ids come from a sequence generator and the clock starts at a fixed
// instant, so runs are reproducible and traces can be compared against
// golden files.
package harness
