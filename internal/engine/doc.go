// Package engine implements the sync orchestrator.
//
// The engine takes a (source, provider) request, consults the processing
// ledger, fetches and projects the billing event, generates the provider's
// document, submits it and records the outcome.
//
// CONCURRENCY:
//
// Any number of goroutines, or processes sharing the database, may call
// Process at once. The ledger is the only coordination point: the move into
// processing is a conditional UPDATE, so for one (source_id, provider) pair
// exactly one caller wins and the others get AlreadyInProgressError. No
// in-process lock is involved.
//
// FAILURES:
//
// Every failure seen after the ledger row exists is written as an audit
// event before it is returned. Callers get a Result carrying a stable error
// code and a human-readable message; wrapped internal detail goes to the log.
//
// Transient provider failures (TRANSIENT, RATE_LIMITED) move the record to
// failed_retryable and schedule a retry task per the retry.Policy. Anything
// else is terminal.
package engine
