// Package store is the SQLite-backed processing ledger.
//
// The ledger is the only coordination point between concurrent workers:
//   - processing_records carries UNIQUE(source_id, provider), so a billing
//     event has exactly one record per provider for its whole lifetime
//   - every status change is a conditional UPDATE guarded by the expected
//     source states, run in one transaction with the matching retry-task
//     and audit-event writes
//   - a retry task exists if and only if its record is failed_retryable
//   - records are never deleted and events are never modified (enforced by
//     triggers)
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
