// Package retry holds the retry backoff policy and the background sweep that
// re-submits due retry tasks.
//
// The schedule is a literal list of delays indexed by attempt number, not an
// exponential curve: with the default policy the first failure waits 30
// minutes, the second 60 and the third is final.
package retry
