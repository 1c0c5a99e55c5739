// Package provider defines the contract every fiscal-document provider
// adapter satisfies, the error taxonomy adapters report through, and the
// registry that maps provider names to adapter constructors.
//
// Adapters differ only in authentication and wire mapping. Callers never
// inspect transport errors directly: every failure leaving an adapter is a
// *Error whose Code decides whether the orchestrator retries it.
package provider
