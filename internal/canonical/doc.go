// Package canonical defines the provider-neutral invoice record that every
// billing event is normalized into before a fiscal document is generated.
//
// An Invoice is a transient projection: it is rebuilt from the billing
// platform on every sync request and never mutated after construction.
// Monetary amounts are integers in the currency's minor unit; tax rates are
// decimal percentages.
package canonical
