// Package source reads billing events from the payment platform and projects
// them onto canonical.Invoice.
//
// Two fetchers are provided: Stripe talks to the live API, Fixtures serves
// events from a YAML file for offline runs and tests.
package source
