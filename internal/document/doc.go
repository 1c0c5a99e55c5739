// Package document turns a canonical invoice into a provider-ready UBL 2.1
// document.
//
// Generation is pure: the same invoice, supplier and profile always yield
// byte-identical XML and therefore the same checksum. Amounts are computed
// in integer minor units and rendered as fixed-precision decimal strings.
package document
