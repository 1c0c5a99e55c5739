package canonical

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/unicode/norm"
)

// SourceType identifies which kind of billing-platform object a record was
// projected from.
type SourceType string

const (
	SourcePlatformInvoice SourceType = "platform_invoice"
	SourcePlatformCharge  SourceType = "platform_charge"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	return t == SourcePlatformInvoice || t == SourcePlatformCharge
}

// ParseSourceType converts s into a SourceType.
func ParseSourceType(s string) (SourceType, error) {
	t := SourceType(strings.TrimSpace(s))
	if !t.Valid() {
		return "", invalid("source_type", "unknown source type %q", s)
	}
	return t, nil
}

// IndividualTaxID marks a customer without a fiscal registration number.
const IndividualTaxID = "-"

// Address is a postal address. The zero value means "not provided".
type Address struct {
	Line1      string `json:"line1,omitempty" yaml:"line1"`
	Line2      string `json:"line2,omitempty" yaml:"line2"`
	City       string `json:"city,omitempty" yaml:"city"`
	PostalCode string `json:"postal_code,omitempty" yaml:"postal_code"`
	Country    string `json:"country,omitempty" yaml:"country"`
}

// IsZero reports whether no address field is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// LineItem is one billed line. UnitAmount is in minor units and excludes tax.
type LineItem struct {
	Description string          `json:"description"`
	UnitAmount  int64           `json:"unit_amount"`
	Quantity    int64           `json:"quantity"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
}

// Net returns the extended line amount (unit amount times quantity).
func (l LineItem) Net() int64 {
	return l.UnitAmount * l.Quantity
}

// Invoice is the canonical record for one billable event.
//
// Construct it with New; the returned value owns copies of its slices and
// must be treated as read-only.
type Invoice struct {
	SourceType        SourceType `json:"source_type"`
	SourceID          string     `json:"source_id"`
	CustomerName      string     `json:"customer_name"`
	CustomerEmail     string     `json:"customer_email,omitempty"`
	CustomerTaxID     string     `json:"customer_tax_id,omitempty"`
	CustomerAddress   Address    `json:"customer_address,omitzero"`
	LineItems         []LineItem `json:"line_items"`
	Currency          string     `json:"currency"`
	AmountTotal       int64      `json:"amount_total"`
	IssuedAt          time.Time  `json:"issued_at"`
	DueAt             time.Time  `json:"due_at,omitzero"`
	InvoiceNumberHint string     `json:"invoice_number_hint,omitempty"`
}

// New validates draft and returns a normalized copy.
//
// Names and descriptions are NFC-normalized, the currency code is upper-cased
// and the line item slice is copied so later edits to draft cannot leak in.
func New(draft Invoice) (Invoice, error) {
	inv := draft
	inv.SourceID = strings.TrimSpace(draft.SourceID)
	inv.CustomerName = norm.NFC.String(strings.TrimSpace(draft.CustomerName))
	inv.CustomerEmail = strings.TrimSpace(draft.CustomerEmail)
	inv.CustomerTaxID = NormalizeTaxID(draft.CustomerTaxID)
	inv.Currency = strings.ToUpper(strings.TrimSpace(draft.Currency))
	inv.InvoiceNumberHint = strings.TrimSpace(draft.InvoiceNumberHint)
	inv.CustomerAddress.Country = strings.ToUpper(strings.TrimSpace(draft.CustomerAddress.Country))

	inv.LineItems = make([]LineItem, len(draft.LineItems))
	for i, item := range draft.LineItems {
		item.Description = norm.NFC.String(strings.TrimSpace(item.Description))
		inv.LineItems[i] = item
	}

	if err := inv.Validate(); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// Validate performs the structural checks New applies.
func (inv Invoice) Validate() error {
	if !inv.SourceType.Valid() {
		return invalid("source_type", "unknown source type %q", inv.SourceType)
	}
	if inv.SourceID == "" {
		return invalid("source_id", "must not be empty")
	}
	if inv.AmountTotal <= 0 {
		return invalid("amount_total", "must be positive, got %d", inv.AmountTotal)
	}
	if _, err := currency.ParseISO(inv.Currency); err != nil {
		return invalid("currency", "%q is not a recognized ISO 4217 code", inv.Currency)
	}
	if len(inv.LineItems) == 0 {
		return invalid("line_items", "at least one line item is required")
	}
	for i, item := range inv.LineItems {
		if item.Quantity <= 0 {
			return invalid("line_items", "item %d: quantity must be positive", i)
		}
	}
	return nil
}

// MinorUnitScale returns the number of decimal places of the invoice currency.
func (inv Invoice) MinorUnitScale() int32 {
	return CurrencyScale(inv.Currency)
}

// IsIndividual reports whether the customer has no fiscal registration.
func (inv Invoice) IsIndividual() bool {
	return IsIndividualTaxID(inv.CustomerTaxID)
}

// WithCustomerTaxID returns a copy of inv carrying taxID.
func (inv Invoice) WithCustomerTaxID(taxID string) Invoice {
	out := inv
	out.CustomerTaxID = NormalizeTaxID(taxID)
	out.LineItems = append([]LineItem(nil), inv.LineItems...)
	return out
}

// CurrencyScale returns the ISO 4217 minor-unit digits for code, defaulting
// to 2 for unknown codes.
func CurrencyScale(code string) int32 {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// NormalizeTaxID trims whitespace and upper-cases a tax id.
func NormalizeTaxID(taxID string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(taxID), " ", ""))
}

// IsIndividualTaxID reports whether taxID is empty or the individual placeholder.
func IsIndividualTaxID(taxID string) bool {
	t := NormalizeTaxID(taxID)
	return t == "" || t == IndividualTaxID
}

// ValidateTaxID checks that taxID is either the individual placeholder or a
// plausible fiscal code: an optional two-letter country prefix followed by
// 2 to 12 alphanumeric characters containing at least one digit.
func ValidateTaxID(taxID string) error {
	t := NormalizeTaxID(taxID)
	switch {
	case t == "":
		return invalid("customer_tax_id", "required; use %q for individuals", IndividualTaxID)
	case t == IndividualTaxID:
		return nil
	}
	body := t
	if len(body) > 2 && isLetter(body[0]) && isLetter(body[1]) {
		body = body[2:]
	}
	if len(body) < 2 || len(body) > 12 {
		return invalid("customer_tax_id", "%q has an invalid length", taxID)
	}
	digits := 0
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c >= '0' && c <= '9':
			digits++
		case isLetter(c):
		default:
			return invalid("customer_tax_id", "%q contains invalid characters", taxID)
		}
	}
	if digits == 0 {
		return invalid("customer_tax_id", "%q contains no digits", taxID)
	}
	return nil
}

// StripCountryPrefix removes a leading two-letter country code from taxID.
func StripCountryPrefix(taxID string) string {
	t := NormalizeTaxID(taxID)
	if len(t) > 2 && isLetter(t[0]) && isLetter(t[1]) {
		return t[2:]
	}
	return t
}

func isLetter(c byte) bool {
	return c >= 'A' && c <= 'Z'
}
