package document

import (
	"time"

	"github.com/roach88/fiscalsync/internal/canonical"
	"github.com/shopspring/decimal"
)

// Supplier is the operator's own registered fiscal identity.
type Supplier struct {
	Name         string            `yaml:"name" json:"name"`
	TaxID        string            `yaml:"tax_id" json:"tax_id"`
	Registration string            `yaml:"registration" json:"registration,omitempty"`
	Email        string            `yaml:"email" json:"email,omitempty"`
	Address      canonical.Address `yaml:"address" json:"address"`
}

// Customer is the buyer identity as written into the document.
type Customer struct {
	Name       string
	Email      string
	TaxID      string
	Individual bool
	Address    canonical.Address
}

// Line is one computed invoice line. Minor-unit fields are exact; the
// decimal fields are the same values in major units.
type Line struct {
	Index       int
	Description string
	Quantity    int64
	UnitAmount  int64
	NetAmount   int64
	TaxAmount   int64
	TaxRate     decimal.Decimal
	Category    string
}

// TaxSubtotal aggregates the lines sharing one tax rate.
type TaxSubtotal struct {
	Rate          decimal.Decimal
	Category      string
	TaxableAmount int64
	TaxAmount     int64
}

// Totals are the document-level sums in minor units.
type Totals struct {
	Net      int64
	Tax      int64
	Gross    int64
	Rounding int64
	Payable  int64
}

// Document is a generated fiscal document plus the computed values adapters
// need for their own wire mapping.
type Document struct {
	Profile    string
	Number     string
	SourceType canonical.SourceType
	SourceID   string
	IssueDate  time.Time
	DueDate    time.Time
	Currency   string
	Scale      int32
	Supplier   Supplier
	Customer   Customer
	Lines      []Line
	Subtotals  []TaxSubtotal
	Totals     Totals

	XML      []byte
	Checksum string
}

// Major converts a minor-unit amount to the document currency's major unit.
func (d *Document) Major(minor int64) decimal.Decimal {
	return decimal.New(minor, -d.Scale)
}

// FormatAmount renders a minor-unit amount with the currency's fixed precision.
func (d *Document) FormatAmount(minor int64) string {
	return d.Major(minor).StringFixed(d.Scale)
}
