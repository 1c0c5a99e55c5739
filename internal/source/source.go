package source

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/roach88/fiscalsync/internal/canonical"
)

// ErrNotFound is returned when the platform has no event with the given id.
var ErrNotFound = errors.New("source: event not found")

// Fetcher retrieves one billing event. Implementations are read-only and
// idempotent.
type Fetcher interface {
	FetchEvent(ctx context.Context, st canonical.SourceType, id string) (canonical.Invoice, error)
}

// Options control how platform objects are projected.
type Options struct {
	// DefaultTaxRate applies to charges, which carry no tax information,
	// and to invoice lines without a tax rate when set.
	DefaultTaxRate decimal.Decimal

	// ChargesIncludeTax treats charge amounts as gross and splits out the
	// tax at DefaultTaxRate.
	ChargesIncludeTax bool

	// DefaultCountry fills an address without a country.
	DefaultCountry string
}

// DefaultOptions is the Romanian 19% VAT, tax-inclusive setup.
func DefaultOptions() Options {
	return Options{
		DefaultTaxRate:    decimal.NewFromInt(19),
		ChargesIncludeTax: true,
		DefaultCountry:    "RO",
	}
}

// netFromGross splits the tax out of a tax-inclusive amount, rounding half
// away from zero.
func netFromGross(gross int64, rate decimal.Decimal) int64 {
	if rate.IsZero() {
		return gross
	}
	divisor := decimal.NewFromInt(100).Add(rate)
	return decimal.NewFromInt(gross).Shift(2).Div(divisor).Round(0).IntPart()
}
