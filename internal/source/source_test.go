package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v74"

	"github.com/roach88/fiscalsync/internal/canonical"
)

func TestLoadFixtures(t *testing.T) {
	f, err := LoadFixtures("testdata/events.yaml")
	require.NoError(t, err)
	assert.Equal(t, 2, f.Len())

	inv, err := f.FetchEvent(context.Background(), canonical.SourcePlatformInvoice, "in_1MtHbELkdIwHu7ix")
	require.NoError(t, err)
	assert.Equal(t, "RON", inv.Currency)
	assert.Equal(t, int64(1190), inv.AmountTotal)
	require.Len(t, inv.LineItems, 2)
	assert.Equal(t, int64(2), inv.LineItems[1].Quantity)
	assert.True(t, inv.LineItems[0].TaxRate.Equal(decimal.NewFromInt(19)))
	assert.Equal(t, "Bucuresti", inv.CustomerAddress.City)

	charge, err := f.FetchEvent(context.Background(), canonical.SourcePlatformCharge, "ch_3MmlLrLkdIwHu7ix")
	require.NoError(t, err)
	assert.Equal(t, int64(1), charge.LineItems[0].Quantity, "quantity defaults to one")
}

func TestFixtures_NotFound(t *testing.T) {
	f, err := LoadFixtures("testdata/events.yaml")
	require.NoError(t, err)

	_, err = f.FetchEvent(context.Background(), canonical.SourcePlatformCharge, "in_1MtHbELkdIwHu7ix")
	assert.True(t, errors.Is(err, ErrNotFound), "lookup is keyed by source type too")
}

func TestParseFixtures_Rejects(t *testing.T) {
	tests := map[string]string{
		"bad source type": `
events:
  - source_type: refund
    source_id: r_1
`,
		"bad tax rate": `
events:
  - source_type: platform_invoice
    source_id: in_1
    currency: RON
    amount_total: 100
    line_items:
      - {description: x, unit_amount: 100, tax_rate: "abc"}
`,
		"duplicate": `
events:
  - {source_type: platform_invoice, source_id: in_1, currency: RON, amount_total: 100, line_items: [{description: x, unit_amount: 100}]}
  - {source_type: platform_invoice, source_id: in_1, currency: RON, amount_total: 100, line_items: [{description: x, unit_amount: 100}]}
`,
		"not yaml": "events: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFixtures([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestProjectInvoice(t *testing.T) {
	in := &stripe.Invoice{
		ID:            "in_1",
		Number:        "FS-0042",
		Currency:      stripe.Currency("ron"),
		Total:         1190,
		Created:       time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC).Unix(),
		CustomerEmail: "billing@acme.example",
		CustomerTaxIDs: []*stripe.InvoiceCustomerTaxID{
			{Value: "RO123456"},
		},
		Customer: &stripe.Customer{
			Name:    "Acme Distribution SRL",
			Address: &stripe.Address{Line1: "Str. Lalelelor 12", City: "Bucuresti"},
		},
		Lines: &stripe.InvoiceLineItemList{Data: []*stripe.InvoiceLineItem{
			{Description: "Plan Pro", Amount: 800, Quantity: 1, TaxRates: []*stripe.TaxRate{{Percentage: 19}}},
			{Description: "Seats", Amount: 200, Quantity: 2, TaxRates: []*stripe.TaxRate{{Percentage: 19}}},
		}},
	}

	inv, err := ProjectInvoice(in, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, canonical.SourcePlatformInvoice, inv.SourceType)
	assert.Equal(t, "Acme Distribution SRL", inv.CustomerName, "falls back to the customer object")
	assert.Equal(t, "RO123456", inv.CustomerTaxID)
	assert.Equal(t, "RO", inv.CustomerAddress.Country, "default country fills the gap")
	assert.Equal(t, "FS-0042", inv.InvoiceNumberHint)
	require.Len(t, inv.LineItems, 2)
	assert.Equal(t, int64(100), inv.LineItems[1].UnitAmount)
	assert.Equal(t, int64(2), inv.LineItems[1].Quantity)
	assert.True(t, inv.LineItems[1].TaxRate.Equal(decimal.NewFromInt(19)))
}

func TestProjectInvoice_UnevenQuantityKeepsLineAmount(t *testing.T) {
	in := &stripe.Invoice{
		ID:       "in_2",
		Currency: stripe.Currency("eur"),
		Total:    1000,
		Lines: &stripe.InvoiceLineItemList{Data: []*stripe.InvoiceLineItem{
			{Description: "Metered", Amount: 1000, Quantity: 3},
		}},
	}
	opts := DefaultOptions()
	opts.DefaultTaxRate = decimal.Zero

	inv, err := ProjectInvoice(in, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), inv.LineItems[0].UnitAmount)
	assert.Equal(t, int64(1), inv.LineItems[0].Quantity)
	assert.True(t, inv.LineItems[0].TaxRate.IsZero())
}

func TestProjectCharge_SplitsIncludedTax(t *testing.T) {
	ch := &stripe.Charge{
		ID:           "ch_1",
		Amount:       5950,
		Currency:     stripe.Currency("ron"),
		Created:      time.Date(2025, 3, 2, 8, 30, 0, 0, time.UTC).Unix(),
		ReceiptEmail: "ion@example.com",
		BillingDetails: &stripe.ChargeBillingDetails{
			Name: "Ion Popescu",
		},
		Metadata: map[string]string{"tax_id": "-"},
	}

	inv, err := ProjectCharge(ch, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "Ion Popescu", inv.CustomerName)
	assert.Equal(t, "ion@example.com", inv.CustomerEmail)
	assert.True(t, inv.IsIndividual())
	require.Len(t, inv.LineItems, 1)
	assert.Equal(t, "Payment - ch_1", inv.LineItems[0].Description)
	assert.Equal(t, int64(5000), inv.LineItems[0].UnitAmount)
	assert.Equal(t, int64(5950), inv.AmountTotal)
}

func TestNetFromGross(t *testing.T) {
	tests := []struct {
		gross int64
		rate  int64
		want  int64
	}{
		{1190, 19, 1000},
		{100, 19, 84},
		{1000, 0, 1000},
		{1090, 9, 1000},
	}
	for _, tt := range tests {
		got := netFromGross(tt.gross, decimal.NewFromInt(tt.rate))
		assert.Equal(t, tt.want, got, "gross=%d rate=%d", tt.gross, tt.rate)
	}
}

func TestNewStripe_RequiresKey(t *testing.T) {
	_, err := NewStripe(" ", DefaultOptions())
	assert.Error(t, err)

	s, err := NewStripe("sk_test_123", DefaultOptions(), WithStripeURL("http://127.0.0.1:12111", nil))
	require.NoError(t, err)
	assert.NotNil(t, s)
}
