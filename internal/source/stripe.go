package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"github.com/roach88/fiscalsync/internal/canonical"
)

// Stripe fetches invoices and charges from the Stripe API.
type Stripe struct {
	api    *client.API
	opts   Options
	logger *slog.Logger
}

// StripeOption configures a Stripe fetcher.
type StripeOption func(*stripeConfig)

type stripeConfig struct {
	backends *stripe.Backends
	logger   *slog.Logger
}

// WithStripeURL points the client at another API base, e.g. stripe-mock.
func WithStripeURL(url string, hc *http.Client) StripeOption {
	return func(c *stripeConfig) {
		cfg := &stripe.BackendConfig{
			URL:           stripe.String(url),
			HTTPClient:    hc,
			LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelError},
		}
		c.backends = &stripe.Backends{
			API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
			Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
			Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
		}
	}
}

// WithStripeLogger sets the logger.
func WithStripeLogger(l *slog.Logger) StripeOption {
	return func(c *stripeConfig) {
		c.logger = l
	}
}

// NewStripe returns a fetcher authenticated with the secret key.
func NewStripe(key string, opts Options, options ...StripeOption) (*Stripe, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("stripe: api key is required")
	}
	cfg := stripeConfig{logger: slog.Default()}
	for _, o := range options {
		o(&cfg)
	}
	return &Stripe{
		api:    client.New(key, cfg.backends),
		opts:   opts,
		logger: cfg.logger,
	}, nil
}

// FetchEvent implements Fetcher.
func (s *Stripe) FetchEvent(ctx context.Context, st canonical.SourceType, id string) (canonical.Invoice, error) {
	switch st {
	case canonical.SourcePlatformInvoice:
		params := &stripe.InvoiceParams{}
		params.Context = ctx
		params.AddExpand("customer")
		inv, err := s.api.Invoices.Get(id, params)
		if err != nil {
			return canonical.Invoice{}, s.wrap(st, id, err)
		}
		return ProjectInvoice(inv, s.opts)

	case canonical.SourcePlatformCharge:
		params := &stripe.ChargeParams{}
		params.Context = ctx
		params.AddExpand("customer")
		ch, err := s.api.Charges.Get(id, params)
		if err != nil {
			return canonical.Invoice{}, s.wrap(st, id, err)
		}
		return ProjectCharge(ch, s.opts)

	default:
		return canonical.Invoice{}, &canonical.ValidationError{Field: "source_type", Message: fmt.Sprintf("unknown source type %q", st)}
	}
}

func (s *Stripe) wrap(st canonical.SourceType, id string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == http.StatusNotFound {
			return fmt.Errorf("stripe %s %s: %w", st, id, ErrNotFound)
		}
		s.logger.Error("stripe api error",
			"source_id", id,
			"code", string(se.Code),
			"type", string(se.Type),
			"status", se.HTTPStatusCode,
		)
	}
	return fmt.Errorf("stripe %s %s: %w", st, id, err)
}

// ProjectInvoice maps a Stripe invoice onto the canonical record. Line
// amounts are taken as tax-exclusive; the invoice total includes tax.
func ProjectInvoice(in *stripe.Invoice, opts Options) (canonical.Invoice, error) {
	draft := canonical.Invoice{
		SourceType:        canonical.SourcePlatformInvoice,
		SourceID:          in.ID,
		CustomerName:      in.CustomerName,
		CustomerEmail:     in.CustomerEmail,
		Currency:          string(in.Currency),
		AmountTotal:       in.Total,
		IssuedAt:          time.Unix(in.Created, 0).UTC(),
		InvoiceNumberHint: in.Number,
	}
	if in.DueDate > 0 {
		draft.DueAt = time.Unix(in.DueDate, 0).UTC()
	}
	if len(in.CustomerTaxIDs) > 0 && in.CustomerTaxIDs[0] != nil {
		draft.CustomerTaxID = in.CustomerTaxIDs[0].Value
	}
	draft.CustomerAddress = address(in.CustomerAddress, opts.DefaultCountry)

	if c := in.Customer; c != nil {
		if draft.CustomerName == "" {
			draft.CustomerName = c.Name
		}
		if draft.CustomerEmail == "" {
			draft.CustomerEmail = c.Email
		}
		if draft.CustomerAddress.IsZero() {
			draft.CustomerAddress = address(c.Address, opts.DefaultCountry)
		}
		if draft.CustomerTaxID == "" {
			draft.CustomerTaxID = firstTaxID(c)
		}
	}

	if in.Lines != nil {
		for _, l := range in.Lines.Data {
			if l == nil {
				continue
			}
			draft.LineItems = append(draft.LineItems, lineItem(l, opts))
		}
	}
	return canonical.New(draft)
}

func lineItem(l *stripe.InvoiceLineItem, opts Options) canonical.LineItem {
	item := canonical.LineItem{
		Description: l.Description,
		UnitAmount:  l.Amount,
		Quantity:    1,
		TaxRate:     opts.DefaultTaxRate,
	}
	if l.Quantity > 1 && l.Amount%l.Quantity == 0 {
		item.UnitAmount = l.Amount / l.Quantity
		item.Quantity = l.Quantity
	}
	switch {
	case len(l.TaxRates) > 0 && l.TaxRates[0] != nil:
		item.TaxRate = decimal.NewFromFloat(l.TaxRates[0].Percentage)
	case len(l.TaxAmounts) > 0 && l.TaxAmounts[0] != nil && l.TaxAmounts[0].TaxRate != nil:
		item.TaxRate = decimal.NewFromFloat(l.TaxAmounts[0].TaxRate.Percentage)
	}
	return item
}

// ProjectCharge maps a one-off charge onto the canonical record as a single
// line at the default tax rate.
func ProjectCharge(ch *stripe.Charge, opts Options) (canonical.Invoice, error) {
	draft := canonical.Invoice{
		SourceType:  canonical.SourcePlatformCharge,
		SourceID:    ch.ID,
		Currency:    string(ch.Currency),
		AmountTotal: ch.Amount,
		IssuedAt:    time.Unix(ch.Created, 0).UTC(),
	}

	if c := ch.Customer; c != nil {
		draft.CustomerName = c.Name
		draft.CustomerEmail = c.Email
		draft.CustomerAddress = address(c.Address, opts.DefaultCountry)
		draft.CustomerTaxID = firstTaxID(c)
	}
	if bd := ch.BillingDetails; bd != nil {
		if draft.CustomerName == "" {
			draft.CustomerName = bd.Name
		}
		if draft.CustomerEmail == "" {
			draft.CustomerEmail = bd.Email
		}
		if draft.CustomerAddress.IsZero() {
			draft.CustomerAddress = address(bd.Address, opts.DefaultCountry)
		}
	}
	if draft.CustomerName == "" {
		draft.CustomerName = ch.Metadata["customer_name"]
	}
	if draft.CustomerTaxID == "" {
		draft.CustomerTaxID = ch.Metadata["tax_id"]
	}
	if draft.CustomerEmail == "" {
		draft.CustomerEmail = ch.ReceiptEmail
	}

	description := ch.Description
	if description == "" {
		description = "Payment - " + ch.ID
	}
	net := ch.Amount
	if opts.ChargesIncludeTax {
		net = netFromGross(ch.Amount, opts.DefaultTaxRate)
	}
	draft.LineItems = []canonical.LineItem{{
		Description: description,
		UnitAmount:  net,
		Quantity:    1,
		TaxRate:     opts.DefaultTaxRate,
	}}
	return canonical.New(draft)
}

func address(a *stripe.Address, defaultCountry string) canonical.Address {
	if a == nil {
		return canonical.Address{}
	}
	out := canonical.Address{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
	if out.IsZero() {
		return out
	}
	if out.Country == "" {
		out.Country = defaultCountry
	}
	return out
}

func firstTaxID(c *stripe.Customer) string {
	if c.TaxIDs == nil {
		return ""
	}
	for _, t := range c.TaxIDs.Data {
		if t != nil && t.Value != "" {
			return t.Value
		}
	}
	return ""
}
