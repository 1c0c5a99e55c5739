package source

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/fiscalsync/internal/canonical"
)

// Fixtures serves canonical invoices read from a YAML file.
type Fixtures struct {
	events map[fixtureKey]canonical.Invoice
}

type fixtureKey struct {
	st canonical.SourceType
	id string
}

type fixtureFile struct {
	Events []fixtureEvent `yaml:"events"`
}

type fixtureEvent struct {
	SourceType    string            `yaml:"source_type"`
	SourceID      string            `yaml:"source_id"`
	CustomerName  string            `yaml:"customer_name"`
	CustomerEmail string            `yaml:"customer_email"`
	CustomerTaxID string            `yaml:"customer_tax_id"`
	Address       canonical.Address `yaml:"customer_address"`
	Currency      string            `yaml:"currency"`
	AmountTotal   int64             `yaml:"amount_total"`
	IssuedAt      time.Time         `yaml:"issued_at"`
	DueAt         time.Time         `yaml:"due_at"`
	Number        string            `yaml:"invoice_number"`
	Lines         []fixtureLine     `yaml:"line_items"`
}

type fixtureLine struct {
	Description string `yaml:"description"`
	UnitAmount  int64  `yaml:"unit_amount"`
	Quantity    int64  `yaml:"quantity"`
	TaxRate     string `yaml:"tax_rate"`
}

// LoadFixtures reads and validates every event in the YAML file at path.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// ParseFixtures decodes fixture YAML.
func ParseFixtures(data []byte) (*Fixtures, error) {
	var file fixtureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}

	f := &Fixtures{events: make(map[fixtureKey]canonical.Invoice, len(file.Events))}
	for i, ev := range file.Events {
		inv, err := ev.invoice()
		if err != nil {
			return nil, fmt.Errorf("fixture %d (%s): %w", i, ev.SourceID, err)
		}
		key := fixtureKey{st: inv.SourceType, id: inv.SourceID}
		if _, dup := f.events[key]; dup {
			return nil, fmt.Errorf("fixture %d: duplicate %s %s", i, inv.SourceType, inv.SourceID)
		}
		f.events[key] = inv
	}
	return f, nil
}

func (ev fixtureEvent) invoice() (canonical.Invoice, error) {
	st, err := canonical.ParseSourceType(ev.SourceType)
	if err != nil {
		return canonical.Invoice{}, err
	}
	draft := canonical.Invoice{
		SourceType:        st,
		SourceID:          ev.SourceID,
		CustomerName:      ev.CustomerName,
		CustomerEmail:     ev.CustomerEmail,
		CustomerTaxID:     ev.CustomerTaxID,
		CustomerAddress:   ev.Address,
		Currency:          ev.Currency,
		AmountTotal:       ev.AmountTotal,
		IssuedAt:          ev.IssuedAt,
		DueAt:             ev.DueAt,
		InvoiceNumberHint: ev.Number,
	}
	for i, l := range ev.Lines {
		rate := decimal.Zero
		if s := strings.TrimSpace(l.TaxRate); s != "" {
			rate, err = decimal.NewFromString(s)
			if err != nil {
				return canonical.Invoice{}, fmt.Errorf("line %d: tax_rate: %w", i, err)
			}
		}
		qty := l.Quantity
		if qty == 0 {
			qty = 1
		}
		draft.LineItems = append(draft.LineItems, canonical.LineItem{
			Description: l.Description,
			UnitAmount:  l.UnitAmount,
			Quantity:    qty,
			TaxRate:     rate,
		})
	}
	return canonical.New(draft)
}

// FetchEvent implements Fetcher.
func (f *Fixtures) FetchEvent(_ context.Context, st canonical.SourceType, id string) (canonical.Invoice, error) {
	inv, ok := f.events[fixtureKey{st: st, id: id}]
	if !ok {
		return canonical.Invoice{}, fmt.Errorf("fixture %s %s: %w", st, id, ErrNotFound)
	}
	return inv.WithCustomerTaxID(inv.CustomerTaxID), nil
}

// Len returns the number of loaded events.
func (f *Fixtures) Len() int {
	return len(f.events)
}
