package document

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/roach88/fiscalsync/internal/canonical"
	"github.com/shopspring/decimal"
)

const (
	itemNameMaxRunes = 100
	dateLayout       = "2006-01-02"
	placeholderField = "N/A"
)

var hundred = decimal.NewFromInt(100)

// Generator builds documents on behalf of a single supplier.
type Generator struct {
	supplier Supplier
}

// NewGenerator returns a Generator issuing documents as supplier.
func NewGenerator(supplier Supplier) *Generator {
	supplier.TaxID = canonical.NormalizeTaxID(supplier.TaxID)
	return &Generator{supplier: supplier}
}

// Supplier returns the identity documents are issued under.
func (g *Generator) Supplier() Supplier {
	return g.supplier
}

// Generate computes line and tax totals for inv, reconciles them against
// inv.AmountTotal and serializes the result for profile p.
func (g *Generator) Generate(inv canonical.Invoice, p Profile) (*Document, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	if g.supplier.Name == "" || g.supplier.TaxID == "" {
		return nil, &canonical.ValidationError{Field: "supplier", Message: "name and tax_id must be configured"}
	}

	number := inv.InvoiceNumberHint
	if number == "" {
		number = p.NumberPrefix + truncate(inv.SourceID, 8)
	}
	if p.MaxNumberLength > 0 && utf8.RuneCountInString(number) > p.MaxNumberLength {
		return nil, &canonical.ValidationError{
			Field:   "invoice_number",
			Message: fmt.Sprintf("%q exceeds %d characters", number, p.MaxNumberLength),
		}
	}

	doc := &Document{
		Profile:    p.Name,
		Number:     number,
		SourceType: inv.SourceType,
		SourceID:   inv.SourceID,
		IssueDate:  inv.IssuedAt,
		DueDate:    inv.DueAt,
		Currency:   inv.Currency,
		Scale:      inv.MinorUnitScale(),
		Supplier:   g.supplier,
		Customer: Customer{
			Name:       inv.CustomerName,
			Email:      inv.CustomerEmail,
			TaxID:      inv.CustomerTaxID,
			Individual: inv.IsIndividual(),
			Address:    inv.CustomerAddress,
		},
	}

	if err := computeLines(doc, inv, p); err != nil {
		return nil, err
	}

	diff := doc.Totals.Gross - inv.AmountTotal
	if abs(diff) > p.RoundingTolerance {
		return nil, &ReconciliationError{
			Currency:  inv.Currency,
			Expected:  inv.AmountTotal,
			Computed:  doc.Totals.Gross,
			Tolerance: p.RoundingTolerance,
		}
	}
	doc.Totals.Rounding = -diff
	doc.Totals.Payable = inv.AmountTotal

	out, err := marshal(doc, p)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", inv.SourceID, err)
	}
	sum := sha256.Sum256(out)
	doc.XML = out
	doc.Checksum = hex.EncodeToString(sum[:])
	return doc, nil
}

func computeLines(doc *Document, inv canonical.Invoice, p Profile) error {
	byRate := make(map[string]int)
	doc.Lines = make([]Line, 0, len(inv.LineItems))

	for i, item := range inv.LineItems {
		if item.UnitAmount < 0 {
			return &UnsupportedLineItemError{Index: i, Reason: "negative unit amount"}
		}
		if item.TaxRate.IsNegative() || item.TaxRate.GreaterThan(hundred) {
			return &UnsupportedLineItemError{Index: i, Reason: fmt.Sprintf("tax rate %s out of range", item.TaxRate)}
		}
		if !p.allows(item.TaxRate) {
			return &UnsupportedLineItemError{Index: i, Reason: fmt.Sprintf("tax rate %s not allowed by profile %s", item.TaxRate, p.Name)}
		}

		net := item.Net()
		// round_half_up(net * rate / 100); amounts are never negative here.
		tax := decimal.NewFromInt(net).Mul(item.TaxRate).Shift(-2).Round(0).IntPart()
		category := taxCategory(item.TaxRate)

		doc.Lines = append(doc.Lines, Line{
			Index:       i + 1,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitAmount:  item.UnitAmount,
			NetAmount:   net,
			TaxAmount:   tax,
			TaxRate:     item.TaxRate,
			Category:    category,
		})

		key := item.TaxRate.String()
		idx, ok := byRate[key]
		if !ok {
			idx = len(doc.Subtotals)
			byRate[key] = idx
			doc.Subtotals = append(doc.Subtotals, TaxSubtotal{Rate: item.TaxRate, Category: category})
		}
		doc.Subtotals[idx].TaxableAmount += net
		doc.Subtotals[idx].TaxAmount += tax

		doc.Totals.Net += net
		doc.Totals.Tax += tax
	}
	doc.Totals.Gross = doc.Totals.Net + doc.Totals.Tax
	return nil
}

func taxCategory(rate decimal.Decimal) string {
	if rate.IsZero() {
		return "Z"
	}
	return "S"
}

func marshal(doc *Document, p Profile) ([]byte, error) {
	amount := func(minor int64) ublAmount {
		return ublAmount{CurrencyID: doc.Currency, Value: doc.FormatAmount(minor)}
	}
	category := func(code string, rate decimal.Decimal) ublTaxCategory {
		return ublTaxCategory{ID: code, Percent: rate.StringFixed(2), TaxScheme: ublID{ID: "VAT"}}
	}

	root := ublInvoice{
		Xmlns:                p.Namespaces.Invoice,
		XmlnsCAC:             p.Namespaces.CAC,
		XmlnsCBC:             p.Namespaces.CBC,
		UBLVersionID:         p.UBLVersion,
		CustomizationID:      p.CustomizationID,
		ProfileID:            p.ProfileID,
		ID:                   doc.Number,
		IssueDate:            doc.IssueDate.Format(dateLayout),
		InvoiceTypeCode:      p.InvoiceTypeCode,
		DocumentCurrencyCode: doc.Currency,
		Supplier:             ublPartyRole{Party: supplierParty(doc.Supplier, p)},
		Customer:             ublPartyRole{Party: customerParty(doc.Customer, p)},
		TaxTotal:             ublTaxTotal{TaxAmount: amount(doc.Totals.Tax)},
		MonetaryTotal: ublMonetaryTotal{
			LineExtensionAmount: amount(doc.Totals.Net),
			TaxExclusiveAmount:  amount(doc.Totals.Net),
			TaxInclusiveAmount:  amount(doc.Totals.Gross),
			PayableAmount:       amount(doc.Totals.Payable),
		},
	}
	if !doc.DueDate.IsZero() {
		root.DueDate = doc.DueDate.Format(dateLayout)
	}
	if p.PaymentMeansCode != "" {
		root.PaymentMeans = &ublPaymentMeans{Code: p.PaymentMeansCode}
	}
	if doc.Totals.Rounding != 0 {
		r := amount(doc.Totals.Rounding)
		root.MonetaryTotal.PayableRoundingAmount = &r
	}
	for _, st := range doc.Subtotals {
		root.TaxTotal.Subtotals = append(root.TaxTotal.Subtotals, ublTaxSubtotal{
			TaxableAmount: amount(st.TaxableAmount),
			TaxAmount:     amount(st.TaxAmount),
			Category:      category(st.Category, st.Rate),
		})
	}
	for _, l := range doc.Lines {
		name := truncate(l.Description, itemNameMaxRunes)
		item := ublItem{Name: name, Category: category(l.Category, l.TaxRate)}
		if name != l.Description {
			item.Description = l.Description
		}
		root.Lines = append(root.Lines, ublLine{
			ID:                  strconv.Itoa(l.Index),
			Quantity:            ublQuantity{UnitCode: p.UnitCode, Value: strconv.FormatInt(l.Quantity, 10)},
			LineExtensionAmount: amount(l.NetAmount),
			Item:                item,
			Price:               ublPrice{PriceAmount: amount(l.UnitAmount)},
		})
	}

	body, err := xml.MarshalIndent(root, "", "  ")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(xml.Header) + len(body) + 1)
	buf.WriteString(xml.Header)
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func supplierParty(s Supplier, p Profile) ublParty {
	return ublParty{
		Identification: &ublID{ID: s.TaxID},
		Name:           ublPartyName{Name: s.Name},
		Address:        postalAddress(s.Address, p),
		TaxScheme:      &ublPartyTaxScheme{CompanyID: s.TaxID, TaxScheme: ublID{ID: "VAT"}},
		LegalEntity:    ublLegalEntity{RegistrationName: s.Name, CompanyID: s.Registration},
		Contact:        contact(s.Email),
	}
}

func customerParty(c Customer, p Profile) ublParty {
	party := ublParty{
		Name:        ublPartyName{Name: c.Name},
		Address:     postalAddress(c.Address, p),
		LegalEntity: ublLegalEntity{RegistrationName: c.Name},
		Contact:     contact(c.Email),
	}
	if !c.Individual {
		party.Identification = &ublID{ID: c.TaxID}
		party.TaxScheme = &ublPartyTaxScheme{CompanyID: c.TaxID, TaxScheme: ublID{ID: "VAT"}}
	}
	return party
}

func postalAddress(a canonical.Address, p Profile) ublAddress {
	out := ublAddress{
		StreetName:           a.Line1,
		AdditionalStreetName: a.Line2,
		CityName:             a.City,
		PostalZone:           a.PostalCode,
		Country:              ublCountry{IdentificationCode: strings.ToUpper(a.Country)},
	}
	if out.StreetName == "" {
		out.StreetName = placeholderField
	}
	if out.CityName == "" {
		out.CityName = placeholderField
	}
	if out.Country.IdentificationCode == "" {
		out.Country.IdentificationCode = p.DefaultCountry
	}
	return out
}

func contact(email string) *ublContact {
	if email == "" {
		return nil
	}
	return &ublContact{ElectronicMail: email}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
