package document

import "github.com/shopspring/decimal"

// Namespaces are the XML namespace URIs written on the document root.
type Namespaces struct {
	Invoice string
	CAC     string
	CBC     string
}

// UBL21 holds the OASIS UBL 2.1 invoice namespaces.
var UBL21 = Namespaces{
	Invoice: "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2",
	CAC:     "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2",
	CBC:     "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2",
}

// Profile carries the provider-specific constants of a document family.
type Profile struct {
	Name             string
	Namespaces       Namespaces
	UBLVersion       string
	CustomizationID  string
	ProfileID        string
	InvoiceTypeCode  string
	PaymentMeansCode string
	UnitCode         string
	DefaultCountry   string

	// NumberPrefix is prepended to the source id when the invoice carries no
	// number hint.
	NumberPrefix    string
	MaxNumberLength int

	// RoundingTolerance is the largest accepted difference, in minor units,
	// between the computed gross total and the invoice total.
	RoundingTolerance int64

	// AllowedTaxRates restricts the rates a line may carry. Empty means any
	// rate between 0 and 100.
	AllowedTaxRates []decimal.Decimal
}

// CIUSRO is the Romanian national profile of EN 16931 used by ANAF e-Factura.
var CIUSRO = Profile{
	Name:              "cius-ro",
	Namespaces:        UBL21,
	UBLVersion:        "2.1",
	CustomizationID:   "urn:cen.eu:en16931:2017#compliant#urn:efactura.mfinante.ro:CIUS-RO:1.3.0",
	ProfileID:         "urn:fdc:peppol.eu:2017:poacc:billing:01:1.0",
	InvoiceTypeCode:   "380",
	PaymentMeansCode:  "42",
	UnitCode:          "C62",
	DefaultCountry:    "RO",
	NumberPrefix:      "AUTO-",
	MaxNumberLength:   20,
	RoundingTolerance: 1,
	AllowedTaxRates: []decimal.Decimal{
		decimal.NewFromInt(0),
		decimal.NewFromInt(5),
		decimal.NewFromInt(9),
		decimal.NewFromInt(11),
		decimal.NewFromInt(19),
		decimal.NewFromInt(21),
	},
}

// EN16931 is the plain European core profile.
var EN16931 = Profile{
	Name:              "en16931",
	Namespaces:        UBL21,
	UBLVersion:        "2.1",
	CustomizationID:   "urn:cen.eu:en16931:2017",
	InvoiceTypeCode:   "380",
	PaymentMeansCode:  "42",
	UnitCode:          "C62",
	DefaultCountry:    "RO",
	NumberPrefix:      "AUTO-",
	RoundingTolerance: 1,
}

func (p Profile) allows(rate decimal.Decimal) bool {
	if len(p.AllowedTaxRates) == 0 {
		return true
	}
	for _, r := range p.AllowedTaxRates {
		if r.Equal(rate) {
			return true
		}
	}
	return false
}
