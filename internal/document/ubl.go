package document

import "encoding/xml"

// UBL element tree. Prefixed names are written literally; the root declares
// the matching xmlns attributes.

type ublInvoice struct {
	XMLName              xml.Name         `xml:"Invoice"`
	Xmlns                string           `xml:"xmlns,attr"`
	XmlnsCAC             string           `xml:"xmlns:cac,attr"`
	XmlnsCBC             string           `xml:"xmlns:cbc,attr"`
	UBLVersionID         string           `xml:"cbc:UBLVersionID"`
	CustomizationID      string           `xml:"cbc:CustomizationID"`
	ProfileID            string           `xml:"cbc:ProfileID,omitempty"`
	ID                   string           `xml:"cbc:ID"`
	IssueDate            string           `xml:"cbc:IssueDate"`
	DueDate              string           `xml:"cbc:DueDate,omitempty"`
	InvoiceTypeCode      string           `xml:"cbc:InvoiceTypeCode"`
	DocumentCurrencyCode string           `xml:"cbc:DocumentCurrencyCode"`
	Supplier             ublPartyRole     `xml:"cac:AccountingSupplierParty"`
	Customer             ublPartyRole     `xml:"cac:AccountingCustomerParty"`
	PaymentMeans         *ublPaymentMeans `xml:"cac:PaymentMeans"`
	TaxTotal             ublTaxTotal      `xml:"cac:TaxTotal"`
	MonetaryTotal        ublMonetaryTotal `xml:"cac:LegalMonetaryTotal"`
	Lines                []ublLine        `xml:"cac:InvoiceLine"`
}

type ublAmount struct {
	CurrencyID string `xml:"currencyID,attr"`
	Value      string `xml:",chardata"`
}

type ublQuantity struct {
	UnitCode string `xml:"unitCode,attr"`
	Value    string `xml:",chardata"`
}

type ublID struct {
	ID string `xml:"cbc:ID"`
}

type ublPartyRole struct {
	Party ublParty `xml:"cac:Party"`
}

type ublParty struct {
	Identification *ublID             `xml:"cac:PartyIdentification"`
	Name           ublPartyName       `xml:"cac:PartyName"`
	Address        ublAddress         `xml:"cac:PostalAddress"`
	TaxScheme      *ublPartyTaxScheme `xml:"cac:PartyTaxScheme"`
	LegalEntity    ublLegalEntity     `xml:"cac:PartyLegalEntity"`
	Contact        *ublContact        `xml:"cac:Contact"`
}

type ublPartyName struct {
	Name string `xml:"cbc:Name"`
}

type ublAddress struct {
	StreetName           string     `xml:"cbc:StreetName"`
	AdditionalStreetName string     `xml:"cbc:AdditionalStreetName,omitempty"`
	CityName             string     `xml:"cbc:CityName"`
	PostalZone           string     `xml:"cbc:PostalZone,omitempty"`
	Country              ublCountry `xml:"cac:Country"`
}

type ublCountry struct {
	IdentificationCode string `xml:"cbc:IdentificationCode"`
}

type ublPartyTaxScheme struct {
	CompanyID string `xml:"cbc:CompanyID"`
	TaxScheme ublID  `xml:"cac:TaxScheme"`
}

type ublLegalEntity struct {
	RegistrationName string `xml:"cbc:RegistrationName"`
	CompanyID        string `xml:"cbc:CompanyID,omitempty"`
}

type ublContact struct {
	ElectronicMail string `xml:"cbc:ElectronicMail"`
}

type ublPaymentMeans struct {
	Code string `xml:"cbc:PaymentMeansCode"`
}

type ublTaxTotal struct {
	TaxAmount ublAmount        `xml:"cbc:TaxAmount"`
	Subtotals []ublTaxSubtotal `xml:"cac:TaxSubtotal"`
}

type ublTaxSubtotal struct {
	TaxableAmount ublAmount      `xml:"cbc:TaxableAmount"`
	TaxAmount     ublAmount      `xml:"cbc:TaxAmount"`
	Category      ublTaxCategory `xml:"cac:TaxCategory"`
}

type ublTaxCategory struct {
	ID        string `xml:"cbc:ID"`
	Percent   string `xml:"cbc:Percent"`
	TaxScheme ublID  `xml:"cac:TaxScheme"`
}

type ublMonetaryTotal struct {
	LineExtensionAmount   ublAmount  `xml:"cbc:LineExtensionAmount"`
	TaxExclusiveAmount    ublAmount  `xml:"cbc:TaxExclusiveAmount"`
	TaxInclusiveAmount    ublAmount  `xml:"cbc:TaxInclusiveAmount"`
	PayableRoundingAmount *ublAmount `xml:"cbc:PayableRoundingAmount"`
	PayableAmount         ublAmount  `xml:"cbc:PayableAmount"`
}

type ublLine struct {
	ID                  string      `xml:"cbc:ID"`
	Quantity            ublQuantity `xml:"cbc:InvoicedQuantity"`
	LineExtensionAmount ublAmount   `xml:"cbc:LineExtensionAmount"`
	Item                ublItem     `xml:"cac:Item"`
	Price               ublPrice    `xml:"cac:Price"`
}

type ublItem struct {
	Description string         `xml:"cbc:Description,omitempty"`
	Name        string         `xml:"cbc:Name"`
	Category    ublTaxCategory `xml:"cac:ClassifiedTaxCategory"`
}

type ublPrice struct {
	PriceAmount ublAmount `xml:"cbc:PriceAmount"`
}
