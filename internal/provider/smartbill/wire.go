package smartbill

import "encoding/json"

type invoiceRequest struct {
	CompanyVatCode string    `json:"companyVatCode"`
	Client         client    `json:"client"`
	IssueDate      string    `json:"issueDate"`
	DueDate        string    `json:"dueDate,omitempty"`
	SeriesName     string    `json:"seriesName"`
	IsDraft        bool      `json:"isDraft"`
	Currency       string    `json:"currency"`
	Language       string    `json:"language"`
	Products       []product `json:"products"`
	Observations   string    `json:"observations,omitempty"`
}

type client struct {
	Name       string `json:"name"`
	VatCode    string `json:"vatCode"`
	Email      string `json:"email,omitempty"`
	Address    string `json:"address"`
	City       string `json:"city"`
	Country    string `json:"country"`
	IsTaxPayer bool   `json:"isTaxPayer"`
	SaveToDB   bool   `json:"saveToDb"`
}

type product struct {
	Name              string      `json:"name"`
	MeasuringUnitName string      `json:"measuringUnitName"`
	Currency          string      `json:"currency"`
	Quantity          json.Number `json:"quantity"`
	Price             json.Number `json:"price"`
	IsTaxIncluded     bool        `json:"isTaxIncluded"`
	TaxName           string      `json:"taxName"`
	TaxPercentage     json.Number `json:"taxPercentage"`
	IsService         bool        `json:"isService"`
	SaveToDB          bool        `json:"saveToDb"`
}

type invoiceResponse struct {
	ErrorText string `json:"errorText"`
	Message   string `json:"message"`
	Number    string `json:"number"`
	Series    string `json:"series"`
	URL       string `json:"url"`
}

type paymentStatusResponse struct {
	ErrorText          string      `json:"errorText"`
	InvoiceTotalAmount json.Number `json:"invoiceTotalAmount"`
	PaidAmount         json.Number `json:"paidAmount"`
	UnpaidAmount       json.Number `json:"unpaidAmount"`
	Paid               bool        `json:"paid"`
}
