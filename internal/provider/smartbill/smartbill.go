// Package smartbill implements the provider adapter for the SmartBill
// invoicing service. Requests carry HTTP basic auth built from the account
// username and a static API token.
package smartbill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/fiscalsync/internal/canonical"
	"github.com/roach88/fiscalsync/internal/document"
	"github.com/roach88/fiscalsync/internal/provider"
)

// Name is the registry name of this adapter.
const Name = "smartbill"

const (
	defaultEndpoint = "https://ws.smartbill.ro/SBORO/api"
	nameMaxRunes    = 200
)

// Adapter talks to the SmartBill REST API.
type Adapter struct {
	base     string
	username string
	token    string
	cif      string
	series   string
	unit     string
	client   *http.Client
	log      *slog.Logger
}

var _ provider.Adapter = (*Adapter)(nil)

// New builds the adapter. Required credentials are username, token and
// company_cif. Options: series (default FACT) and measuring_unit (default buc).
func New(cfg provider.Config) (provider.Adapter, error) {
	username, err := cfg.Credential("username")
	if err != nil {
		return nil, err
	}
	token, err := cfg.Credential("token")
	if err != nil {
		return nil, err
	}
	cif, err := cfg.Credential("company_cif")
	if err != nil {
		return nil, err
	}
	base := strings.TrimRight(cfg.Endpoint, "/")
	if base == "" {
		base = defaultEndpoint
	}
	return &Adapter{
		base:     base,
		username: username,
		token:    token,
		cif:      canonical.NormalizeTaxID(cif),
		series:   cfg.Option("series", "FACT"),
		unit:     cfg.Option("measuring_unit", "buc"),
		client:   cfg.Client(),
		log:      cfg.Log().With("provider", Name),
	}, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Profile() document.Profile { return document.EN16931 }

// ValidateCredentials reads the account's VAT configuration.
func (a *Adapter) ValidateCredentials(ctx context.Context) (bool, error) {
	q := url.Values{}
	q.Set("cif", a.cif)
	req, err := a.newRequest(ctx, http.MethodGet, "/tax", q, nil)
	if err != nil {
		return false, err
	}
	if _, err := provider.Do(a.client, Name, req); err != nil {
		return false, err
	}
	return true, nil
}

// Submit issues the invoice. SmartBill numbers it synchronously, so a
// successful call is already final.
func (a *Adapter) Submit(ctx context.Context, doc *document.Document) (provider.SubmitResult, error) {
	payload, err := json.Marshal(a.invoicePayload(doc))
	if err != nil {
		return provider.SubmitResult{}, fmt.Errorf("smartbill: encode invoice: %w", err)
	}
	req, err := a.newRequest(ctx, http.MethodPost, "/invoice", nil, payload)
	if err != nil {
		return provider.SubmitResult{}, err
	}

	body, err := provider.Do(a.client, Name, req)
	if err != nil {
		return provider.SubmitResult{}, err
	}
	var resp invoiceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return provider.SubmitResult{}, provider.TransientError(Name, "unreadable invoice response", err)
	}
	if resp.ErrorText != "" {
		return provider.SubmitResult{}, provider.ValidationRejectedError(Name, resp.ErrorText, nil)
	}
	if resp.Number == "" {
		return provider.SubmitResult{}, provider.ValidationRejectedError(Name, "response carried no invoice number", nil)
	}

	id := formatID(resp.Series, resp.Number)
	a.log.Debug("invoice issued", "number", doc.Number, "smartbill_id", id)
	return provider.SubmitResult{ProviderDocumentID: id, Status: provider.StatusAccepted}, nil
}

// GetStatus checks that the invoice exists and reports its payment state.
func (a *Adapter) GetStatus(ctx context.Context, id string) (provider.StatusReport, error) {
	q, err := a.invoiceQuery(id)
	if err != nil {
		return provider.StatusReport{}, err
	}
	req, err := a.newRequest(ctx, http.MethodGet, "/invoice/paymentstatus", q, nil)
	if err != nil {
		return provider.StatusReport{}, err
	}
	body, err := provider.Do(a.client, Name, req)
	if err != nil {
		return provider.StatusReport{}, err
	}
	var resp paymentStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return provider.StatusReport{}, provider.TransientError(Name, "unreadable status response", err)
	}
	if resp.ErrorText != "" {
		return provider.StatusReport{Status: provider.StatusRejected, Message: resp.ErrorText}, nil
	}
	msg := "unpaid"
	if resp.Paid {
		msg = "paid"
	}
	return provider.StatusReport{Status: provider.StatusAccepted, Message: msg, DownloadRef: id}, nil
}

// FetchDocument downloads the PDF rendering. SmartBill exposes no XML.
func (a *Adapter) FetchDocument(ctx context.Context, id string, format provider.Format) ([]byte, error) {
	if format != provider.FormatPDF {
		return nil, provider.UnsupportedFormatError(Name, format)
	}
	q, err := a.invoiceQuery(id)
	if err != nil {
		return nil, err
	}
	req, err := a.newRequest(ctx, http.MethodGet, "/invoice/pdf", q, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/octet-stream")
	return provider.Do(a.client, Name, req)
}

func (a *Adapter) newRequest(ctx context.Context, method, path string, q url.Values, body []byte) (*http.Request, error) {
	u := a.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("smartbill: build request: %w", err)
	}
	req.SetBasicAuth(a.username, a.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (a *Adapter) invoiceQuery(id string) (url.Values, error) {
	series, number, ok := parseID(id)
	if !ok {
		return nil, provider.ValidationRejectedError(Name, fmt.Sprintf("malformed invoice id %q", id), nil)
	}
	q := url.Values{}
	q.Set("cif", a.cif)
	q.Set("seriesname", series)
	q.Set("number", number)
	return q, nil
}

func (a *Adapter) invoicePayload(doc *document.Document) invoiceRequest {
	c := doc.Customer
	vatCode := c.TaxID
	if c.Individual {
		vatCode = canonical.IndividualTaxID
	}
	address := strings.TrimSpace(strings.Join(nonEmpty(c.Address.Line1, c.Address.Line2), ", "))
	if address == "" {
		address = "N/A"
	}
	city := c.Address.City
	if city == "" {
		city = "N/A"
	}
	country := c.Address.Country
	if country == "" {
		country = "RO"
	}

	req := invoiceRequest{
		CompanyVatCode: a.cif,
		Client: client{
			Name:       truncate(c.Name, nameMaxRunes),
			VatCode:    vatCode,
			Email:      c.Email,
			Address:    address,
			City:       city,
			Country:    country,
			IsTaxPayer: !c.Individual,
		},
		IssueDate:    doc.IssueDate.Format("2006-01-02"),
		SeriesName:   a.series,
		Currency:     doc.Currency,
		Language:     "RO",
		Observations: fmt.Sprintf("Ref: %s (%s)", doc.SourceID, doc.Number),
	}
	if !doc.DueDate.IsZero() {
		req.DueDate = doc.DueDate.Format("2006-01-02")
	}
	for _, l := range doc.Lines {
		req.Products = append(req.Products, product{
			Name:              truncate(l.Description, nameMaxRunes),
			MeasuringUnitName: a.unit,
			Currency:          doc.Currency,
			Quantity:          json.Number(fmt.Sprint(l.Quantity)),
			Price:             json.Number(doc.FormatAmount(l.UnitAmount)),
			IsTaxIncluded:     false,
			TaxName:           taxName(l.TaxRate),
			TaxPercentage:     json.Number(l.TaxRate.String()),
			IsService:         true,
		})
	}
	return req
}

func taxName(rate decimal.Decimal) string {
	switch {
	case rate.IsZero():
		return "Scutit"
	case rate.LessThan(decimal.NewFromInt(19)):
		return "Redusa"
	default:
		return "Normala"
	}
}

func formatID(series, number string) string {
	return series + "-" + number
}

func parseID(id string) (series, number string, ok bool) {
	i := strings.LastIndex(id, "-")
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
