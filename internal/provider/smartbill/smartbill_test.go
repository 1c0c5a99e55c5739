package smartbill

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fiscalsync/internal/canonical"
	"github.com/roach88/fiscalsync/internal/document"
	"github.com/roach88/fiscalsync/internal/provider"
)

func newTestAdapter(t *testing.T, h http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, token, ok := r.BasicAuth()
		if !ok || user != "ops@fiscallabs.ro" || token != "static-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	a, err := New(provider.Config{
		Endpoint: srv.URL,
		Credentials: map[string]string{
			"username":    "ops@fiscallabs.ro",
			"token":       "static-token",
			"company_cif": "RO18547290",
		},
		Options:    map[string]string{"series": "FL"},
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return a.(*Adapter)
}

func testDocument(t *testing.T, taxID string) *document.Document {
	t.Helper()
	inv, err := canonical.New(canonical.Invoice{
		SourceType:    canonical.SourcePlatformCharge,
		SourceID:      "ch_3PabcXYZ",
		CustomerName:  "Ion Popescu",
		CustomerEmail: "ion@example.ro",
		CustomerTaxID: taxID,
		CustomerAddress: canonical.Address{
			Line1: "Str. Lunga 5",
			Line2: "Ap. 3",
			City:  "Brasov",
		},
		Currency:    "RON",
		AmountTotal: 1090 + 1190,
		IssuedAt:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		LineItems: []canonical.LineItem{
			{Description: "Ebook", UnitAmount: 1000, Quantity: 1, TaxRate: decimal.NewFromInt(9)},
			{Description: "Course", UnitAmount: 500, Quantity: 2, TaxRate: decimal.NewFromInt(19)},
		},
	})
	require.NoError(t, err)
	doc, err := document.NewGenerator(document.Supplier{Name: "Fiscal Labs SRL", TaxID: "RO18547290"}).Generate(inv, document.EN16931)
	require.NoError(t, err)
	return doc
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(provider.Config{Credentials: map[string]string{"username": "u", "token": "t"}})
	assert.ErrorContains(t, err, "company_cif")
}

func TestSubmit_MapsInvoice(t *testing.T) {
	var got invoiceRequest
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/invoice", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"errorText":"","message":"","number":"0042","series":"FL","url":""}`))
	})

	res, err := a.Submit(context.Background(), testDocument(t, canonical.IndividualTaxID))
	require.NoError(t, err)
	assert.Equal(t, "FL-0042", res.ProviderDocumentID)
	assert.Equal(t, provider.StatusAccepted, res.Status)

	assert.Equal(t, "RO18547290", got.CompanyVatCode)
	assert.Equal(t, "FL", got.SeriesName)
	assert.Equal(t, "-", got.Client.VatCode)
	assert.False(t, got.Client.IsTaxPayer)
	assert.Equal(t, "Str. Lunga 5, Ap. 3", got.Client.Address)
	assert.Equal(t, "RO", got.Client.Country)
	assert.Equal(t, "2025-03-01", got.IssueDate)

	require.Len(t, got.Products, 2)
	assert.Equal(t, "Redusa", got.Products[0].TaxName)
	assert.Equal(t, json.Number("10.00"), got.Products[0].Price)
	assert.Equal(t, "Normala", got.Products[1].TaxName)
	assert.Equal(t, json.Number("2"), got.Products[1].Quantity)
	assert.Equal(t, json.Number("5.00"), got.Products[1].Price)
	assert.Equal(t, "buc", got.Products[1].MeasuringUnitName)
}

func TestSubmit_ErrorText(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errorText":"Clientul nu are cod fiscal valid"}`))
	})
	_, err := a.Submit(context.Background(), testDocument(t, "RO123456"))
	assert.Equal(t, provider.CodeValidationRejected, provider.CodeOf(err))
}

func TestSubmit_RateLimited(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := a.Submit(context.Background(), testDocument(t, "RO123456"))
	assert.Equal(t, provider.CodeRateLimited, provider.CodeOf(err))
	assert.Equal(t, 30*time.Second, provider.RetryAfterOf(err))
}

func TestValidateCredentials(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tax", r.URL.Path)
		assert.Equal(t, "RO18547290", r.URL.Query().Get("cif"))
		_, _ = w.Write([]byte(`{"taxes":[]}`))
	})
	ok, err := a.ValidateCredentials(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	a.token = "revoked"
	ok, err = a.ValidateCredentials(context.Background())
	assert.False(t, ok)
	assert.Equal(t, provider.CodeAuthentication, provider.CodeOf(err))
}

func TestGetStatus(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invoice/paymentstatus", r.URL.Path)
		assert.Equal(t, "FL", r.URL.Query().Get("seriesname"))
		assert.Equal(t, "0042", r.URL.Query().Get("number"))
		_, _ = w.Write([]byte(`{"errorText":"","invoiceTotalAmount":22.8,"paidAmount":22.8,"unpaidAmount":0,"paid":true}`))
	})
	rep, err := a.GetStatus(context.Background(), "FL-0042")
	require.NoError(t, err)
	assert.Equal(t, provider.StatusAccepted, rep.Status)
	assert.Equal(t, "paid", rep.Message)

	_, err = a.GetStatus(context.Background(), "garbage")
	assert.Equal(t, provider.CodeValidationRejected, provider.CodeOf(err))
}

func TestFetchDocument(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invoice/pdf", r.URL.Path)
		_, _ = w.Write([]byte("%PDF-1.7"))
	})
	pdf, err := a.FetchDocument(context.Background(), "FL-0042", provider.FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(pdf))

	_, err = a.FetchDocument(context.Background(), "FL-0042", provider.FormatXML)
	assert.Equal(t, provider.CodeUnsupportedFormat, provider.CodeOf(err))
}

func TestNoCompanyLookup(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	_, ok := provider.LookupCompany(a)
	assert.False(t, ok)
}

func TestParseID(t *testing.T) {
	s, n, ok := parseID("FL-A-0042")
	require.True(t, ok)
	assert.Equal(t, "FL-A", s)
	assert.Equal(t, "0042", n)

	_, _, ok = parseID("-1")
	assert.False(t, ok)
	_, _, ok = parseID("FL-")
	assert.False(t, ok)
}
