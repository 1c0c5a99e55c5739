package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/roach88/fiscalsync/internal/document"
)

// Status is a provider-side document state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Format selects the representation returned by FetchDocument.
type Format string

const (
	FormatXML Format = "xml"
	FormatPDF Format = "pdf"
	FormatZIP Format = "zip"
)

// ParseFormat converts s into a Format, defaulting to PDF.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatPDF, nil
	case FormatXML, FormatPDF, FormatZIP:
		return f, nil
	default:
		return "", &Error{Code: CodeUnsupportedFormat, Message: fmt.Sprintf("unknown format %q", s)}
	}
}

// SubmitResult is the provider's answer to an accepted upload.
type SubmitResult struct {
	ProviderDocumentID string `json:"provider_document_id"`
	Status             Status `json:"status"`
}

// StatusReport is the provider's current view of a submitted document.
type StatusReport struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`

	// DownloadRef is a provider-specific handle for fetching the final
	// document when it differs from the submission id.
	DownloadRef string `json:"download_ref,omitempty"`
}

// CompanyInfo is public registry data about a tax id.
type CompanyInfo struct {
	TaxID              string `json:"tax_id"`
	Name               string `json:"name"`
	Address            string `json:"address,omitempty"`
	PostalCode         string `json:"postal_code,omitempty"`
	RegistrationNumber string `json:"registration_number,omitempty"`
	Phone              string `json:"phone,omitempty"`
	VATPayer           bool   `json:"vat_payer"`
}

// Adapter is the capability set every provider implements.
type Adapter interface {
	Name() string
	Profile() document.Profile

	// ValidateCredentials returns an AUTHENTICATION error for rejected
	// credentials and a TRANSIENT error when the provider is unreachable.
	ValidateCredentials(ctx context.Context) (bool, error)

	Submit(ctx context.Context, doc *document.Document) (SubmitResult, error)
	GetStatus(ctx context.Context, providerDocumentID string) (StatusReport, error)
	FetchDocument(ctx context.Context, providerDocumentID string, format Format) ([]byte, error)
}

// ErrCompanyNotFound is returned by CompanyLookup for unknown tax ids.
var ErrCompanyNotFound = errors.New("company not found")

// CompanyLookup is implemented by adapters that can resolve tax ids.
type CompanyLookup interface {
	GetCompanyInfo(ctx context.Context, taxID string) (*CompanyInfo, error)
}

// LookupCompany returns the company lookup capability of a, following
// wrappers installed by Throttle.
func LookupCompany(a Adapter) (CompanyLookup, bool) {
	if w, ok := a.(*throttled); ok {
		inner, ok := w.Adapter.(CompanyLookup)
		if !ok {
			return nil, false
		}
		return &throttledLookup{t: w, inner: inner}, true
	}
	cl, ok := a.(CompanyLookup)
	return cl, ok
}

// Config is handed to an adapter constructor.
type Config struct {
	Endpoint    string
	Credentials map[string]string
	Options     map[string]string

	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Credential returns the named credential or an error naming it.
func (c Config) Credential(key string) (string, error) {
	v := strings.TrimSpace(c.Credentials[key])
	if v == "" {
		return "", fmt.Errorf("missing credential %q", key)
	}
	return v, nil
}

// Option returns the named option or def.
func (c Config) Option(key, def string) string {
	if v := strings.TrimSpace(c.Options[key]); v != "" {
		return v
	}
	return def
}

// Client returns the configured HTTP client or http.DefaultClient.
func (c Config) Client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Log returns the configured logger or the default one.
func (c Config) Log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
