// Package anaf implements the provider adapter for the Romanian ANAF
// e-Factura system. Requests are authorized with OAuth2 client credentials;
// documents are uploaded as CIUS-RO UBL XML.
package anaf

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/roach88/fiscalsync/internal/canonical"
	"github.com/roach88/fiscalsync/internal/document"
	"github.com/roach88/fiscalsync/internal/provider"
)

// Name is the registry name of this adapter.
const Name = "anaf"

const (
	defaultEndpoint   = "https://api.anaf.ro"
	defaultPublicBase = "https://webservicesp.anaf.ro"
	defaultEnv        = "prod"
)

// ErrCompanyNotFound is returned by GetCompanyInfo for unknown tax ids.
var ErrCompanyNotFound = provider.ErrCompanyNotFound

// Adapter talks to the e-Factura REST API.
type Adapter struct {
	base       string
	publicBase string
	env        string
	oauth      clientcredentials.Config
	baseClient *http.Client
	api        *http.Client
	log        *slog.Logger
	now        func() time.Time
}

var (
	_ provider.Adapter       = (*Adapter)(nil)
	_ provider.CompanyLookup = (*Adapter)(nil)
)

// New builds the adapter. Required credentials are client_id and
// client_secret. Recognized options: token_url, env (prod|test),
// public_base and scope.
func New(cfg provider.Config) (provider.Adapter, error) {
	clientID, err := cfg.Credential("client_id")
	if err != nil {
		return nil, err
	}
	secret, err := cfg.Credential("client_secret")
	if err != nil {
		return nil, err
	}

	base := strings.TrimRight(cfg.Endpoint, "/")
	if base == "" {
		base = defaultEndpoint
	}
	env := cfg.Option("env", defaultEnv)
	if env != "prod" && env != "test" {
		return nil, fmt.Errorf("anaf: env must be prod or test, got %q", env)
	}

	a := &Adapter{
		base:       base,
		publicBase: strings.TrimRight(cfg.Option("public_base", defaultPublicBase), "/"),
		env:        env,
		oauth: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: secret,
			TokenURL:     cfg.Option("token_url", base+"/oauth2/token"),
		},
		baseClient: cfg.Client(),
		log:        cfg.Log().With("provider", Name),
		now:        time.Now,
	}
	if scope := cfg.Option("scope", ""); scope != "" {
		a.oauth.Scopes = strings.Fields(scope)
	}
	a.api = a.oauth.Client(a.tokenContext(context.Background()))
	return a, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Profile() document.Profile { return document.CIUSRO }

func (a *Adapter) tokenContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.baseClient)
}

// ValidateCredentials requests a fresh token from the OAuth2 endpoint.
func (a *Adapter) ValidateCredentials(ctx context.Context) (bool, error) {
	tok, err := a.oauth.Token(a.tokenContext(ctx))
	if err != nil {
		return false, provider.ClassifyTransport(Name, err)
	}
	return tok.Valid(), nil
}

// Submit uploads the UBL XML. B2C documents go to the dedicated endpoint.
func (a *Adapter) Submit(ctx context.Context, doc *document.Document) (provider.SubmitResult, error) {
	op := "upload"
	if doc.Customer.Individual {
		op = "uploadb2c"
	}
	q := url.Values{}
	q.Set("standard", "UBL")
	q.Set("cif", canonical.StripCountryPrefix(doc.Supplier.TaxID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.restURL(op, q), bytes.NewReader(doc.XML))
	if err != nil {
		return provider.SubmitResult{}, fmt.Errorf("anaf: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	body, err := provider.Do(a.api, Name, req)
	if err != nil {
		return provider.SubmitResult{}, err
	}

	var resp uploadResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return provider.SubmitResult{}, provider.TransientError(Name, "unreadable upload response", err)
	}
	if resp.ExecutionStatus != "0" || resp.UploadIndex == "" {
		return provider.SubmitResult{}, provider.ValidationRejectedError(Name, resp.errorText("upload rejected"), nil)
	}

	a.log.Debug("document uploaded", "number", doc.Number, "index", resp.UploadIndex, "b2c", doc.Customer.Individual)
	return provider.SubmitResult{ProviderDocumentID: resp.UploadIndex, Status: provider.StatusPending}, nil
}

// GetStatus queries the processing state of an upload index.
func (a *Adapter) GetStatus(ctx context.Context, id string) (provider.StatusReport, error) {
	q := url.Values{}
	q.Set("id_incarcare", id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.restURL("stareMesaj", q), nil)
	if err != nil {
		return provider.StatusReport{}, fmt.Errorf("anaf: build status request: %w", err)
	}

	body, err := provider.Do(a.api, Name, req)
	if err != nil {
		return provider.StatusReport{}, err
	}

	var resp statusResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return provider.StatusReport{}, provider.TransientError(Name, "unreadable status response", err)
	}

	switch strings.ToLower(strings.TrimSpace(resp.State)) {
	case "ok":
		return provider.StatusReport{Status: provider.StatusAccepted, DownloadRef: resp.DownloadID}, nil
	case "nok", "xml cu erori nepreluat de sistem":
		return provider.StatusReport{Status: provider.StatusRejected, DownloadRef: resp.DownloadID, Message: resp.errorText(resp.State)}, nil
	case "in prelucrare":
		return provider.StatusReport{Status: provider.StatusPending}, nil
	case "":
		return provider.StatusReport{}, provider.ValidationRejectedError(Name, resp.errorText("unknown upload index"), nil)
	default:
		return provider.StatusReport{Status: provider.StatusPending, Message: resp.State}, nil
	}
}

// FetchDocument downloads the signed archive for an accepted upload. The xml
// format extracts the invoice from the archive and pdf renders it through
// the public transformation service.
func (a *Adapter) FetchDocument(ctx context.Context, id string, format provider.Format) ([]byte, error) {
	switch format {
	case provider.FormatZIP, provider.FormatXML, provider.FormatPDF:
	default:
		return nil, provider.UnsupportedFormatError(Name, format)
	}

	rep, err := a.GetStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case rep.Status == provider.StatusPending:
		return nil, provider.TransientError(Name, "document still being processed", nil)
	case rep.DownloadRef == "":
		return nil, provider.ValidationRejectedError(Name, "no download available: "+rep.Message, nil)
	}

	q := url.Values{}
	q.Set("id", rep.DownloadRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.restURL("descarcare", q), nil)
	if err != nil {
		return nil, fmt.Errorf("anaf: build download request: %w", err)
	}
	archive, err := provider.Do(a.api, Name, req)
	if err != nil {
		return nil, err
	}
	if format == provider.FormatZIP {
		return archive, nil
	}

	invoiceXML, err := extractInvoice(archive)
	if err != nil {
		return nil, provider.TransientError(Name, "corrupt download archive", err)
	}
	if format == provider.FormatXML {
		return invoiceXML, nil
	}
	return a.renderPDF(ctx, invoiceXML)
}

func (a *Adapter) renderPDF(ctx context.Context, invoiceXML []byte) ([]byte, error) {
	u := fmt.Sprintf("%s/%s/FCTEL/rest/transformare/FACT1/DA", a.publicBase, a.env)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(invoiceXML))
	if err != nil {
		return nil, fmt.Errorf("anaf: build transform request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	return provider.Do(a.baseClient, Name, req)
}

// GetCompanyInfo resolves a tax id through the public VAT payer registry.
func (a *Adapter) GetCompanyInfo(ctx context.Context, taxID string) (*provider.CompanyInfo, error) {
	cui, err := strconv.ParseInt(canonical.StripCountryPrefix(taxID), 10, 64)
	if err != nil {
		return nil, &canonical.ValidationError{Field: "tax_id", Message: fmt.Sprintf("%q is not a numeric CUI", taxID)}
	}
	payload, err := json.Marshal([]tvaQuery{{CUI: cui, Date: a.now().Format("2006-01-02")}})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.publicBase+"/api/PlatitorTvaRest/v9/tva", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("anaf: build lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := provider.Do(a.baseClient, Name, req)
	if err != nil {
		return nil, err
	}
	var resp tvaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, provider.TransientError(Name, "unreadable lookup response", err)
	}
	if len(resp.Found) == 0 {
		return nil, ErrCompanyNotFound
	}

	f := resp.Found[0]
	return &provider.CompanyInfo{
		TaxID:              strconv.FormatInt(f.General.CUI, 10),
		Name:               f.General.Name,
		Address:            f.General.Address,
		PostalCode:         f.General.PostalCode,
		RegistrationNumber: f.General.RegCom,
		Phone:              f.General.Phone,
		VATPayer:           f.VAT.Registered,
	}, nil
}

func (a *Adapter) restURL(op string, q url.Values) string {
	u := fmt.Sprintf("%s/%s/FCTEL/rest/%s", a.base, a.env, op)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func extractInvoice(archive []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".xml") || strings.HasPrefix(f.Name, "semnatura_") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, errors.New("archive contains no invoice xml")
}
