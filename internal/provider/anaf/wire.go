package anaf

import (
	"encoding/xml"
	"strings"
)

type apiError struct {
	Message string `xml:"errorMessage,attr"`
}

type uploadResponse struct {
	XMLName         xml.Name   `xml:"header"`
	ExecutionStatus string     `xml:"ExecutionStatus,attr"`
	UploadIndex     string     `xml:"index_incarcare,attr"`
	Errors          []apiError `xml:"Errors"`
}

func (r uploadResponse) errorText(fallback string) string {
	return joinErrors(r.Errors, fallback)
}

type statusResponse struct {
	XMLName    xml.Name   `xml:"header"`
	State      string     `xml:"stare,attr"`
	DownloadID string     `xml:"id_descarcare,attr"`
	Errors     []apiError `xml:"Errors"`
}

func (r statusResponse) errorText(fallback string) string {
	return joinErrors(r.Errors, fallback)
}

func joinErrors(errs []apiError, fallback string) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if m := strings.TrimSpace(e.Message); m != "" {
			msgs = append(msgs, m)
		}
	}
	if len(msgs) == 0 {
		return fallback
	}
	return strings.Join(msgs, "; ")
}

type tvaQuery struct {
	CUI  int64  `json:"cui"`
	Date string `json:"data"`
}

type tvaResponse struct {
	Code    int          `json:"cod"`
	Message string       `json:"message"`
	Found   []tvaCompany `json:"found"`
}

type tvaCompany struct {
	General struct {
		CUI        int64  `json:"cui"`
		Name       string `json:"denumire"`
		Address    string `json:"adresa"`
		RegCom     string `json:"nrRegCom"`
		Phone      string `json:"telefon"`
		PostalCode string `json:"codPostal"`
	} `json:"date_generale"`
	VAT struct {
		Registered bool `json:"scpTVA"`
	} `json:"inregistrare_scop_Tva"`
}
