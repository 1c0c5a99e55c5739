package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/fiscalsync/internal/canonical"
	"github.com/roach88/fiscalsync/internal/engine"
	"github.com/roach88/fiscalsync/internal/provider"
	"github.com/roach88/fiscalsync/internal/store"
)

type processBody struct {
	SourceType    string `json:"source_type" binding:"required,oneof=platform_invoice platform_charge"`
	SourceID      string `json:"source_id" binding:"required,max=255"`
	Provider      string `json:"provider" binding:"required"`
	CustomerTaxID string `json:"customer_tax_id" binding:"required,taxid"`
	InvoiceNumber string `json:"invoice_number" binding:"omitempty,max=64"`
	Manual        bool   `json:"manual"`
}

type batchItemBody struct {
	SourceType    string `json:"source_type" binding:"required,oneof=platform_invoice platform_charge"`
	SourceID      string `json:"source_id" binding:"required,max=255"`
	CustomerTaxID string `json:"customer_tax_id" binding:"required,taxid"`
	InvoiceNumber string `json:"invoice_number" binding:"omitempty,max=64"`
}

type batchBody struct {
	Provider string          `json:"provider" binding:"required"`
	Items    []batchItemBody `json:"items" binding:"required,min=1,max=500,dive"`
}

// HTTPStatus maps an error code to the response status.
func HTTPStatus(code engine.Code) int {
	switch code {
	case "":
		return http.StatusOK
	case engine.CodeValidation, engine.CodeReconciliation, engine.CodeUnsupportedLineItem, engine.CodeNotSupported:
		return http.StatusUnprocessableEntity
	case engine.CodeUnknownProvider, engine.CodeUnsupportedFormat:
		return http.StatusBadRequest
	case engine.CodeNotFound, engine.CodeSourceNotFound:
		return http.StatusNotFound
	case engine.CodeAlreadyInProgress, engine.CodeInvalidState:
		return http.StatusConflict
	case engine.CodeTransient, engine.CodeRateLimited, engine.CodeSourceUnavailable:
		return http.StatusServiceUnavailable
	case engine.CodeAuthentication, engine.CodeValidationRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeResult answers with res. An upload still waiting for the provider's
// verdict is 202.
func writeResult(c *gin.Context, res *engine.Result) {
	if res.Err != nil {
		c.JSON(HTTPStatus(res.Error.Code), res)
		return
	}
	if res.Status == store.StatusProcessing {
		c.JSON(http.StatusAccepted, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func writeError(c *gin.Context, err error) {
	d := engine.Detail(err)
	c.JSON(HTTPStatus(d.Code), gin.H{"error": d})
}

func (s *Server) health(c *gin.Context) {
	if err := s.svc.Ping(c.Request.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) process(c *gin.Context) {
	var body processBody
	if err := c.ShouldBindJSON(&body); err != nil {
		bindError(c, err)
		return
	}
	res := s.svc.Process(c.Request.Context(), engine.Request{
		SourceType:    canonical.SourceType(body.SourceType),
		SourceID:      body.SourceID,
		Provider:      body.Provider,
		CustomerTaxID: body.CustomerTaxID,
		InvoiceNumber: body.InvoiceNumber,
		Manual:        body.Manual,
	})
	if res.Deferred() {
		c.JSON(http.StatusAccepted, res)
		return
	}
	writeResult(c, res)
}

func (s *Server) processBatch(c *gin.Context) {
	var body batchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		bindError(c, err)
		return
	}
	br := engine.BatchRequest{Provider: body.Provider, Items: make([]engine.BatchItem, len(body.Items))}
	for i, item := range body.Items {
		br.Items[i] = engine.BatchItem{
			SourceType:    canonical.SourceType(item.SourceType),
			SourceID:      item.SourceID,
			CustomerTaxID: item.CustomerTaxID,
			InvoiceNumber: item.InvoiceNumber,
		}
	}
	c.JSON(http.StatusOK, s.svc.ProcessBatch(c.Request.Context(), br))
}

func (s *Server) listRecords(c *gin.Context) {
	f := store.RecordFilter{Provider: c.Query("provider"), Limit: 100}
	if v := c.Query("status"); v != "" {
		st, err := store.ParseStatus(v)
		if err != nil {
			writeError(c, &canonical.ValidationError{Field: "status", Message: err.Error()})
			return
		}
		f.Status = st
	}
	recs, err := s.svc.ListRecords(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (s *Server) status(c *gin.Context) {
	writeResult(c, s.svc.Status(c.Request.Context(), c.Param("source_id"), c.Param("provider")))
}

func (s *Server) history(c *gin.Context) {
	h, err := s.svc.History(c.Request.Context(), c.Param("source_id"), c.Param("provider"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) retry(c *gin.Context) {
	writeResult(c, s.svc.Retry(c.Request.Context(), c.Param("source_id"), c.Param("provider")))
}

func (s *Server) cancel(c *gin.Context) {
	writeResult(c, s.svc.Cancel(c.Request.Context(), c.Param("source_id"), c.Param("provider")))
}

func (s *Server) check(c *gin.Context) {
	writeResult(c, s.svc.CheckProviderStatus(c.Request.Context(), c.Param("source_id"), c.Param("provider")))
}

var contentTypes = map[provider.Format]string{
	provider.FormatXML: "application/xml",
	provider.FormatPDF: "application/pdf",
	provider.FormatZIP: "application/zip",
}

func (s *Server) download(c *gin.Context) {
	id := c.Param("document_id")
	data, format, err := s.svc.Download(c.Request.Context(), c.Param("provider"), id, c.DefaultQuery("format", "pdf"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+id+"."+string(format)+`"`)
	c.Data(http.StatusOK, contentTypes[format], data)
}

func (s *Server) retryQueue(c *gin.Context) {
	tasks, err := s.svc.ListRetryQueue(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) removeRetryTask(c *gin.Context) {
	writeResult(c, s.svc.RemoveRetryTask(c.Request.Context(), c.Param("id")))
}

func (s *Server) providers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": s.svc.Providers()})
}

// validateCredentials answers 200 with valid=false when the provider
// rejects the credentials; only an unreachable provider is an error.
func (s *Server) validateCredentials(c *gin.Context) {
	name := c.Param("provider")
	ok, err := s.svc.ValidateCredentials(c.Request.Context(), name)
	if err != nil && engine.CodeOf(err) != engine.CodeAuthentication {
		writeError(c, err)
		return
	}
	resp := gin.H{"provider": name, "valid": ok}
	if err != nil {
		resp["error"] = engine.Detail(err)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) company(c *gin.Context) {
	info, err := s.svc.CompanyInfo(c.Request.Context(), c.Param("provider"), c.Param("tax_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) stats(c *gin.Context) {
	st, err := s.svc.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
