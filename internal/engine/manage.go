package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/fiscalsync/internal/canonical"
	"github.com/roach88/fiscalsync/internal/provider"
	"github.com/roach88/fiscalsync/internal/store"
)

// Status returns the current ledger state of (sourceID, providerName).
func (e *Engine) Status(ctx context.Context, sourceID, providerName string) *Result {
	res := &Result{SourceID: sourceID, Provider: providerName}
	rec, err := e.store.FindRecord(ctx, strings.TrimSpace(sourceID), strings.TrimSpace(providerName))
	if err != nil {
		return res.fail(err)
	}
	res.fromRecord(rec)
	if rec.Status == store.StatusFailedRetryable {
		e.attachRetry(ctx, res)
	}
	return res
}

// History returns the record with its retry task, events and documents.
func (e *Engine) History(ctx context.Context, sourceID, providerName string) (*History, error) {
	rec, err := e.store.FindRecord(ctx, strings.TrimSpace(sourceID), strings.TrimSpace(providerName))
	if err != nil {
		return nil, err
	}
	h := &History{Record: rec}
	if task, err := e.store.RetryTaskForRecord(ctx, rec.ID); err == nil {
		h.RetryTask = &task
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if h.Events, err = e.store.ListEvents(ctx, rec.ID); err != nil {
		return nil, err
	}
	if h.Documents, err = e.store.ListDocuments(ctx, rec.ID); err != nil {
		return nil, err
	}
	return h, nil
}

// ListRetryQueue returns every scheduled retry, soonest first.
func (e *Engine) ListRetryQueue(ctx context.Context) ([]store.RetryTask, error) {
	return e.store.ListRetryTasks(ctx)
}

// ListRecords returns ledger records matching f.
func (e *Engine) ListRecords(ctx context.Context, f store.RecordFilter) ([]store.Record, error) {
	return e.store.ListRecords(ctx, f)
}

// Stats summarizes the ledger.
func (e *Engine) Stats(ctx context.Context) (store.Stats, error) {
	return e.store.Stats(ctx)
}

// Ping checks that the ledger is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// Retry manually resubmits an existing record with the request data it
// was first created with.
func (e *Engine) Retry(ctx context.Context, sourceID, providerName string) *Result {
	rec, err := e.store.FindRecord(ctx, strings.TrimSpace(sourceID), strings.TrimSpace(providerName))
	if err != nil {
		return (&Result{SourceID: sourceID, Provider: providerName}).fail(err)
	}
	return e.ManualRetry(ctx, Request{
		SourceType:    canonical.SourceType(rec.SourceType),
		SourceID:      rec.SourceID,
		Provider:      rec.Provider,
		CustomerTaxID: rec.CustomerTaxID,
	})
}

// Cancel stops the scheduled retries of a failed_retryable record, moving
// it to failed_permanent. Any other status is an invalid_state error.
func (e *Engine) Cancel(ctx context.Context, sourceID, providerName string) *Result {
	res := &Result{SourceID: sourceID, Provider: providerName}
	rec, err := e.store.FindRecord(ctx, strings.TrimSpace(sourceID), strings.TrimSpace(providerName))
	if err != nil {
		return res.fail(err)
	}
	return e.cancel(ctx, res, rec)
}

// RemoveRetryTask cancels the record owning the retry task taskID.
func (e *Engine) RemoveRetryTask(ctx context.Context, taskID string) *Result {
	res := &Result{}
	task, err := e.store.GetRetryTask(ctx, taskID)
	if err != nil {
		return res.fail(err)
	}
	rec, err := e.store.GetRecord(ctx, task.RecordID)
	if err != nil {
		return res.fail(err)
	}
	return e.cancel(ctx, res, rec)
}

func (e *Engine) cancel(ctx context.Context, res *Result, rec store.Record) *Result {
	res.fromRecord(rec)
	if rec.Status != store.StatusFailedRetryable {
		return res.fail(&StateError{
			SourceID: rec.SourceID,
			Provider: rec.Provider,
			Status:   rec.Status,
			Message:  "only records awaiting a retry can be cancelled",
		})
	}
	msg := "cancelled by operator"
	out, err := e.store.Transition(ctx, store.Transition{
		RecordID:  rec.ID,
		From:      []store.Status{store.StatusFailedRetryable},
		To:        store.StatusFailedPermanent,
		Now:       e.now(),
		LastError: &msg,
		Event:     store.EventInput{Action: store.ActionManualCancel, Result: store.ResultSuccess, Detail: msg},
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			if cur, gerr := e.store.GetRecord(ctx, rec.ID); gerr == nil {
				res.fromRecord(cur)
				return res.fail(&StateError{
					SourceID: cur.SourceID,
					Provider: cur.Provider,
					Status:   cur.Status,
					Message:  "record changed while cancelling",
				})
			}
		}
		return res.fail(err)
	}
	e.recordLogger(out).Info("retries cancelled")
	return res.fromRecord(out)
}

// CheckProviderStatus asks the provider for its verdict on the record's
// submitted document. A record still processing is settled when the
// provider has accepted or rejected the document.
func (e *Engine) CheckProviderStatus(ctx context.Context, sourceID, providerName string) *Result {
	res := &Result{SourceID: sourceID, Provider: providerName}
	adapter, err := e.providers.Get(strings.TrimSpace(providerName))
	if err != nil {
		return res.fail(err)
	}
	rec, err := e.store.FindRecord(ctx, strings.TrimSpace(sourceID), adapter.Name())
	if err != nil {
		return res.fail(err)
	}
	return e.checkStatus(ctx, adapter, rec)
}

// SettleAwaiting polls the provider for a record uploaded but not yet
// decided. It implements retry.Runner.
func (e *Engine) SettleAwaiting(ctx context.Context, rec store.Record) error {
	adapter, err := e.providers.Get(rec.Provider)
	if err != nil {
		return err
	}
	return e.checkStatus(ctx, adapter, rec).Err
}

func (e *Engine) checkStatus(ctx context.Context, adapter provider.Adapter, rec store.Record) *Result {
	res := (&Result{}).fromRecord(rec)
	if rec.ProviderDocumentID == "" {
		return res.fail(&StateError{
			SourceID: rec.SourceID,
			Provider: rec.Provider,
			Status:   rec.Status,
			Message:  "nothing has been submitted to the provider yet",
		})
	}

	rep, err := adapter.GetStatus(ctx, rec.ProviderDocumentID)
	if err != nil {
		e.appendEvent(ctx, rec, store.ActionStatusCheck, store.ResultError, err.Error())
		return res.fail(err)
	}
	res.ProviderStatus = rep.Status

	detail := "provider reports " + string(rep.Status)
	if rep.Message != "" {
		detail += ": " + rep.Message
	}
	if rec.Status != store.StatusProcessing || rep.Status == provider.StatusPending {
		e.appendEvent(ctx, rec, store.ActionStatusCheck, store.ResultSuccess, detail)
		return res
	}

	t := store.Transition{
		RecordID: rec.ID,
		From:     []store.Status{store.StatusProcessing},
		Now:      e.now(),
	}
	switch rep.Status {
	case provider.StatusAccepted:
		cleared := ""
		t.To = store.StatusCompleted
		t.LastError = &cleared
		t.Event = store.EventInput{Action: store.ActionStatusCheck, Result: store.ResultSuccess, Detail: detail}
	case provider.StatusRejected:
		t.To = store.StatusFailedPermanent
		t.LastError = &detail
		t.Event = store.EventInput{Action: store.ActionStatusCheck, Result: store.ResultError, Detail: detail}
	default:
		return res.fail(fmt.Errorf("provider %s returned unknown status %q", rec.Provider, rep.Status))
	}

	out, err := e.store.Transition(ctx, t)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			if cur, gerr := e.store.GetRecord(ctx, rec.ID); gerr == nil {
				return res.fromRecord(cur)
			}
		}
		return res.fail(err)
	}
	e.recordLogger(out).Info("provider verdict recorded", "status", out.Status, "provider_status", rep.Status)
	return res.fromRecord(out)
}

// Download fetches a document from the provider in the requested format.
// When the id belongs to a ledger record the download is added to its
// audit trail.
func (e *Engine) Download(ctx context.Context, providerName, providerDocumentID, format string) ([]byte, provider.Format, error) {
	f, err := provider.ParseFormat(format)
	if err != nil {
		return nil, "", err
	}
	adapter, err := e.providers.Get(strings.TrimSpace(providerName))
	if err != nil {
		return nil, "", err
	}
	if strings.TrimSpace(providerDocumentID) == "" {
		return nil, "", &canonical.ValidationError{Field: "provider_document_id", Message: "is required"}
	}

	data, err := adapter.FetchDocument(ctx, providerDocumentID, f)

	if rec, ferr := e.store.FindRecordByProviderDocument(ctx, adapter.Name(), providerDocumentID); ferr == nil {
		if err != nil {
			e.appendEvent(ctx, rec, store.ActionDownload, store.ResultError, err.Error())
		} else {
			e.appendEvent(ctx, rec, store.ActionDownload, store.ResultSuccess, fmt.Sprintf("%s, %d bytes", f, len(data)))
		}
	}
	if err != nil {
		return nil, f, err
	}
	return data, f, nil
}

// Providers lists the configured adapters in name order.
func (e *Engine) Providers() []ProviderInfo {
	names := e.providers.Names()
	out := make([]ProviderInfo, 0, len(names))
	for _, name := range names {
		a, err := e.providers.Get(name)
		if err != nil {
			continue
		}
		out = append(out, ProviderInfo{Name: name, Profile: a.Profile().Name})
	}
	return out
}

// ValidateCredentials checks the configured credentials of one provider.
func (e *Engine) ValidateCredentials(ctx context.Context, providerName string) (bool, error) {
	adapter, err := e.providers.Get(strings.TrimSpace(providerName))
	if err != nil {
		return false, err
	}
	return adapter.ValidateCredentials(ctx)
}

// CompanyInfo resolves a tax id through a provider's public registry.
func (e *Engine) CompanyInfo(ctx context.Context, providerName, taxID string) (*provider.CompanyInfo, error) {
	adapter, err := e.providers.Get(strings.TrimSpace(providerName))
	if err != nil {
		return nil, err
	}
	if err := canonical.ValidateTaxID(taxID); err != nil {
		return nil, err
	}
	if canonical.IsIndividualTaxID(taxID) {
		return nil, &canonical.ValidationError{Field: "tax_id", Message: "individuals have no registry entry"}
	}
	lookup, ok := provider.LookupCompany(adapter)
	if !ok {
		return nil, &NotSupportedError{Provider: adapter.Name(), Operation: "company lookup"}
	}
	return lookup.GetCompanyInfo(ctx, canonical.NormalizeTaxID(taxID))
}
