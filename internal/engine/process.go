package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/fiscalsync/internal/canonical"
	"github.com/roach88/fiscalsync/internal/provider"
	"github.com/roach88/fiscalsync/internal/source"
	"github.com/roach88/fiscalsync/internal/store"
)

// Process syncs one billing event to one provider.
//
// The ledger decides what happens first: a completed record is returned as
// is, a record in flight is rejected with AlreadyInProgressError, a record
// waiting for its scheduled retry is reported with its next retry time and a
// permanently failed record is only resubmitted when req.Manual is set.
// Otherwise the event is fetched, the document generated and submitted, and
// the outcome written to the ledger.
//
// Process never panics on bad input and always returns a Result.
func (e *Engine) Process(ctx context.Context, req Request) *Result {
	req.SourceID = strings.TrimSpace(req.SourceID)
	req.Provider = strings.TrimSpace(req.Provider)
	req.InvoiceNumber = strings.TrimSpace(req.InvoiceNumber)
	res := &Result{SourceType: req.SourceType, SourceID: req.SourceID, Provider: req.Provider}

	if err := validateRequest(req); err != nil {
		return res.fail(err)
	}
	adapter, err := e.providers.Get(req.Provider)
	if err != nil {
		return res.fail(err)
	}

	rec, created, err := e.store.EnsureRecord(ctx, store.NewRecord{
		ID:            e.ids.Generate(),
		SourceType:    string(req.SourceType),
		SourceID:      req.SourceID,
		Provider:      req.Provider,
		CustomerTaxID: canonical.NormalizeTaxID(req.CustomerTaxID),
		InvoiceNumber: req.InvoiceNumber,
		Now:           e.now(),
	})
	if err != nil {
		e.logger.Error("ensure record failed", "source_id", req.SourceID, "provider", req.Provider, "error", err)
		return res.fail(err)
	}
	res.fromRecord(rec)
	log := e.recordLogger(rec)
	if created {
		log.Debug("record created")
	}

	switch rec.Status {
	case store.StatusCompleted:
		e.appendEvent(ctx, rec, store.ActionDuplicateSkipped, store.ResultSuccess,
			"already completed as "+rec.ProviderDocumentID)
		log.Info("duplicate request skipped", "status", rec.Status)
		res.Duplicate = true
		return res

	case store.StatusProcessing:
		aip := &AlreadyInProgressError{SourceID: rec.SourceID, Provider: rec.Provider}
		e.appendEvent(ctx, rec, store.ActionRejectedInProgress, store.ResultError, aip.Error())
		return res.fail(aip)

	case store.StatusFailedRetryable:
		if !req.Manual {
			e.attachRetry(ctx, res)
			return res
		}
		return e.dispatch(ctx, adapter, rec, req, store.ActionManualRetry)

	case store.StatusFailedPermanent:
		if !req.Manual {
			se := &StateError{
				SourceID: rec.SourceID,
				Provider: rec.Provider,
				Status:   rec.Status,
				Message:  "record failed permanently; request a manual retry to resubmit",
			}
			e.appendEvent(ctx, rec, store.ActionDuplicateSkipped, store.ResultError, se.Error())
			return res.fail(se)
		}
		cleared := ""
		reset, err := e.store.Transition(ctx, store.Transition{
			RecordID:      rec.ID,
			From:          []store.Status{store.StatusFailedPermanent},
			To:            store.StatusPending,
			Now:           e.now(),
			ResetAttempts: true,
			LastError:     &cleared,
			Event: store.EventInput{
				Action: store.ActionManualRetry,
				Result: store.ResultSuccess,
				Detail: "reset for manual retry",
			},
		})
		if err != nil {
			return e.conflict(ctx, res, rec, err)
		}
		log.Info("record reset for manual retry")
		return e.dispatch(ctx, adapter, reset, req, store.ActionManualRetry)

	default:
		return e.dispatch(ctx, adapter, rec, req, store.ActionSubmitAttempt)
	}
}

// ManualRetry resubmits a failed record immediately, ignoring the retry
// schedule. The attempt is recorded as manual_retry.
func (e *Engine) ManualRetry(ctx context.Context, req Request) *Result {
	req.Manual = true
	return e.Process(ctx, req)
}

// ProcessBatch runs Process for every item against one provider. Items are
// independent: a failure is reported in its Result and the batch goes on.
// Spacing between provider calls comes from the provider's limiter.
func (e *Engine) ProcessBatch(ctx context.Context, br BatchRequest) *BatchResult {
	out := &BatchResult{
		Provider: br.Provider,
		Total:    len(br.Items),
		Results:  make([]*Result, 0, len(br.Items)),
	}
	for _, item := range br.Items {
		r := e.Process(ctx, Request{
			SourceType:    item.SourceType,
			SourceID:      item.SourceID,
			Provider:      br.Provider,
			CustomerTaxID: item.CustomerTaxID,
			InvoiceNumber: item.InvoiceNumber,
		})
		switch {
		case r.Duplicate:
			out.Skipped++
		case !r.OK(), r.Deferred():
			out.Failed++
		case r.Status == store.StatusProcessing:
			out.Pending++
		default:
			out.Succeeded++
		}
		out.Results = append(out.Results, r)
	}
	e.logger.Info("batch processed",
		"provider", br.Provider,
		"total", out.Total,
		"succeeded", out.Succeeded,
		"pending", out.Pending,
		"failed", out.Failed,
		"skipped", out.Skipped,
	)
	return out
}

// RetryDue re-submits the record owning task. It implements retry.Runner.
// A task whose record has already left failed_retryable is ignored.
func (e *Engine) RetryDue(ctx context.Context, task store.RetryTask) error {
	rec, err := e.store.GetRecord(ctx, task.RecordID)
	if err != nil {
		return fmt.Errorf("retry %s: %w", task.ID, err)
	}
	if rec.Status != store.StatusFailedRetryable {
		e.recordLogger(rec).Debug("stale retry task ignored", "task_id", task.ID, "status", rec.Status)
		return nil
	}
	adapter, err := e.providers.Get(rec.Provider)
	if err != nil {
		return err
	}
	req := Request{
		SourceType: canonical.SourceType(rec.SourceType),
		SourceID:   rec.SourceID,
		Provider:   rec.Provider,
	}
	return e.dispatch(ctx, adapter, rec, req, store.ActionRetryAttempt).Err
}

func validateRequest(req Request) error {
	if !req.SourceType.Valid() {
		return &canonical.ValidationError{Field: "source_type", Message: fmt.Sprintf("unknown source type %q", req.SourceType)}
	}
	if req.SourceID == "" {
		return &canonical.ValidationError{Field: "source_id", Message: "is required"}
	}
	if req.Provider == "" {
		return &canonical.ValidationError{Field: "provider", Message: "is required"}
	}
	if err := canonical.ValidateTaxID(req.CustomerTaxID); err != nil {
		return err
	}
	return nil
}

// dispatch fetches, generates and submits for rec, which must be pending or
// failed_retryable.
func (e *Engine) dispatch(ctx context.Context, adapter provider.Adapter, rec store.Record, req Request, action store.Action) *Result {
	from := rec.Status
	res := (&Result{}).fromRecord(rec)
	log := e.recordLogger(rec)

	taxID := canonical.NormalizeTaxID(req.CustomerTaxID)
	if taxID == "" {
		taxID = rec.CustomerTaxID
	}
	number := req.InvoiceNumber
	if number == "" {
		number = rec.InvoiceNumber
	}

	st := canonical.SourceType(rec.SourceType)
	inv, err := e.source.FetchEvent(ctx, st, rec.SourceID)
	if err != nil {
		if errors.Is(err, source.ErrNotFound) {
			nf := &SourceNotFoundError{SourceType: st, SourceID: rec.SourceID}
			return e.failPermanently(ctx, res, rec, from, store.ActionSourceMissing, nf)
		}
		su := &SourceUnavailableError{SourceID: rec.SourceID, Err: err}
		log.Warn("source fetch failed", "error", err)
		if from == store.StatusFailedRetryable {
			return e.deferRetry(ctx, res, rec, action, su)
		}
		e.appendEvent(ctx, rec, action, store.ResultError, su.Error())
		return res.fail(su)
	}

	inv = inv.WithCustomerTaxID(taxID)
	if number != "" {
		inv.InvoiceNumberHint = number
	}
	doc, err := e.generator.Generate(inv, adapter.Profile())
	if err != nil {
		log.Warn("document generation failed", "error", err)
		return e.failPermanently(ctx, res, rec, from, store.ActionGenerationFailed, err)
	}
	res.DocumentNumber = doc.Number

	if _, err := e.store.SaveDocument(ctx, store.Document{
		RecordID:  rec.ID,
		Provider:  rec.Provider,
		Number:    doc.Number,
		Checksum:  doc.Checksum,
		Content:   doc.XML,
		CreatedAt: e.now(),
	}); err != nil {
		log.Error("save document failed", "error", err)
		return res.fail(err)
	}

	claimed, err := e.store.Transition(ctx, store.Transition{
		RecordID:          rec.ID,
		From:              []store.Status{from},
		To:                store.StatusProcessing,
		Now:               e.now(),
		IncrementAttempts: true,
		CustomerTaxID:     canonical.NormalizeTaxID(req.CustomerTaxID),
		InvoiceNumber:     req.InvoiceNumber,
	})
	if err != nil {
		return e.conflict(ctx, res, rec, err)
	}
	log.Info("submitting document",
		"attempt", claimed.AttemptCount,
		"number", doc.Number,
		"checksum", doc.Checksum,
	)

	sub, subErr := adapter.Submit(ctx, doc)

	// The outcome is recorded even when the caller has gone away.
	return e.recordOutcome(context.WithoutCancel(ctx), res, claimed, action, adapter.Name(), sub, subErr)
}

func (e *Engine) recordOutcome(ctx context.Context, res *Result, rec store.Record, action store.Action, providerName string, sub provider.SubmitResult, subErr error) *Result {
	log := e.recordLogger(rec)
	now := e.now()
	t := store.Transition{
		RecordID: rec.ID,
		From:     []store.Status{store.StatusProcessing},
		Now:      now,
	}

	if subErr == nil && sub.Status == provider.StatusRejected {
		subErr = provider.ValidationRejectedError(providerName, "document rejected", nil)
	}

	switch {
	case subErr == nil && sub.Status == provider.StatusPending:
		t.To = store.StatusProcessing
		t.ProviderDocumentID = sub.ProviderDocumentID
		t.Event = store.EventInput{
			Action: action,
			Result: store.ResultSuccess,
			Detail: "uploaded as " + sub.ProviderDocumentID + ", awaiting provider verdict",
		}

	case subErr == nil:
		cleared := ""
		t.To = store.StatusCompleted
		t.ProviderDocumentID = sub.ProviderDocumentID
		t.LastError = &cleared
		t.Event = store.EventInput{
			Action: action,
			Result: store.ResultSuccess,
			Detail: "accepted as " + sub.ProviderDocumentID,
		}

	case provider.IsRetryable(subErr):
		msg := subErr.Error()
		t.LastError = &msg
		next, ok := e.policy.Next(now, rec.AttemptCount, provider.RetryAfterOf(subErr))
		if ok {
			t.To = store.StatusFailedRetryable
			t.Retry = &store.RetrySchedule{
				TaskID:         e.ids.Generate(),
				NextEligibleAt: next,
				MaxAttempts:    e.policy.MaxAttempts,
			}
			t.Event = store.EventInput{Action: action, Result: store.ResultError, Detail: msg}
			res.NextRetryAt = &next
		} else {
			t.To = store.StatusFailedPermanent
			t.Event = store.EventInput{
				Action: action,
				Result: store.ResultError,
				Detail: fmt.Sprintf("%s; giving up after %d attempts", msg, rec.AttemptCount),
			}
		}

	default:
		msg := subErr.Error()
		t.To = store.StatusFailedPermanent
		t.LastError = &msg
		t.Event = store.EventInput{Action: action, Result: store.ResultError, Detail: msg}
	}

	out, err := e.store.Transition(ctx, t)
	if err != nil {
		log.Error("recording submission outcome failed",
			"provider_document_id", sub.ProviderDocumentID,
			"submit_error", subErr,
			"error", err,
		)
		return res.fail(err)
	}
	res.fromRecord(out)
	res.ProviderStatus = sub.Status

	if subErr != nil {
		log.Warn("submission failed",
			"status", out.Status,
			"attempt", out.AttemptCount,
			"error", subErr,
		)
		return res.fail(subErr)
	}
	log.Info("submission recorded",
		"status", out.Status,
		"attempt", out.AttemptCount,
		"provider_document_id", out.ProviderDocumentID,
	)
	return res
}

// failPermanently moves rec from its current status to failed_permanent
// because of cause and returns cause in res.
func (e *Engine) failPermanently(ctx context.Context, res *Result, rec store.Record, from store.Status, action store.Action, cause error) *Result {
	msg := cause.Error()
	out, err := e.store.Transition(ctx, store.Transition{
		RecordID:  rec.ID,
		From:      []store.Status{from},
		To:        store.StatusFailedPermanent,
		Now:       e.now(),
		LastError: &msg,
		Event:     store.EventInput{Action: action, Result: store.ResultError, Detail: msg},
	})
	if err != nil {
		e.recordLogger(rec).Warn("recording permanent failure failed", "cause", cause, "error", err)
		return res.fail(cause)
	}
	res.fromRecord(out)
	return res.fail(cause)
}

// deferRetry pushes the retry task of a failed_retryable record back by the
// delay of its last attempt. No submission happened, so the attempt count is
// left alone.
func (e *Engine) deferRetry(ctx context.Context, res *Result, rec store.Record, action store.Action, cause error) *Result {
	msg := cause.Error()
	next := e.now().Add(e.policy.Delay(rec.AttemptCount))
	out, err := e.store.Transition(ctx, store.Transition{
		RecordID:  rec.ID,
		From:      []store.Status{store.StatusFailedRetryable},
		To:        store.StatusFailedRetryable,
		Now:       e.now(),
		LastError: &msg,
		Retry: &store.RetrySchedule{
			TaskID:         e.ids.Generate(),
			NextEligibleAt: next,
			MaxAttempts:    e.policy.MaxAttempts,
		},
		Event: store.EventInput{Action: action, Result: store.ResultError, Detail: msg},
	})
	if err != nil {
		e.recordLogger(rec).Warn("rescheduling retry failed", "cause", cause, "error", err)
		return res.fail(cause)
	}
	res.fromRecord(out)
	res.NextRetryAt = &next
	return res.fail(cause)
}

// conflict turns a failed claim into the caller-facing error. A record that
// completed in the meantime is reported as a duplicate.
func (e *Engine) conflict(ctx context.Context, res *Result, rec store.Record, err error) *Result {
	if !errors.Is(err, store.ErrConflict) {
		return res.fail(err)
	}
	cur, gerr := e.store.GetRecord(ctx, rec.ID)
	if gerr == nil {
		res.fromRecord(cur)
		if cur.Status == store.StatusCompleted {
			res.Duplicate = true
			return res
		}
	}
	aip := &AlreadyInProgressError{SourceID: rec.SourceID, Provider: rec.Provider}
	e.appendEvent(ctx, rec, store.ActionRejectedInProgress, store.ResultError, aip.Error())
	return res.fail(aip)
}

func (e *Engine) attachRetry(ctx context.Context, res *Result) {
	task, err := e.store.RetryTaskForRecord(ctx, res.RecordID)
	if err != nil {
		return
	}
	next := task.NextEligibleAt
	res.NextRetryAt = &next
}

func (e *Engine) appendEvent(ctx context.Context, rec store.Record, action store.Action, result store.Result, detail string) {
	ev := store.EventInput{Action: action, Result: result, Detail: detail}
	if err := e.store.AppendEvent(ctx, rec.ID, ev, e.now()); err != nil {
		e.recordLogger(rec).Error("append event failed", "action", action, "error", err)
	}
}

func (e *Engine) recordLogger(rec store.Record) *slog.Logger {
	return e.logger.With("source_id", rec.SourceID, "provider", rec.Provider, "record_id", rec.ID)
}
