package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/fiscalsync/internal/canonical"
	"github.com/roach88/fiscalsync/internal/document"
	"github.com/roach88/fiscalsync/internal/engine"
	"github.com/roach88/fiscalsync/internal/provider"
	"github.com/roach88/fiscalsync/internal/retry"
	"github.com/roach88/fiscalsync/internal/source"
	"github.com/roach88/fiscalsync/internal/store"
	"github.com/roach88/fiscalsync/internal/testutil"
)

// DefaultProvider is used when a scenario names none.
const DefaultProvider = "anaf"

// Epoch is the fake clock's starting instant.
var Epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// Supplier issues every scenario document.
var Supplier = document.Supplier{
	Name:         "Fiscal Labs SRL",
	TaxID:        "RO18547290",
	Registration: "J40/1234/2020",
	Address: canonical.Address{
		Line1:      "Str. Exemplu 1",
		City:       "Bucuresti",
		PostalCode: "010101",
		Country:    "RO",
	},
}

// Harness holds the wiring of one scenario run.
type Harness struct {
	store     *store.Store
	engine    *engine.Engine
	scheduler *retry.Scheduler
	adapter   *testutil.ScriptedAdapter
	clock     *testutil.FakeClock
	provider  string
	logger    *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory ledger. An error is returned
// only when the scenario cannot be executed; failed expectations and
// assertions are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	fx, err := source.LoadFixtures(scenario.Fixtures)
	if err != nil {
		return nil, err
	}

	name := scenario.Provider
	if name == "" {
		name = DefaultProvider
	}
	script, err := buildScript(name, scenario.Script)
	if err != nil {
		return nil, err
	}
	adapter := testutil.NewScriptedAdapter(name, script...)
	set, err := provider.NewSet(adapter)
	if err != nil {
		return nil, err
	}

	clock := testutil.NewFakeClock(Epoch)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in scenarios

	eng, err := engine.New(st, fx, document.NewGenerator(Supplier), set,
		engine.WithClock(clock),
		engine.WithIDGenerator(testutil.NewSequenceIDs("id")),
		engine.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		store:     st,
		engine:    eng,
		scheduler: retry.NewScheduler(st, eng, retry.WithClock(clock.Now), retry.WithLogger(logger)),
		adapter:   adapter,
		clock:     clock,
		provider:  name,
		logger:    logger,
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Op(), err)
		}
	}

	if err := h.snapshot(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to snapshot ledger: %w", err)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// buildScript turns scripted answers into adapter steps.
func buildScript(name string, script []ScriptStep) ([]testutil.Step, error) {
	steps := make([]testutil.Step, 0, len(script))
	for i, sc := range script {
		switch {
		case sc.Accept != "":
			steps = append(steps, testutil.Accept(sc.Accept))
		case sc.Upload != "":
			steps = append(steps, testutil.Upload(sc.Upload))
		case sc.Fail == FailTransient:
			steps = append(steps, testutil.Fail(provider.TransientError(name, "scripted timeout", context.DeadlineExceeded)))
		case sc.Fail == FailRateLimited:
			var after time.Duration
			if sc.RetryAfter != "" {
				d, err := time.ParseDuration(sc.RetryAfter)
				if err != nil {
					return nil, fmt.Errorf("script[%d]: %w", i, err)
				}
				after = d
			}
			steps = append(steps, testutil.Fail(provider.RateLimitedError(name, "scripted rate limit", after)))
		case sc.Fail == FailAuthentication:
			steps = append(steps, testutil.Fail(provider.AuthenticationError(name, "scripted credentials rejected", nil)))
		case sc.Fail == FailValidationRejected:
			steps = append(steps, testutil.Fail(provider.ValidationRejectedError(name, "scripted schema violation", nil)))
		default:
			return nil, fmt.Errorf("script[%d]: nothing to play", i)
		}
	}
	return steps, nil
}

// executeStep plays one step and validates its expect clause.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	op := step.Op()

	var res *engine.Result
	switch op {
	case OpProcess:
		p := step.Process
		st := canonical.SourceType(p.SourceType)
		if st == "" {
			st = canonical.SourcePlatformInvoice
		}
		req := engine.Request{
			SourceType:    st,
			SourceID:      p.SourceID,
			Provider:      h.provider,
			CustomerTaxID: p.CustomerTaxID,
			InvoiceNumber: p.InvoiceNumber,
		}
		if p.Manual {
			res = h.engine.ManualRetry(ctx, req)
		} else {
			res = h.engine.Process(ctx, req)
		}

	case OpRetry:
		res = h.engine.Retry(ctx, step.Retry, h.provider)

	case OpCancel:
		res = h.engine.Cancel(ctx, step.Cancel, h.provider)

	case OpCheck:
		res = h.engine.CheckProviderStatus(ctx, step.Check, h.provider)

	case OpVerdict:
		v := step.Verdict
		h.adapter.SetStatus(v.ID, provider.StatusReport{Status: provider.Status(v.Status), Message: v.Message})
		result.AddTrace(TraceEvent{Step: i + 1, Op: op, Detail: v.ID + "=" + v.Status})
		return nil

	case OpAdvance:
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
		result.AddTrace(TraceEvent{Step: i + 1, Op: op, Detail: d.String()})
		return nil

	case OpSweep:
		report, err := h.scheduler.Sweep(ctx)
		if err != nil {
			return err
		}
		result.AddTrace(TraceEvent{
			Step: i + 1,
			Op:   op,
			Detail: fmt.Sprintf("due=%d retried=%d failed=%d awaiting=%d checked=%d",
				report.Due, report.Retried, report.Failed, report.Awaiting, report.Checked),
		})
		return nil

	default:
		return errors.New("no operation")
	}

	ev := TraceEvent{
		Step:      i + 1,
		Op:        op,
		SourceID:  res.SourceID,
		Status:    string(res.Status),
		Attempts:  res.AttemptCount,
		Duplicate: res.Duplicate,
	}
	if res.Error != nil {
		ev.Code = string(res.Error.Code)
	}
	result.AddTrace(ev)

	if step.Expect != nil {
		for _, msg := range checkExpect(step.Expect, ev) {
			result.AddError(fmt.Sprintf("step %d (%s %s): %s", i+1, op, ev.SourceID, msg))
		}
	}

	h.logger.Debug("step completed", "step", i+1, "op", op, "status", ev.Status, "code", ev.Code)
	return nil
}

func checkExpect(want *ExpectClause, got TraceEvent) []string {
	var errs []string
	if want.Status != got.Status {
		errs = append(errs, fmt.Sprintf("expected status %q, got %q", want.Status, got.Status))
	}
	if want.Code != got.Code {
		errs = append(errs, fmt.Sprintf("expected code %q, got %q", want.Code, got.Code))
	}
	if want.Attempts != nil && *want.Attempts != got.Attempts {
		errs = append(errs, fmt.Sprintf("expected %d attempts, got %d", *want.Attempts, got.Attempts))
	}
	if want.Duplicate != nil && *want.Duplicate != got.Duplicate {
		errs = append(errs, fmt.Sprintf("expected duplicate=%t, got %t", *want.Duplicate, got.Duplicate))
	}
	return errs
}

// snapshot copies the final ledger into result.
func (h *Harness) snapshot(ctx context.Context, result *Result) error {
	recs, err := h.store.ListRecords(ctx, store.RecordFilter{})
	if err != nil {
		return err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].SourceID < recs[j].SourceID })

	for _, rec := range recs {
		events, err := h.store.ListEvents(ctx, rec.ID)
		if err != nil {
			return err
		}
		snap := RecordSnapshot{
			SourceID:           rec.SourceID,
			Status:             string(rec.Status),
			Attempts:           rec.AttemptCount,
			ProviderDocumentID: rec.ProviderDocumentID,
			Events:             make([]string, 0, len(events)),
			LastError:          rec.LastError,
		}
		for _, ev := range events {
			snap.Events = append(snap.Events, string(ev.Action)+"/"+string(ev.Result))
		}
		if _, err := h.store.RetryTaskForRecord(ctx, rec.ID); err == nil {
			snap.RetryScheduled = true
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		result.Records = append(result.Records, snap)
	}
	result.Submissions = h.adapter.SubmitCount()
	return nil
}
