package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fiscalsync/internal/provider"
	"github.com/roach88/fiscalsync/internal/retry"
	"github.com/roach88/fiscalsync/internal/store"
	"github.com/roach88/fiscalsync/internal/testutil"
)

// lookupless hides the optional company lookup of the wrapped adapter.
type lookupless struct {
	provider.Adapter
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, testutil.Fail(timeout()))
	ctx := context.Background()

	missing := env.engine.Status(ctx, "in_1", "anaf")
	require.Error(t, missing.Err)
	assert.Equal(t, CodeNotFound, missing.Error.Code)

	env.engine.Process(ctx, request("in_1"))

	res := env.engine.Status(ctx, "in_1", "anaf")
	require.NoError(t, res.Err)
	assert.Equal(t, store.StatusFailedRetryable, res.Status)
	assert.Equal(t, 1, res.AttemptCount)
	assert.Contains(t, res.LastError, "request timed out")
	require.NotNil(t, res.NextRetryAt)
	assert.Equal(t, testEpoch.Add(30*time.Minute), *res.NextRetryAt)
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, testutil.Fail(timeout()))
	ctx := context.Background()

	env.engine.Process(ctx, request("in_1"))

	h, err := env.engine.History(ctx, "in_1", "anaf")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailedRetryable, h.Record.Status)
	require.NotNil(t, h.RetryTask)
	assert.Equal(t, h.Record.ID, h.RetryTask.RecordID)
	require.Len(t, h.Events, 2)
	assert.Equal(t, store.ActionCreated, h.Events[0].Action)
	assert.Equal(t, store.ResultError, h.Events[1].Result)
	require.Len(t, h.Documents, 1)
	assert.NotEmpty(t, h.Documents[0].Checksum)

	_, err = env.engine.History(ctx, "in_9", "anaf")
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestRetry_UsesStoredRequest(t *testing.T) {
	env := newTestEnv(t, testutil.Fail(provider.ValidationRejectedError("anaf", "invalid CIF", nil)))
	ctx := context.Background()

	req := request("in_1")
	req.InvoiceNumber = "FS-0042"
	env.engine.Process(ctx, req)

	res := env.engine.Retry(ctx, "in_1", "anaf")
	require.NoError(t, res.Err)
	assert.Equal(t, store.StatusCompleted, res.Status)

	submitted := env.adapter.Submitted()
	require.Len(t, submitted, 2)
	assert.Equal(t, "FS-0042", submitted[1].Number)
	assert.Equal(t, "RO123456", submitted[1].Customer.TaxID)

	missing := env.engine.Retry(ctx, "in_9", "anaf")
	assert.Equal(t, CodeNotFound, missing.Error.Code)
}

func TestPing(t *testing.T) {
	env := newTestEnv(t)
	assert.NoError(t, env.engine.Ping(context.Background()))
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t, testutil.Fail(timeout()))
	ctx := context.Background()

	env.engine.Process(ctx, request("in_1"))

	res := env.engine.Cancel(ctx, "in_1", "anaf")
	require.NoError(t, res.Err)
	assert.Equal(t, store.StatusFailedPermanent, res.Status)

	rec := env.record(t, "in_1")
	assert.False(t, env.hasTask(t, rec))
	assert.Equal(t, "cancelled by operator", rec.LastError)
	assert.Contains(t, env.actions(t, rec), store.ActionManualCancel)

	again := env.engine.Cancel(ctx, "in_1", "anaf")
	require.Error(t, again.Err)
	assert.Equal(t, CodeInvalidState, again.Error.Code)
}

func TestCancel_CompletedRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.engine.Process(ctx, request("in_1")).Err)

	res := env.engine.Cancel(ctx, "in_1", "anaf")
	require.Error(t, res.Err)
	assert.True(t, IsStateError(res.Err))
	assert.Equal(t, store.StatusCompleted, env.record(t, "in_1").Status)
}

func TestRemoveRetryTask(t *testing.T) {
	env := newTestEnv(t, testutil.Fail(timeout()))
	ctx := context.Background()

	env.engine.Process(ctx, request("in_1"))
	queue, err := env.engine.ListRetryQueue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)

	res := env.engine.RemoveRetryTask(ctx, queue[0].ID)
	require.NoError(t, res.Err)
	assert.Equal(t, store.StatusFailedPermanent, res.Status)

	queue, err = env.engine.ListRetryQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue)

	missing := env.engine.RemoveRetryTask(ctx, "no-such-task")
	assert.Equal(t, CodeNotFound, missing.Error.Code)
}

func TestCheckProviderStatus_SettlesUpload(t *testing.T) {
	env := newTestEnv(t, testutil.Upload("upload-1"))
	ctx := context.Background()
	env.engine.Process(ctx, request("in_1"))

	env.adapter.SetStatus("upload-1", provider.StatusReport{Status: provider.StatusPending})
	res := env.engine.CheckProviderStatus(ctx, "in_1", "anaf")
	require.NoError(t, res.Err)
	assert.Equal(t, store.StatusProcessing, res.Status)
	assert.Equal(t, provider.StatusPending, res.ProviderStatus)

	env.adapter.SetStatus("upload-1", provider.StatusReport{Status: provider.StatusAccepted})
	res = env.engine.CheckProviderStatus(ctx, "in_1", "anaf")
	require.NoError(t, res.Err)
	assert.Equal(t, store.StatusCompleted, res.Status)

	actions := env.actions(t, env.record(t, "in_1"))
	assert.Equal(t, store.ActionStatusCheck, actions[len(actions)-1])
}

func TestCheckProviderStatus_Rejected(t *testing.T) {
	env := newTestEnv(t, testutil.Upload("upload-1"))
	ctx := context.Background()
	env.engine.Process(ctx, request("in_1"))

	env.adapter.SetStatus("upload-1", provider.StatusReport{Status: provider.StatusRejected, Message: "E: CIF invalid"})
	res := env.engine.CheckProviderStatus(ctx, "in_1", "anaf")
	require.NoError(t, res.Err)
	assert.Equal(t, store.StatusFailedPermanent, res.Status)
	assert.Contains(t, res.LastError, "CIF invalid")
}

func TestCheckProviderStatus_NothingSubmitted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.engine.Process(ctx, request("in_missing"))

	res := env.engine.CheckProviderStatus(ctx, "in_missing", "anaf")
	require.Error(t, res.Err)
	assert.Equal(t, CodeInvalidState, res.Error.Code)
}

func TestCheckProviderStatus_ProviderUnavailable(t *testing.T) {
	env := newTestEnv(t, testutil.Upload("upload-1"))
	ctx := context.Background()
	env.engine.Process(ctx, request("in_1"))
	env.adapter.FailStatus(timeout())

	res := env.engine.CheckProviderStatus(ctx, "in_1", "anaf")
	require.Error(t, res.Err)
	assert.Equal(t, CodeTransient, res.Error.Code)
	assert.Equal(t, store.StatusProcessing, env.record(t, "in_1").Status)
}

func TestScheduler_SettlesAwaitingUploads(t *testing.T) {
	env := newTestEnv(t, testutil.Upload("upload-1"))
	ctx := context.Background()
	env.engine.Process(ctx, request("in_1"))

	sched := retry.NewScheduler(env.store, env.engine, retry.WithClock(env.clock.Now))
	report, err := sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Awaiting)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, store.StatusCompleted, env.record(t, "in_1").Status)
}

func TestDownload(t *testing.T) {
	env := newTestEnv(t, testutil.Accept("anaf-1"))
	ctx := context.Background()
	env.engine.Process(ctx, request("in_1"))
	env.adapter.SetFile("anaf-1", provider.FormatPDF, []byte("%PDF-1.7"))

	data, format, err := env.engine.Download(ctx, "anaf", "anaf-1", "pdf")
	require.NoError(t, err)
	assert.Equal(t, provider.FormatPDF, format)
	assert.Equal(t, []byte("%PDF-1.7"), data)
	assert.Contains(t, env.actions(t, env.record(t, "in_1")), store.ActionDownload)

	_, _, err = env.engine.Download(ctx, "anaf", "anaf-1", "docx")
	assert.Equal(t, CodeUnsupportedFormat, CodeOf(err))

	_, _, err = env.engine.Download(ctx, "anaf", "anaf-1", "zip")
	assert.Equal(t, CodeUnsupportedFormat, CodeOf(err))

	_, _, err = env.engine.Download(ctx, "oblio", "anaf-1", "pdf")
	assert.Equal(t, CodeUnknownProvider, CodeOf(err))
}

func TestProviders(t *testing.T) {
	env := newTestEnv(t)
	e := env.build(t, env.source, env.adapter, testutil.NewScriptedAdapter("smartbill"))

	infos := e.Providers()
	require.Len(t, infos, 2)
	assert.Equal(t, "anaf", infos[0].Name)
	assert.Equal(t, "cius-ro", infos[0].Profile)
	assert.Equal(t, "smartbill", infos[1].Name)
}

func TestValidateCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ok, err := env.engine.ValidateCredentials(ctx, "anaf")
	require.NoError(t, err)
	assert.True(t, ok)

	env.adapter.FailCredentials(provider.AuthenticationError("anaf", "invalid client secret", nil))
	ok, err = env.engine.ValidateCredentials(ctx, "anaf")
	assert.False(t, ok)
	assert.Equal(t, CodeAuthentication, CodeOf(err))
}

func TestCompanyInfo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.adapter.SetCompany(provider.CompanyInfo{TaxID: "RO123456", Name: "Acme SRL", VATPayer: true})

	info, err := env.engine.CompanyInfo(ctx, "anaf", " ro 123456 ")
	require.NoError(t, err)
	assert.Equal(t, "Acme SRL", info.Name)

	_, err = env.engine.CompanyInfo(ctx, "anaf", "RO999999")
	assert.Equal(t, CodeNotFound, CodeOf(err))

	_, err = env.engine.CompanyInfo(ctx, "anaf", "-")
	assert.Equal(t, CodeValidation, CodeOf(err))

	e := env.build(t, env.source, lookupless{testutil.NewScriptedAdapter("smartbill")})
	_, err = e.CompanyInfo(ctx, "smartbill", "RO123456")
	assert.Equal(t, CodeNotSupported, CodeOf(err))
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, testutil.Accept("anaf-1"), testutil.Fail(timeout()))
	ctx := context.Background()
	env.source.Put(testInvoice(t, "in_2"))

	env.engine.Process(ctx, request("in_1"))
	env.engine.Process(ctx, request("in_2"))

	stats, err := env.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[store.StatusCompleted])
	assert.Equal(t, 1, stats.ByStatus[store.StatusFailedRetryable])
	assert.Equal(t, 1, stats.PendingRetries)

	recs, err := env.engine.ListRecords(ctx, store.RecordFilter{Status: store.StatusFailedRetryable})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "in_2", recs[0].SourceID)
}
